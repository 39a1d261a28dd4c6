// Package openaicompat 是所有 OpenAI 兼容提供商的通用实现。
// "openai" 提供商直接使用它；任何兼容网关（Groq、OpenRouter、
// Ollama、vLLM）把 BaseURL 指过来即可复用。
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/stageflow/internal/tlsutil"
	"github.com/BaSui01/stageflow/llm"
	"github.com/BaSui01/stageflow/llm/providers"
	"go.uber.org/zap"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultChatPath   = "/v1/chat/completions"
	defaultModelsPath = "/v1/models"
)

// Config OpenAI 兼容提供商的配置
type Config struct {
	// ProviderName 提供商标识，如 "openai"
	ProviderName string

	// APIKey 鉴权密钥
	APIKey string

	// BaseURL API 基地址，如 "https://api.openai.com"
	BaseURL string

	// DefaultModel 请求未指定模型时使用
	DefaultModel string

	// FallbackModel 请求与 DefaultModel 均为空时使用
	FallbackModel string

	// Timeout HTTP 超时，0 取 30s
	Timeout time.Duration

	// EndpointPath 对话补全端点，空取 /v1/chat/completions
	EndpointPath string

	// ModelsEndpoint 模型列表端点，空取 /v1/models
	ModelsEndpoint string

	// BuildHeaders 自定义请求头钩子，nil 时用 Bearer 鉴权
	BuildHeaders func(req *http.Request, apiKey string)
}

// Provider OpenAI 兼容提供商的基础实现
type Provider struct {
	Cfg    Config
	Client *http.Client
	Logger *zap.Logger
}

// New 创建提供商实例并补齐配置默认值
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if cfg.EndpointPath == "" {
		cfg.EndpointPath = defaultChatPath
	}
	if cfg.ModelsEndpoint == "" {
		cfg.ModelsEndpoint = defaultModelsPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		Cfg:    cfg,
		Client: tlsutil.SecureHTTPClient(timeout),
		Logger: logger,
	}
}

// Name 返回提供商名
func (p *Provider) Name() string { return p.Cfg.ProviderName }

// Completion 执行一次非流式对话补全
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	body := providers.OpenAICompatRequest{
		Model:       providers.ChooseModel(req, p.Cfg.DefaultModel, p.Cfg.FallbackModel),
		Messages:    providers.ConvertMessagesToOpenAI(req.Messages),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}

	resp, err := p.post(ctx, p.Cfg.EndpointPath, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, providers.ReadErrorMessage(resp.Body), p.Name())
	}

	var oaResp providers.OpenAICompatResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaResp); err != nil {
		return nil, p.upstreamError(fmt.Sprintf("decode response: %v", err))
	}

	result := providers.ToLLMChatResponse(oaResp, p.Name())
	if oaResp.Created != 0 {
		result.CreatedAt = time.Unix(oaResp.Created, 0)
	}
	return result, nil
}

// HealthCheck 访问模型列表端点确认提供商可达
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(p.Cfg.ModelsEndpoint), nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	p.applyHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("%s health check: status=%d msg=%s", p.Name(), resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// post 序列化并发送 JSON 请求，网络层错误包装为可重试的上游错误
func (p *Provider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.applyHeaders(httpReq)

	resp, err := p.Client.Do(httpReq)
	if err != nil {
		return nil, p.upstreamError(err.Error())
	}
	return resp, nil
}

func (p *Provider) applyHeaders(req *http.Request) {
	if p.Cfg.BuildHeaders != nil {
		p.Cfg.BuildHeaders(req, p.Cfg.APIKey)
		return
	}
	req.Header.Set("Authorization", "Bearer "+p.Cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *Provider) endpoint(path string) string {
	return strings.TrimRight(p.Cfg.BaseURL, "/") + path
}

func (p *Provider) upstreamError(msg string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    msg,
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   p.Name(),
	}
}

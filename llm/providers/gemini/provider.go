// Package gemini 实现 Google Gemini 的 Provider。
// 与 OpenAI 系 API 的差异集中在三点：鉴权走 x-goog-api-key 请求头、
// system 消息要放进 systemInstruction 字段、assistant 角色名为 "model"。
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/stageflow/internal/tlsutil"
	"github.com/BaSui01/stageflow/llm"
	"github.com/BaSui01/stageflow/llm/providers"
	"go.uber.org/zap"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com"
	defaultTimeout = 60 * time.Second
)

// GeminiProvider Google Gemini 的 LLM Provider 实现
type GeminiProvider struct {
	cfg    providers.GeminiConfig
	client *http.Client
	logger *zap.Logger
}

// NewGeminiProvider 创建 Provider 并补齐默认值
func NewGeminiProvider(cfg providers.GeminiConfig, logger *zap.Logger) *GeminiProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GeminiProvider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
	}
}

func (p *GeminiProvider) Name() string { return "google" }

// =============================================================================
// 📦 Gemini 线格式
// =============================================================================

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	// Role 取值 user 或 model
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float32  `json:"temperature,omitempty"`
	TopP            float32  `json:"topP,omitempty"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
	Index        int           `json:"index"`
}

type geminiUsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

type geminiResponse struct {
	Candidates    []geminiCandidate    `json:"candidates"`
	UsageMetadata *geminiUsageMetadata `json:"usageMetadata,omitempty"`
	ModelVersion  string               `json:"modelVersion,omitempty"`
	ResponseID    string               `json:"responseId,omitempty"`
}

type geminiErrorResp struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// splitMessages 把统一格式拆成 systemInstruction 与对话内容。
// 多条 system 消息只保留最后一条，空内容消息直接丢弃。
func splitMessages(msgs []llm.Message) (*geminiContent, []geminiContent) {
	var system *geminiContent
	contents := make([]geminiContent, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			system = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			continue
		}
		if m.Content == "" {
			continue
		}
		role := string(m.Role)
		if role == "assistant" {
			role = "model"
		}
		contents = append(contents, geminiContent{
			Role:  role,
			Parts: []geminiPart{{Text: m.Content}},
		})
	}
	return system, contents
}

// =============================================================================
// 🚀 核心操作
// =============================================================================

// Completion 调用 generateContent 执行一次非流式补全
func (p *GeminiProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	system, contents := splitMessages(req.Messages)
	body := geminiRequest{
		Contents:          contents,
		SystemInstruction: system,
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			TopP:            req.TopP,
			MaxOutputTokens: req.MaxTokens,
			StopSequences:   req.Stop,
		},
	}

	path := fmt.Sprintf("/v1beta/models/%s:generateContent", req.Model)
	resp, err := p.post(ctx, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, providers.MapHTTPError(resp.StatusCode, readGeminiErrMsg(resp.Body), p.Name())
	}

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return nil, p.upstreamError(fmt.Sprintf("decode response: %v", err))
	}
	return p.toChatResponse(req.Model, gResp), nil
}

// HealthCheck 访问模型列表端点确认 API 可达
func (p *GeminiProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint("/v1beta/models"), nil)
	if err != nil {
		return nil, fmt.Errorf("build health request: %w", err)
	}
	p.applyHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg := readGeminiErrMsg(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency},
			fmt.Errorf("gemini health check: status=%d msg=%s", resp.StatusCode, msg)
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// =============================================================================
// 🔧 内部辅助
// =============================================================================

func (p *GeminiProvider) post(ctx context.Context, path string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint(path), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	p.applyHeaders(httpReq)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, p.upstreamError(err.Error())
	}
	return resp, nil
}

func (p *GeminiProvider) applyHeaders(req *http.Request) {
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

func (p *GeminiProvider) endpoint(path string) string {
	return strings.TrimRight(p.cfg.BaseURL, "/") + path
}

func (p *GeminiProvider) upstreamError(msg string) *llm.Error {
	return &llm.Error{
		Code:       llm.ErrUpstreamError,
		Message:    msg,
		HTTPStatus: http.StatusBadGateway,
		Retryable:  true,
		Provider:   p.Name(),
	}
}

func (p *GeminiProvider) toChatResponse(model string, gResp geminiResponse) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(gResp.Candidates))
	for _, cand := range gResp.Candidates {
		var sb strings.Builder
		for _, part := range cand.Content.Parts {
			sb.WriteString(part.Text)
		}
		choices = append(choices, llm.ChatChoice{
			Index:        cand.Index,
			FinishReason: cand.FinishReason,
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: sb.String(),
			},
		})
	}

	result := &llm.ChatResponse{
		ID:        gResp.ResponseID,
		Provider:  p.Name(),
		Model:     model,
		Choices:   choices,
		CreatedAt: time.Now(),
	}
	if gResp.UsageMetadata != nil {
		result.Usage = llm.ChatUsage{
			PromptTokens:     gResp.UsageMetadata.PromptTokenCount,
			CompletionTokens: gResp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      gResp.UsageMetadata.TotalTokenCount,
		}
	}
	return result
}

// readGeminiErrMsg 提取 Gemini 错误响应中的 message 字段
func readGeminiErrMsg(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var errResp geminiErrorResp
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return string(data)
}

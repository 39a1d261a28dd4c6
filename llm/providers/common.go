// Package providers 汇集各提供商共用的配置、错误映射与
// OpenAI 兼容的线格式类型。
package providers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/BaSui01/stageflow/llm"
)

// =============================================================================
// ⚙️ 共享配置
// =============================================================================

// BaseProviderConfig 所有提供商共享的基础配置
type BaseProviderConfig struct {
	APIKey  string        `json:"api_key" yaml:"api_key"`
	BaseURL string        `json:"base_url" yaml:"base_url"`
	Model   string        `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// ClaudeConfig Anthropic Claude 配置
type ClaudeConfig struct {
	BaseProviderConfig
	AnthropicVersion string `json:"anthropic_version,omitempty" yaml:"anthropic_version,omitempty"`
}

// GeminiConfig Google Gemini 配置
type GeminiConfig struct {
	BaseProviderConfig
}

// =============================================================================
// ❗ 错误映射
// =============================================================================

// statusOverloaded 部分提供商（Anthropic 等）用 529 表示模型过载
const statusOverloaded = 529

// MapHTTPError 把上游 HTTP 状态码映射为 llm.Error。
// 限流、网关类错误与模型过载标记为可重试。
func MapHTTPError(status int, msg string, provider string) *llm.Error {
	mk := func(code llm.ErrorCode, retryable bool) *llm.Error {
		return &llm.Error{
			Code:       code,
			Message:    msg,
			HTTPStatus: status,
			Retryable:  retryable,
			Provider:   provider,
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return mk(llm.ErrUnauthorized, false)
	case http.StatusForbidden:
		return mk(llm.ErrForbidden, false)
	case http.StatusTooManyRequests:
		return mk(llm.ErrRateLimited, true)
	case http.StatusBadRequest:
		if looksLikeQuotaError(msg) {
			return mk(llm.ErrQuotaExceeded, false)
		}
		return mk(llm.ErrInvalidRequest, false)
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return mk(llm.ErrUpstreamError, true)
	case statusOverloaded:
		return mk(llm.ErrModelOverloaded, true)
	default:
		return mk(llm.ErrUpstreamError, status >= 500)
	}
}

// looksLikeQuotaError 判断 400 响应是否其实是配额或余额问题
func looksLikeQuotaError(msg string) bool {
	lower := strings.ToLower(msg)
	for _, kw := range []string{"quota", "credit", "limit"} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// ReadErrorMessage 从错误响应体中提取人类可读的消息。
// 优先解析 {"error": {...}} 结构，解析不了就原样返回正文。
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}

	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Message != "" {
		if envelope.Error.Type != "" {
			return fmt.Sprintf("%s (type: %s)", envelope.Error.Message, envelope.Error.Type)
		}
		return envelope.Error.Message
	}
	return string(data)
}

// =============================================================================
// 📦 OpenAI 兼容线格式
// =============================================================================

// OpenAICompatMessage OpenAI 兼容的消息格式
type OpenAICompatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Name    string `json:"name,omitempty"`
}

// OpenAICompatRequest OpenAI 兼容的对话补全请求
type OpenAICompatRequest struct {
	Model       string                `json:"model"`
	Messages    []OpenAICompatMessage `json:"messages"`
	MaxTokens   int                   `json:"max_tokens,omitempty"`
	Temperature float32               `json:"temperature,omitempty"`
	TopP        float32               `json:"top_p,omitempty"`
	Stop        []string              `json:"stop,omitempty"`
	Stream      bool                  `json:"stream,omitempty"`
}

// OpenAICompatChoice 响应中的单个候选
type OpenAICompatChoice struct {
	Index        int                 `json:"index"`
	FinishReason string              `json:"finish_reason"`
	Message      OpenAICompatMessage `json:"message"`
}

// OpenAICompatUsage 响应中的 token 用量
type OpenAICompatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAICompatResponse OpenAI 兼容的对话补全响应
type OpenAICompatResponse struct {
	ID      string               `json:"id"`
	Model   string               `json:"model"`
	Choices []OpenAICompatChoice `json:"choices"`
	Usage   *OpenAICompatUsage   `json:"usage,omitempty"`
	Created int64                `json:"created,omitempty"`
}

// ConvertMessagesToOpenAI 把 llm.Message 转成 OpenAI 兼容格式
func ConvertMessagesToOpenAI(msgs []llm.Message) []OpenAICompatMessage {
	out := make([]OpenAICompatMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, OpenAICompatMessage{
			Role:    string(m.Role),
			Name:    m.Name,
			Content: m.Content,
		})
	}
	return out
}

// ToLLMChatResponse 把 OpenAI 兼容响应转成 llm.ChatResponse
func ToLLMChatResponse(oa OpenAICompatResponse, provider string) *llm.ChatResponse {
	choices := make([]llm.ChatChoice, 0, len(oa.Choices))
	for _, c := range oa.Choices {
		choices = append(choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: c.FinishReason,
			Message: llm.Message{
				Role:    llm.RoleAssistant,
				Content: c.Message.Content,
				Name:    c.Message.Name,
			},
		})
	}
	resp := &llm.ChatResponse{
		ID:       oa.ID,
		Provider: provider,
		Model:    oa.Model,
		Choices:  choices,
	}
	if oa.Usage != nil {
		resp.Usage = llm.ChatUsage{
			PromptTokens:     oa.Usage.PromptTokens,
			CompletionTokens: oa.Usage.CompletionTokens,
			TotalTokens:      oa.Usage.TotalTokens,
		}
	}
	return resp
}

// ChooseModel 选择请求模型，空时依次退到默认模型与兜底模型
func ChooseModel(req *llm.ChatRequest, defaultModel, fallbackModel string) string {
	if req != nil && req.Model != "" {
		return req.Model
	}
	if defaultModel != "" {
		return defaultModel
	}
	return fallbackModel
}

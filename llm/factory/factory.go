// Package factory 按名称创建 LLM Provider 实例。
// 它导入全部 provider 子包并把字符串名映射到构造函数，
// 避免这段逻辑放进 llm 包造成的循环导入。
package factory

import (
	"fmt"
	"time"

	"github.com/BaSui01/stageflow/llm"
	"github.com/BaSui01/stageflow/llm/providers"
	claude "github.com/BaSui01/stageflow/llm/providers/anthropic"
	"github.com/BaSui01/stageflow/llm/providers/gemini"
	"github.com/BaSui01/stageflow/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// 默认模型配置：Agent 未配置 modelConfig 时引擎回退到这里
const (
	DefaultProviderName = "openai"
	DefaultModel        = "gpt-4o-mini"
	DefaultTemperature  = 0.7
	DefaultMaxTokens    = 1024
)

// ProviderConfig 工厂接受的通用配置。
// 扁平结构，提供商特有字段走 Extra
type ProviderConfig struct {
	APIKey  string         `json:"api_key" yaml:"api_key"`
	BaseURL string         `json:"base_url" yaml:"base_url"`
	Model   string         `json:"model,omitempty" yaml:"model,omitempty"`
	Timeout time.Duration  `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Extra   map[string]any `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// extraString 读取 Extra 中的字符串字段，缺失或类型不符返回空串
func (c ProviderConfig) extraString(key string) string {
	if c.Extra == nil {
		return ""
	}
	v, _ := c.Extra[key].(string)
	return v
}

// NewProviderFromConfig 按名称创建 Provider。
//
// 内置名称: openai, anthropic, claude, google, gemini。
// 其它名称按通用 OpenAI 兼容提供商处理（Groq、OpenRouter、
// Ollama、vLLM 等），此时必须提供 base_url。
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	base := providers.BaseProviderConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: cfg.Timeout,
	}

	switch name {
	case "openai":
		oc := newCompatConfig("openai", cfg)
		if oc.BaseURL == "" {
			oc.BaseURL = "https://api.openai.com"
		}
		return openaicompat.New(oc, logger), nil

	case "anthropic", "claude":
		cc := providers.ClaudeConfig{
			BaseProviderConfig: base,
			AnthropicVersion:   cfg.extraString("anthropic_version"),
		}
		return claude.NewClaudeProvider(cc, logger), nil

	case "google", "gemini":
		return gemini.NewGeminiProvider(providers.GeminiConfig{BaseProviderConfig: base}, logger), nil

	default:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("unknown provider %q: built-in provider not found, and base_url is required for generic OpenAI-compatible provider", name)
		}
		oc := newCompatConfig(name, cfg)
		oc.EndpointPath = cfg.extraString("endpoint_path")
		oc.ModelsEndpoint = cfg.extraString("models_endpoint")
		logger.Info("creating generic OpenAI-compatible provider",
			zap.String("provider", name),
			zap.String("base_url", cfg.BaseURL))
		return openaicompat.New(oc, logger), nil
	}
}

func newCompatConfig(name string, cfg ProviderConfig) openaicompat.Config {
	return openaicompat.Config{
		ProviderName: name,
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		DefaultModel: cfg.Model,
		Timeout:      cfg.Timeout,
	}
}

// SupportedProviders 返回内置提供商名称。
// 不在列表内的名称会按通用 OpenAI 兼容提供商接入
func SupportedProviders() []string {
	return []string{"openai", "anthropic", "claude", "google", "gemini"}
}

// =============================================================================
// 📋 批量注册
// =============================================================================

// RegistryConfig 描述一组提供商及其中的默认项
type RegistryConfig struct {
	// Default 默认提供商名，须是 Providers 中的键
	Default string `json:"default" yaml:"default"`
	// Providers 提供商名到配置的映射
	Providers map[string]ProviderConfig `json:"providers" yaml:"providers"`
}

// NewRegistryFromConfig 按配置批量创建并注册提供商。
// 单个提供商初始化失败只记 Warn 并跳过，不中断其它注册
func NewRegistryFromConfig(cfg RegistryConfig, logger *zap.Logger) (*llm.ProviderRegistry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	reg := llm.NewProviderRegistry()
	for name, pcfg := range cfg.Providers {
		p, err := NewProviderFromConfig(name, pcfg, logger)
		if err != nil {
			logger.Warn("skipping provider: initialization failed",
				zap.String("provider", name),
				zap.Error(err))
			continue
		}
		reg.Register(name, p)
		logger.Info("provider registered", zap.String("provider", name))
	}

	if cfg.Default != "" {
		if err := reg.SetDefault(cfg.Default); err != nil {
			return reg, fmt.Errorf("set default provider %q: %w", cfg.Default, err)
		}
	}
	return reg, nil
}

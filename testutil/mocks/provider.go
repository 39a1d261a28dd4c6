// 包 mocks 提供测试用的脚本化依赖实现。
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/stageflow/llm"
)

// ScriptedProvider 按脚本顺序返回预设响应的 llm.Provider 实现。
// 每次 Completion 消费脚本中的下一条；脚本耗尽后复用最后一条。
// Err 非空的条目返回错误，用于注入失败。
type ScriptedProvider struct {
	mu       sync.Mutex
	name     string
	script   []ScriptedResponse
	index    int
	requests []*llm.ChatRequest
}

// ScriptedResponse 是脚本中的一条预设响应
type ScriptedResponse struct {
	Content string
	Usage   llm.ChatUsage
	Err     error
}

// NewScriptedProvider 创建脚本化 Provider
func NewScriptedProvider(name string, script ...ScriptedResponse) *ScriptedProvider {
	return &ScriptedProvider{name: name, script: script}
}

// Reply 便捷构造一条文本响应
func Reply(content string) ScriptedResponse {
	return ScriptedResponse{
		Content: content,
		Usage:   llm.ChatUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}
}

// Fail 便捷构造一条错误响应
func Fail(err error) ScriptedResponse {
	return ScriptedResponse{Err: err}
}

// Completion 返回脚本中的下一条响应并记录请求
func (p *ScriptedProvider) Completion(_ context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.requests = append(p.requests, req)
	if len(p.script) == 0 {
		return nil, fmt.Errorf("scripted provider %s has no responses", p.name)
	}

	entry := p.script[p.index]
	if p.index < len(p.script)-1 {
		p.index++
	}

	if entry.Err != nil {
		return nil, entry.Err
	}
	return &llm.ChatResponse{
		ID:       fmt.Sprintf("scripted-%d", len(p.requests)),
		Provider: p.name,
		Model:    req.Model,
		Choices: []llm.ChatChoice{
			{Message: llm.Message{Role: llm.RoleAssistant, Content: entry.Content}},
		},
		Usage:     entry.Usage,
		CreatedAt: time.Now(),
	}, nil
}

// HealthCheck 恒为健康
func (p *ScriptedProvider) HealthCheck(context.Context) (*llm.HealthStatus, error) {
	return &llm.HealthStatus{Healthy: true}, nil
}

// Name 返回 Provider 标识
func (p *ScriptedProvider) Name() string { return p.name }

// Requests 返回已记录请求的副本
func (p *ScriptedProvider) Requests() []*llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*llm.ChatRequest, len(p.requests))
	copy(out, p.requests)
	return out
}

// CallCount 返回 Completion 被调用的次数
func (p *ScriptedProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// 包 api 定义 HTTP 层的请求与响应类型。
package api

import (
	"time"

	"github.com/BaSui01/stageflow/store"
)

// =============================================================================
// 📨 入站消息类型
// =============================================================================

// WebhookMessageRequest 是渠道网关推送的入站消息。
// Identity 同时作为会话线程 ID；MessageID 用于已读回执。
type WebhookMessageRequest struct {
	AgentID   string `json:"agent_id"`
	UserID    string `json:"user_id,omitempty"`
	Identity  string `json:"identity"`
	Text      string `json:"text"`
	MessageID string `json:"message_id,omitempty"`
}

// WebhookMessageResponse 表示消息已进入防抖缓冲
type WebhookMessageResponse struct {
	Queued  bool `json:"queued"`
	Pending int  `json:"pending"` // 当前缓冲中的消息数
}

// ProcessRequest 是同步处理一轮对话的请求（绕过防抖器，测试与
// 内部工具使用）
type ProcessRequest struct {
	AgentID  string `json:"agent_id"`
	UserID   string `json:"user_id,omitempty"`
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
}

// ProcessResponse 是同步处理的结果
type ProcessResponse struct {
	Reply string `json:"reply"`
}

// =============================================================================
// 🎭 代理管理类型
// =============================================================================

// StageSpec 是创建代理时的阶段定义
type StageSpec struct {
	Name              string   `json:"name"`
	Order             int      `json:"order"`
	Type              string   `json:"type,omitempty"`
	Instructions      string   `json:"instructions,omitempty"`
	RequiredVariables []string `json:"required_variables,omitempty"`
}

// CreateAgentRequest 创建代理及其漏斗阶段
type CreateAgentRequest struct {
	Name           string             `json:"name"`
	CompanyName    string             `json:"company_name,omitempty"`
	Tone           string             `json:"tone,omitempty"`
	Personality    string             `json:"personality,omitempty"`
	Language       string             `json:"language,omitempty"`
	CompanyProfile string             `json:"company_profile,omitempty"`
	PromptPrefix   string             `json:"prompt_prefix,omitempty"`
	ModelConfig    *store.ModelConfig `json:"model_config,omitempty"`
	Stages         []StageSpec        `json:"stages,omitempty"`
}

// AgentResponse 是代理详情
type AgentResponse struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	CompanyName    string            `json:"company_name,omitempty"`
	Tone           string            `json:"tone,omitempty"`
	Personality    string            `json:"personality,omitempty"`
	Language       string            `json:"language"`
	CompanyProfile string            `json:"company_profile,omitempty"`
	ModelConfig    store.ModelConfig `json:"model_config"`
	Active         bool              `json:"active"`
	Stages         []StageResponse   `json:"stages,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// StageResponse 是阶段详情
type StageResponse struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	Order             int      `json:"order"`
	Type              string   `json:"type"`
	Instructions      string   `json:"instructions,omitempty"`
	RequiredVariables []string `json:"required_variables,omitempty"`
}

// AgentListResponse 是代理列表
type AgentListResponse struct {
	Agents []AgentResponse `json:"agents"`
}

// CreateKnowledgeRequest 为代理新增知识库文档
type CreateKnowledgeRequest struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// KnowledgeResponse 是知识库文档详情
type KnowledgeResponse struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
}

// =============================================================================
// 💬 会话查询类型
// =============================================================================

// SessionResponse 是会话状态快照
type SessionResponse struct {
	ID             string            `json:"id"`
	AgentID        string            `json:"agent_id"`
	UserID         string            `json:"user_id"`
	ThreadID       string            `json:"thread_id"`
	CurrentStageID string            `json:"current_stage_id"`
	StageHistory   []string          `json:"stage_history"`
	Variables      map[string]string `json:"variables"`
	Turns          int               `json:"turns"` // 历史消息对数
	UpdatedAt      time.Time         `json:"updated_at"`
}

// =============================================================================
// 🩺 健康检查类型
// =============================================================================

// HealthResponse 是健康检查结果
type HealthResponse struct {
	Status    string            `json:"status"` // healthy / degraded / unhealthy
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ============ 🎭 阶段类型 ============

// StageType 表示漏斗阶段的类型。
// schedule 与 transfer 作为可跳转目标，与其在漏斗中的位置无关。
type StageType string

const (
	StageTypeIdentification StageType = "identification" // 身份识别（收集姓名、行业等）
	StageTypeDiagnosis      StageType = "diagnosis"      // 需求诊断（挖掘痛点）
	StageTypeSchedule       StageType = "schedule"       // 会议预约
	StageTypeTransfer       StageType = "transfer"       // 人工接管
	StageTypeCustom         StageType = "custom"         // 自定义阶段
)

// ============ 📦 JSONB 包装类型 ============

// StringList 是存储于 JSONB 列的字符串数组。
// Scan 同时兼容 []byte（PostgreSQL）与 string（SQLite）两种底层表示。
type StringList []string

// Value 实现 driver.Valuer
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (l *StringList) Scan(value any) error {
	return scanJSON(value, l, "[]")
}

// VariableMap 是会话变量表，存储于 JSONB 列的扁平 string→string 映射。
type VariableMap map[string]string

// Value 实现 driver.Valuer
func (m VariableMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (m *VariableMap) Scan(value any) error {
	return scanJSON(value, m, "{}")
}

// Get 返回变量值，不存在时返回空字符串
func (m VariableMap) Get(key string) string {
	if m == nil {
		return ""
	}
	return m[key]
}

// Has 判断变量是否存在且非空
func (m VariableMap) Has(key string) bool {
	return m.Get(key) != ""
}

// HistoryMessage 是会话历史中的一条消息
type HistoryMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageHistory 是存储于 JSONB 列的会话消息序列
type MessageHistory []HistoryMessage

// Value 实现 driver.Valuer
func (h MessageHistory) Value() (driver.Value, error) {
	if h == nil {
		return "[]", nil
	}
	data, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (h *MessageHistory) Scan(value any) error {
	return scanJSON(value, h, "[]")
}

// ModelConfig 是 Agent 的模型调用配置，存储于 JSONB 列。
// 字段为零值时由引擎在解析阶段填入默认值。
type ModelConfig struct {
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Value 实现 driver.Valuer
func (c ModelConfig) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (c *ModelConfig) Scan(value any) error {
	return scanJSON(value, c, "{}")
}

// scanJSON 将数据库返回的 JSONB 值反序列化到 dst，
// 空值时退化为 empty 给出的零形态。
func scanJSON(value any, dst any, empty string) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		data = []byte(empty)
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for JSON column: %T", value)
	}
	if len(data) == 0 {
		data = []byte(empty)
	}
	return json.Unmarshal(data, dst)
}

// ============ 🗂️ 数据模型 ============

// Agent 是一个会话代理的身份与模型配置，单轮对话中只读
type Agent struct {
	ID             string      `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string      `gorm:"size:255;not null" json:"name"`
	CompanyName    string      `gorm:"size:255;not null;default:''" json:"company_name"`
	Tone           string      `gorm:"size:64;not null;default:''" json:"tone"`             // 语气（如 "consultivo"）
	Personality    string      `gorm:"type:text;not null;default:''" json:"personality"`    // 人格描述
	Language       string      `gorm:"size:16;not null;default:'pt-BR'" json:"language"`    // 会话语言
	CompanyProfile string      `gorm:"type:text;not null;default:''" json:"company_profile"` // 公司简介，注入系统提示词
	PromptPrefix   string      `gorm:"type:text;not null;default:''" json:"prompt_prefix"`  // 系统提示词前缀
	ModelConfig    ModelConfig `gorm:"type:jsonb;not null" json:"model_config"`
	Active         bool        `gorm:"not null;default:true" json:"active"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// TableName 指定表名
func (Agent) TableName() string { return "agents" }

// Stage 是漏斗中的一个阶段，同一 Agent 下按 StageOrder 全序排列
type Stage struct {
	ID                string     `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID           string     `gorm:"type:uuid;not null;index:idx_stages_agent_id;uniqueIndex:uq_stages_agent_order" json:"agent_id"`
	Name              string     `gorm:"size:255;not null" json:"name"`
	StageOrder        int        `gorm:"not null;uniqueIndex:uq_stages_agent_order" json:"stage_order"`
	StageType         StageType  `gorm:"size:32;not null;default:'custom';column:stage_type" json:"stage_type"`
	Instructions      string     `gorm:"type:text;not null;default:''" json:"instructions"`
	RequiredVariables StringList `gorm:"type:jsonb;not null" json:"required_variables"` // 进入下一阶段前必须收集的变量名
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (Stage) TableName() string { return "stages" }

// Session 是一条会话线程的持久化状态。
// StageHistory 只追加不截断，末元素恒等于 CurrentStageID。
type Session struct {
	ID              string         `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID         string         `gorm:"type:uuid;not null;uniqueIndex:uq_sessions_thread;index:idx_sessions_agent_user" json:"agent_id"`
	UserID          string         `gorm:"size:255;not null;index:idx_sessions_agent_user" json:"user_id"`
	ThreadID        string         `gorm:"size:255;not null;uniqueIndex:uq_sessions_thread" json:"thread_id"`
	CurrentStageID  string         `gorm:"type:uuid;not null" json:"current_stage_id"`
	PreviousStageID *string        `gorm:"type:uuid" json:"previous_stage_id,omitempty"`
	StageHistory    StringList     `gorm:"type:jsonb;not null" json:"stage_history"`
	Variables       VariableMap    `gorm:"type:jsonb;not null" json:"variables"`
	History         MessageHistory `gorm:"type:jsonb;not null" json:"history"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// TableName 指定表名
func (Session) TableName() string { return "sessions" }

// KnowledgeDocument 是知识库文档，检索后注入提示词上下文
type KnowledgeDocument struct {
	ID        string     `gorm:"type:uuid;primaryKey" json:"id"`
	AgentID   string     `gorm:"type:uuid;not null;index:idx_knowledge_agent_id" json:"agent_id"`
	Title     string     `gorm:"size:255;not null" json:"title"`
	Content   string     `gorm:"type:text;not null" json:"content"`
	Tags      StringList `gorm:"type:jsonb;not null" json:"tags"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName 指定表名
func (KnowledgeDocument) TableName() string { return "knowledge_documents" }

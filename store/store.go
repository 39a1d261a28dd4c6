package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ============ ⚠️ 错误定义 ============

var (
	// ErrAgentNotFound 代理不存在
	ErrAgentNotFound = errors.New("agent not found")
	// ErrStageNotFound 阶段不存在
	ErrStageNotFound = errors.New("stage not found")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
	// ErrNoStages 代理未配置任何阶段
	ErrNoStages = errors.New("agent has no stages")
)

// ============ 🗄️ 存储层 ============

// Store 封装所有持久化读写。引擎在每轮对话中通过它重新读取与
// 回写会话状态，自身不跨调用持有权威副本。
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore 创建存储层实例
func NewStore(db *gorm.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:     db,
		logger: logger.With(zap.String("component", "store")),
	}
}

// DB 返回底层 gorm 连接，供迁移与健康检查使用
func (s *Store) DB() *gorm.DB {
	return s.db
}

// ============ 🎭 Agent ============

// CreateAgent 创建代理，ID 为空时自动生成
func (s *Store) CreateAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	if agent.Language == "" {
		agent.Language = "pt-BR"
	}
	if err := s.db.WithContext(ctx).Create(agent).Error; err != nil {
		return fmt.Errorf("create agent: %w", err)
	}
	return nil
}

// GetAgent 按 ID 加载代理
func (s *Store) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var agent Agent
	err := s.db.WithContext(ctx).First(&agent, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAgentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return &agent, nil
}

// ListAgents 列出全部代理
func (s *Store) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	return agents, nil
}

// UpdateAgent 全量保存代理
func (s *Store) UpdateAgent(ctx context.Context, agent *Agent) error {
	if err := s.db.WithContext(ctx).Save(agent).Error; err != nil {
		return fmt.Errorf("update agent: %w", err)
	}
	return nil
}

// ============ 🪜 Stage ============

// CreateStage 创建阶段，ID 为空时自动生成
func (s *Store) CreateStage(ctx context.Context, stage *Stage) error {
	if stage.ID == "" {
		stage.ID = uuid.NewString()
	}
	if stage.StageType == "" {
		stage.StageType = StageTypeCustom
	}
	if err := s.db.WithContext(ctx).Create(stage).Error; err != nil {
		return fmt.Errorf("create stage: %w", err)
	}
	return nil
}

// GetStage 按 ID 加载阶段
func (s *Store) GetStage(ctx context.Context, id string) (*Stage, error) {
	var stage Stage
	err := s.db.WithContext(ctx).First(&stage, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStageNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get stage: %w", err)
	}
	return &stage, nil
}

// ListStages 按 stage_order 升序返回代理的完整阶段目录
func (s *Store) ListStages(ctx context.Context, agentID string) ([]Stage, error) {
	var stages []Stage
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("stage_order ASC").
		Find(&stages).Error
	if err != nil {
		return nil, fmt.Errorf("list stages: %w", err)
	}
	return stages, nil
}

// ============ 💬 Session ============

// GetOrCreateSession 按 (agentID, threadID) 加载会话；不存在时以
// 代理序号最小的阶段为起点创建。代理没有阶段时返回 ErrNoStages。
func (s *Store) GetOrCreateSession(ctx context.Context, agentID, userID, threadID string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).
		First(&session, "agent_id = ? AND thread_id = ?", agentID, threadID).Error
	if err == nil {
		return &session, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get session: %w", err)
	}

	stages, err := s.ListStages(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(stages) == 0 {
		return nil, ErrNoStages
	}

	first := stages[0]
	session = Session{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		UserID:         userID,
		ThreadID:       threadID,
		CurrentStageID: first.ID,
		StageHistory:   StringList{first.ID},
		Variables:      VariableMap{},
		History:        MessageHistory{},
	}
	if err := s.db.WithContext(ctx).Create(&session).Error; err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("thread_id", threadID),
		zap.String("first_stage", first.Name))
	return &session, nil
}

// GetSession 按 (agentID, threadID) 加载会话
func (s *Store) GetSession(ctx context.Context, agentID, threadID string) (*Session, error) {
	var session Session
	err := s.db.WithContext(ctx).
		First(&session, "agent_id = ? AND thread_id = ?", agentID, threadID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// SaveSession 全量回写会话
func (s *Store) SaveSession(ctx context.Context, session *Session) error {
	if err := s.db.WithContext(ctx).Save(session).Error; err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// TransitionStage 将会话推进到 newStageID：previous 指向旧 current，
// 历史追加新阶段 ID，并立即持久化。内存中的 session 同步更新。
func (s *Store) TransitionStage(ctx context.Context, session *Session, newStageID string) error {
	prev := session.CurrentStageID
	session.PreviousStageID = &prev
	session.CurrentStageID = newStageID
	session.StageHistory = append(session.StageHistory, newStageID)

	if err := s.SaveSession(ctx, session); err != nil {
		return err
	}

	s.logger.Info("stage transition",
		zap.String("session_id", session.ID),
		zap.String("from_stage", prev),
		zap.String("to_stage", newStageID))
	return nil
}

// AppendHistory 追加会话消息并持久化
func (s *Store) AppendHistory(ctx context.Context, session *Session, msgs ...HistoryMessage) error {
	session.History = append(session.History, msgs...)
	return s.SaveSession(ctx, session)
}

// ============ 📚 知识库 ============

// CreateKnowledgeDocument 创建知识库文档，ID 为空时自动生成
func (s *Store) CreateKnowledgeDocument(ctx context.Context, doc *KnowledgeDocument) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if err := s.db.WithContext(ctx).Create(doc).Error; err != nil {
		return fmt.Errorf("create knowledge document: %w", err)
	}
	return nil
}

// ListKnowledgeDocuments 列出代理的全部知识库文档
func (s *Store) ListKnowledgeDocuments(ctx context.Context, agentID string) ([]KnowledgeDocument, error) {
	var docs []KnowledgeDocument
	err := s.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		Order("created_at ASC").
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("list knowledge documents: %w", err)
	}
	return docs, nil
}

// ============ 🧭 阶段目录辅助 ============

// FindStage 在目录中按 ID 查找阶段
func FindStage(stages []Stage, id string) (*Stage, bool) {
	for i := range stages {
		if stages[i].ID == id {
			return &stages[i], true
		}
	}
	return nil, false
}

// FindStageByType 返回目录中第一个指定类型的阶段
func FindStageByType(stages []Stage, t StageType) (*Stage, bool) {
	for i := range stages {
		if stages[i].StageType == t {
			return &stages[i], true
		}
	}
	return nil, false
}

// NextStage 返回目录顺序中 currentID 的后继阶段，不存在后继时返回 false
func NextStage(stages []Stage, currentID string) (*Stage, bool) {
	for i := range stages {
		if stages[i].ID == currentID {
			if i+1 < len(stages) {
				return &stages[i+1], true
			}
			return nil, false
		}
	}
	return nil, false
}

// StageIndex 返回阶段在目录中的下标，不存在时返回 -1
func StageIndex(stages []Stage, id string) int {
	for i := range stages {
		if stages[i].ID == id {
			return i
		}
	}
	return -1
}

// MergeVariables 将 src 中的非空值并入 dst，返回 dst。
// 空值不会覆盖已有内容。
func MergeVariables(dst VariableMap, src map[string]string) VariableMap {
	if dst == nil {
		dst = VariableMap{}
	}
	for k, v := range src {
		if v == "" {
			continue
		}
		dst[k] = v
	}
	return dst
}

package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/calendar"
	appconfig "github.com/BaSui01/stageflow/config"
	"github.com/BaSui01/stageflow/internal/metrics"
	"github.com/BaSui01/stageflow/llm"
	"github.com/BaSui01/stageflow/llm/factory"
	"github.com/BaSui01/stageflow/llm/tokenizer"
	"github.com/BaSui01/stageflow/store"
)

// ============ 🎭 阶段编排引擎 ============

// FallbackReply 是致命错误时调用方发送的固定降级消息
const FallbackReply = "Desculpe, estamos com uma instabilidade no momento. Pode tentar novamente em alguns instantes?"

// Retriever 是知识库检索能力的契约，返回与查询相关的文本片段
type Retriever interface {
	Retrieve(ctx context.Context, agentID, query string) ([]string, error)
}

// Config 是引擎配置
type Config struct {
	Engine   appconfig.EngineConfig
	Calendar appconfig.CalendarConfig
}

// Options 是引擎的构造依赖
type Options struct {
	Store     *store.Store
	Registry  *llm.ProviderRegistry
	Retriever Retriever
	Calendar  calendar.Service
	Metrics   *metrics.Collector
	Logger    *zap.Logger
	Config    Config
}

// Engine 驱动一轮完整对话：解析会话所处阶段、检测越序信号、
// 组装模型上下文、解读模型输出决定阶段推进，并触发预约副作用。
// 跨调用不持有会话的权威副本，每轮都经存储层重读重写。
type Engine struct {
	store     *store.Store
	registry  *llm.ProviderRegistry
	retriever Retriever
	calendar  calendar.Service
	metrics   *metrics.Collector
	logger    *zap.Logger
	cfg       Config
	location  *time.Location
}

// New 创建引擎实例
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("provider registry is required")
	}
	if opts.Retriever == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if opts.Calendar == nil {
		return nil, fmt.Errorf("calendar service is required")
	}
	if opts.Metrics == nil {
		return nil, fmt.Errorf("metrics collector is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	offsetSeconds, err := ParseUTCOffset(opts.Config.Calendar.UTCOffset)
	if err != nil {
		return nil, fmt.Errorf("calendar config: %w", err)
	}

	// 提示词 token 预算需要精确计数，未注册的模型退回估算器
	tokenizer.RegisterOpenAITokenizers()

	return &Engine{
		store:     opts.Store,
		registry:  opts.Registry,
		retriever: opts.Retriever,
		calendar:  opts.Calendar,
		metrics:   opts.Metrics,
		logger:    opts.Logger.With(zap.String("component", "engine")),
		cfg:       opts.Config,
		location:  time.FixedZone(opts.Config.Calendar.Timezone, offsetSeconds),
	}, nil
}

// modelParams 是解析默认值后的模型调用参数
type modelParams struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
}

// resolveModelParams 解析代理的模型配置，空字段填入默认值
func resolveModelParams(cfg store.ModelConfig) modelParams {
	p := modelParams{
		Provider:    cfg.Provider,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if p.Provider == "" {
		p.Provider = factory.DefaultProviderName
	}
	if p.Model == "" {
		p.Model = factory.DefaultModel
	}
	if p.Temperature == 0 {
		p.Temperature = factory.DefaultTemperature
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = factory.DefaultMaxTokens
	}
	return p
}

// ProcessMessage 处理一轮对话，返回要发给对方的回复文本。
// 这是外部传输层（webhook、聊天界面）唯一的入口。
func (e *Engine) ProcessMessage(ctx context.Context, userID, agentID, threadID, text string) (string, error) {
	start := time.Now()
	ctx, span := otel.Tracer("stageflow/engine").Start(ctx, "engine.ProcessMessage",
		trace.WithAttributes(
			attribute.String("agent.id", agentID),
			attribute.String("thread.id", threadID),
		))
	defer span.End()

	if e.cfg.Engine.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Engine.TurnTimeout)
		defer cancel()
	}

	// 1-2. 加载会话与阶段目录
	agent, err := e.store.GetAgent(ctx, agentID)
	if err != nil {
		return "", NewConfigurationError("load agent", err)
	}
	if !agent.Active {
		return "", NewConfigurationError(fmt.Sprintf("agent %s is inactive", agentID), nil)
	}

	session, err := e.store.GetOrCreateSession(ctx, agentID, userID, threadID)
	if err != nil {
		return "", NewConfigurationError("load session", err)
	}

	stages, err := e.store.ListStages(ctx, agentID)
	if err != nil {
		return "", NewConfigurationError("load stage catalog", err)
	}
	if len(stages) == 0 {
		return "", NewConfigurationError("agent has no stages", store.ErrNoStages)
	}

	originalStage, ok := store.FindStage(stages, session.CurrentStageID)
	if !ok {
		return "", NewConfigurationError(
			fmt.Sprintf("current stage %s not in agent catalog", session.CurrentStageID), nil)
	}

	// 3. 前置越序检查：购买意图跳转优先于必填变量预推进
	activeStage, intentJumped, err := e.preTurnOverride(ctx, session, originalStage, stages, text, agent.ID)
	if err != nil {
		return "", err
	}

	// 4. 知识库检索，失败降级为空上下文
	snippets := e.retrieveContext(ctx, agentID, text)

	// 5-6. 解析模型参数，组装提示词并生成回复
	model := resolveModelParams(agent.ModelConfig)
	provider, err := e.resolveProvider(model.Provider)
	if err != nil {
		return "", err
	}

	prompt := BuildPrompt(agent, activeStage, stages, session, snippets)
	if est, err := tokenizer.GetTokenizerOrEstimator(model.Model).CountTokens(prompt); err == nil {
		e.logger.Debug("prompt assembled",
			zap.String("session_id", session.ID),
			zap.String("stage", activeStage.Name),
			zap.Int("estimated_tokens", est))
	}

	reply, err := e.generateReply(ctx, provider, model, prompt, session, text)
	if err != nil {
		e.metrics.RecordTurn(agent.ID, string(activeStage.StageType), "error", time.Since(start))
		return "", err
	}

	now := time.Now().UTC()
	session.History = append(session.History,
		store.HistoryMessage{Role: "user", Content: text, CreatedAt: now},
		store.HistoryMessage{Role: "assistant", Content: reply, CreatedAt: now},
	)

	// 7-8. 分析并持久化：推进决策以本轮开始前的阶段为基准
	analysis := e.analyze(ctx, text, reply, originalStage, stages, session, provider, model)
	if len(analysis.Variables) > 0 {
		session.Variables = store.MergeVariables(session.Variables, analysis.Variables)
	}

	if e.shouldApplyAdvance(analysis, session, stages, intentJumped) {
		fromName := stageName(stages, session.CurrentStageID)
		if err := e.store.TransitionStage(ctx, session, analysis.NextStageID); err != nil {
			return "", fmt.Errorf("persist stage transition: %w", err)
		}
		e.metrics.RecordStageTransition(agent.ID, fromName, stageName(stages, analysis.NextStageID), "analyzer")
	} else if err := e.store.SaveSession(ctx, session); err != nil {
		return "", fmt.Errorf("persist session: %w", err)
	}

	// 9. 预约副作用，失败只记日志
	effectStage := activeStage
	if cur, found := store.FindStage(stages, session.CurrentStageID); found && cur.StageType == store.StageTypeSchedule {
		effectStage = cur
	}
	e.maybeScheduleMeeting(ctx, agent, session, effectStage)

	e.metrics.RecordTurn(agent.ID, string(activeStage.StageType), "success", time.Since(start))
	return reply, nil
}

// preTurnOverride 执行回复生成前的越序检查，返回本轮的活跃阶段。
// (a) 购买意图且目录存在预约阶段时直接跳转；(b) 否则启发式提取
// 变量，当前阶段必填变量齐备且变量集非空时预推进到目录后继。
// 两者都适用时 (a) 优先。
func (e *Engine) preTurnOverride(ctx context.Context, session *store.Session, current *store.Stage, stages []store.Stage, text, agentID string) (*store.Stage, bool, error) {
	if HasBuyingIntent(text) &&
		current.StageType != store.StageTypeSchedule &&
		current.StageType != store.StageTypeTransfer {
		if scheduleStage, ok := store.FindStageByType(stages, store.StageTypeSchedule); ok {
			if err := e.store.TransitionStage(ctx, session, scheduleStage.ID); err != nil {
				return nil, false, fmt.Errorf("persist intent jump: %w", err)
			}
			e.metrics.RecordStageTransition(agentID, current.Name, scheduleStage.Name, "buying_intent")
			e.logger.Info("buying intent jump",
				zap.String("session_id", session.ID),
				zap.String("to_stage", scheduleStage.Name))
			return scheduleStage, true, nil
		}
	}

	extracted := FoldSynonyms(ExtractHeuristics(text), session.Variables)
	if len(extracted) > 0 {
		session.Variables = store.MergeVariables(session.Variables, extracted)
		if err := e.store.SaveSession(ctx, session); err != nil {
			return nil, false, fmt.Errorf("persist extracted variables: %w", err)
		}
	}

	if len(session.Variables) > 0 && HasAllRequired(current, session.Variables) {
		if next, ok := store.NextStage(stages, current.ID); ok {
			if err := e.store.TransitionStage(ctx, session, next.ID); err != nil {
				return nil, false, fmt.Errorf("persist pre-advance: %w", err)
			}
			e.metrics.RecordStageTransition(agentID, current.Name, next.Name, "required_vars")
			e.logger.Info("required variables satisfied, pre-advancing",
				zap.String("session_id", session.ID),
				zap.String("to_stage", next.Name))
			return next, false, nil
		}
	}

	return current, false, nil
}

// retrieveContext 检索知识库片段，超出上限时截断，失败时降级为空
func (e *Engine) retrieveContext(ctx context.Context, agentID, query string) []string {
	snippets, err := e.retriever.Retrieve(ctx, agentID, query)
	if err != nil {
		e.logger.Warn("context retrieval failed, continuing without snippets",
			zap.String("agent_id", agentID),
			zap.Error(err))
		return nil
	}
	if limit := e.cfg.Engine.RetrievalLimit; limit > 0 && len(snippets) > limit {
		snippets = snippets[:limit]
	}
	return snippets
}

// resolveProvider 按名称解析 Provider，未注册时回退到默认 Provider
func (e *Engine) resolveProvider(name string) (llm.Provider, error) {
	if p, ok := e.registry.Get(name); ok {
		return p, nil
	}
	p, err := e.registry.Default()
	if err != nil {
		return nil, NewConfigurationError(fmt.Sprintf("provider %q not registered", name), err)
	}
	e.logger.Warn("provider not registered, using default", zap.String("provider", name))
	return p, nil
}

// generateReply 发起回复生成调用，会话历史窗口随系统提示词一并传入
func (e *Engine) generateReply(ctx context.Context, provider llm.Provider, model modelParams, prompt string, session *store.Session, userText string) (string, error) {
	messages := make([]llm.Message, 0, e.cfg.Engine.HistoryWindow+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt})

	history := session.History
	if window := e.cfg.Engine.HistoryWindow; window > 0 && len(history) > window {
		history = history[len(history)-window:]
	}
	for _, msg := range history {
		messages = append(messages, llm.Message{Role: llm.Role(msg.Role), Content: msg.Content})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: userText})

	callStart := time.Now()
	resp, err := provider.Completion(ctx, &llm.ChatRequest{
		Model:       model.Model,
		Messages:    messages,
		Temperature: float32(model.Temperature),
		MaxTokens:   model.MaxTokens,
	})
	duration := time.Since(callStart)

	if err != nil {
		e.metrics.RecordLLMRequest(model.Provider, model.Model, "error", duration, 0, 0)
		return "", fmt.Errorf("generate reply: %w", err)
	}
	e.metrics.RecordLLMRequest(model.Provider, model.Model, "success", duration,
		resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	return resp.FirstContent(), nil
}

// shouldApplyAdvance 决定分析结论是否落地。目标与当前阶段相同时
// 为空操作；购买意图已跳转的轮次里，分析器只允许再推进到人工接管，
// 避免把刚跳到的预约阶段拉回线性后继。
func (e *Engine) shouldApplyAdvance(analysis Analysis, session *store.Session, stages []store.Stage, intentJumped bool) bool {
	if !analysis.Advance || analysis.NextStageID == "" {
		return false
	}
	if analysis.NextStageID == session.CurrentStageID {
		return false
	}
	if intentJumped {
		target, ok := store.FindStage(stages, analysis.NextStageID)
		return ok && target.StageType == store.StageTypeTransfer
	}
	return true
}

func stageName(stages []store.Stage, id string) string {
	if st, ok := store.FindStage(stages, id); ok {
		return st.Name
	}
	return id
}

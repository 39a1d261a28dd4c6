package handlers

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/api"
	"github.com/BaSui01/stageflow/store"
)

// =============================================================================
// 🎭 代理管理处理器
// =============================================================================

// AgentHandler 管理代理、漏斗阶段与知识库文档
type AgentHandler struct {
	store  *store.Store
	logger *zap.Logger
}

// NewAgentHandler 创建代理管理处理器
func NewAgentHandler(st *store.Store, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		store:  st,
		logger: logger.With(zap.String("handler", "agent")),
	}
}

// HandleCreate 处理 POST /api/v1/agents
func (h *AgentHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateAgentRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", "name is required")
		return
	}

	agent := &store.Agent{
		Name:           req.Name,
		CompanyName:    req.CompanyName,
		Tone:           req.Tone,
		Personality:    req.Personality,
		Language:       req.Language,
		CompanyProfile: req.CompanyProfile,
		PromptPrefix:   req.PromptPrefix,
		Active:         true,
	}
	if req.ModelConfig != nil {
		agent.ModelConfig = *req.ModelConfig
	}
	if err := h.store.CreateAgent(r.Context(), agent); err != nil {
		WriteError(w, h.logger, err)
		return
	}

	stages := make([]store.Stage, 0, len(req.Stages))
	for _, spec := range req.Stages {
		stage := store.Stage{
			AgentID:           agent.ID,
			Name:              spec.Name,
			StageOrder:        spec.Order,
			StageType:         store.StageType(spec.Type),
			Instructions:      spec.Instructions,
			RequiredVariables: store.StringList(spec.RequiredVariables),
		}
		if err := h.store.CreateStage(r.Context(), &stage); err != nil {
			WriteError(w, h.logger, err)
			return
		}
		stages = append(stages, stage)
	}

	h.logger.Info("agent created",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.Int("stages", len(stages)))

	WriteSuccess(w, http.StatusCreated, toAgentResponse(agent, stages))
}

// HandleGet 处理 GET /api/v1/agents/{id}
func (h *AgentHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", "agent ID is required")
		return
	}

	agent, err := h.store.GetAgent(r.Context(), agentID)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}
	stages, err := h.store.ListStages(r.Context(), agentID)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toAgentResponse(agent, stages))
}

// HandleList 处理 GET /api/v1/agents
func (h *AgentHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	resp := api.AgentListResponse{Agents: make([]api.AgentResponse, 0, len(agents))}
	for i := range agents {
		resp.Agents = append(resp.Agents, toAgentResponse(&agents[i], nil))
	}
	WriteSuccess(w, http.StatusOK, resp)
}

// HandleCreateKnowledge 处理 POST /api/v1/agents/{id}/knowledge
func (h *AgentHandler) HandleCreateKnowledge(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", "agent ID is required")
		return
	}

	var req api.CreateKnowledgeRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if missing := firstMissingField([]requiredField{
		{"title", req.Title},
		{"content", req.Content},
	}); missing != "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", missing+" is required")
		return
	}

	// 确认代理存在再写入文档
	if _, err := h.store.GetAgent(r.Context(), agentID); err != nil {
		WriteError(w, h.logger, err)
		return
	}

	doc := &store.KnowledgeDocument{
		AgentID: agentID,
		Title:   req.Title,
		Content: req.Content,
		Tags:    store.StringList(req.Tags),
	}
	if err := h.store.CreateKnowledgeDocument(r.Context(), doc); err != nil {
		WriteError(w, h.logger, err)
		return
	}

	WriteSuccess(w, http.StatusCreated, toKnowledgeResponse(doc))
}

// HandleListKnowledge 处理 GET /api/v1/agents/{id}/knowledge
func (h *AgentHandler) HandleListKnowledge(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if agentID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", "agent ID is required")
		return
	}

	docs, err := h.store.ListKnowledgeDocuments(r.Context(), agentID)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	resp := make([]api.KnowledgeResponse, 0, len(docs))
	for i := range docs {
		resp = append(resp, toKnowledgeResponse(&docs[i]))
	}
	WriteSuccess(w, http.StatusOK, resp)
}

// HandleGetSession 处理 GET /api/v1/agents/{id}/sessions/{thread}
func (h *AgentHandler) HandleGetSession(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	threadID := r.PathValue("thread")
	if agentID == "" || threadID == "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", "agent ID and thread ID are required")
		return
	}

	session, err := h.store.GetSession(r.Context(), agentID, threadID)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	WriteSuccess(w, http.StatusOK, api.SessionResponse{
		ID:             session.ID,
		AgentID:        session.AgentID,
		UserID:         session.UserID,
		ThreadID:       session.ThreadID,
		CurrentStageID: session.CurrentStageID,
		StageHistory:   session.StageHistory,
		Variables:      session.Variables,
		Turns:          len(session.History) / 2,
		UpdatedAt:      session.UpdatedAt,
	})
}

// =============================================================================
// 🔧 转换函数
// =============================================================================

func toAgentResponse(agent *store.Agent, stages []store.Stage) api.AgentResponse {
	resp := api.AgentResponse{
		ID:             agent.ID,
		Name:           agent.Name,
		CompanyName:    agent.CompanyName,
		Tone:           agent.Tone,
		Personality:    agent.Personality,
		Language:       agent.Language,
		CompanyProfile: agent.CompanyProfile,
		ModelConfig:    agent.ModelConfig,
		Active:         agent.Active,
		CreatedAt:      agent.CreatedAt,
	}
	for _, st := range stages {
		resp.Stages = append(resp.Stages, api.StageResponse{
			ID:                st.ID,
			Name:              st.Name,
			Order:             st.StageOrder,
			Type:              string(st.StageType),
			Instructions:      st.Instructions,
			RequiredVariables: st.RequiredVariables,
		})
	}
	return resp
}

func toKnowledgeResponse(doc *store.KnowledgeDocument) api.KnowledgeResponse {
	return api.KnowledgeResponse{
		ID:      doc.ID,
		Title:   doc.Title,
		Content: doc.Content,
		Tags:    doc.Tags,
	}
}

package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/api"
	"github.com/BaSui01/stageflow/engine"
)

// =============================================================================
// 💬 同步消息处理器
// =============================================================================

// MessageHandler 同步处理一轮对话，绕过防抖缓冲。
// 供集成测试与内部工具直接驱动引擎。
type MessageHandler struct {
	engine *engine.Engine
	logger *zap.Logger
}

// NewMessageHandler 创建同步消息处理器
func NewMessageHandler(eng *engine.Engine, logger *zap.Logger) *MessageHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MessageHandler{
		engine: eng,
		logger: logger.With(zap.String("handler", "message")),
	}
}

// HandleProcess 处理 POST /messages/process
func (h *MessageHandler) HandleProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}

	var req api.ProcessRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if missing := firstMissingField([]requiredField{
		{"agent_id", req.AgentID},
		{"thread_id", req.ThreadID},
		{"text", req.Text},
	}); missing != "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", missing+" is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = req.ThreadID
	}

	reply, err := h.engine.ProcessMessage(r.Context(), userID, req.AgentID, req.ThreadID, req.Text)
	if err != nil {
		WriteError(w, h.logger, err)
		return
	}

	WriteSuccess(w, http.StatusOK, api.ProcessResponse{Reply: reply})
}

package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/api"
	"github.com/BaSui01/stageflow/debounce"
)

// =============================================================================
// 📨 入站消息处理器
// =============================================================================

// WebhookHandler 接收渠道网关推送的消息并投入防抖缓冲。
// 响应 202 只表示消息已排队，实际回复由冲刷后异步投递。
type WebhookHandler struct {
	debouncer *debounce.Debouncer
	logger    *zap.Logger
}

// NewWebhookHandler 创建入站消息处理器
func NewWebhookHandler(debouncer *debounce.Debouncer, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{
		debouncer: debouncer,
		logger:    logger.With(zap.String("handler", "webhook")),
	}
}

// HandleInbound 处理 POST /webhook/messages
func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteErrorMessage(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "only POST is allowed")
		return
	}
	if err := ValidateContentType(r, "application/json"); err != nil {
		WriteErrorMessage(w, http.StatusUnsupportedMediaType, "INVALID_CONTENT_TYPE", err.Error())
		return
	}

	var req api.WebhookMessageRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "INVALID_BODY", err.Error())
		return
	}
	if missing := firstMissingField([]requiredField{
		{"agent_id", req.AgentID},
		{"identity", req.Identity},
		{"text", req.Text},
	}); missing != "" {
		WriteErrorMessage(w, http.StatusBadRequest, "MISSING_FIELD", missing+" is required")
		return
	}

	userID := req.UserID
	if userID == "" {
		userID = req.Identity
	}

	err := h.debouncer.Submit(debounce.InboundMessage{
		Identity: req.Identity,
		UserID:   userID,
		AgentID:  req.AgentID,
		Text:     req.Text,
		AckToken: req.MessageID,
	})
	if err != nil {
		WriteErrorMessage(w, http.StatusServiceUnavailable, "DEBOUNCER_CLOSED", err.Error())
		return
	}

	h.logger.Debug("inbound message buffered",
		zap.String("agent_id", req.AgentID),
		zap.String("identity", req.Identity))

	WriteSuccess(w, http.StatusAccepted, api.WebhookMessageResponse{
		Queued:  true,
		Pending: h.debouncer.Pending(req.Identity),
	})
}

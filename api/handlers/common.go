package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/engine"
	"github.com/BaSui01/stageflow/store"
)

// =============================================================================
// 📦 统一响应格式
// =============================================================================

// Response 是统一的 API 响应包装
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo 是错误详情
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// WriteJSON 写出 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}

// WriteSuccess 写出成功响应
func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	WriteJSON(w, status, Response{Success: true, Data: data})
}

// WriteError 根据错误类型映射 HTTP 状态码并写出错误响应
func WriteError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := mapErrorToStatus(err)
	if logger != nil {
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", zap.String("code", code), zap.Error(err))
		} else {
			logger.Warn("request rejected", zap.String("code", code), zap.Error(err))
		}
	}
	WriteJSON(w, status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: err.Error()},
	})
}

// WriteErrorMessage 直接写出指定状态码的错误消息
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string) {
	WriteJSON(w, status, Response{
		Success: false,
		Error:   &ErrorInfo{Code: code, Message: message},
	})
}

// mapErrorToStatus 把领域错误映射为 HTTP 状态码与错误码
func mapErrorToStatus(err error) (int, string) {
	switch {
	case errors.Is(err, store.ErrAgentNotFound),
		errors.Is(err, store.ErrStageNotFound),
		errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, store.ErrNoStages):
		return http.StatusUnprocessableEntity, "NO_STAGES"
	case engine.IsConfigurationError(err):
		// 配置性错误里未找到类已在上面处理，剩余的是服务端配置问题
		return http.StatusInternalServerError, "CONFIGURATION_ERROR"
	case engine.IsKind(err, engine.ErrKindDelivery):
		return http.StatusBadGateway, "DELIVERY_ERROR"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}

// =============================================================================
// 📥 请求解析
// =============================================================================

// DecodeJSONBody 解析请求体为目标结构，拒绝未知字段
func DecodeJSONBody(r *http.Request, dst interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is empty")
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// ValidateContentType 校验请求的 Content-Type
func ValidateContentType(r *http.Request, expected string) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return fmt.Errorf("missing Content-Type header")
	}
	if !strings.HasPrefix(ct, expected) {
		return fmt.Errorf("unsupported Content-Type: %s", ct)
	}
	return nil
}

// requiredField 是必填字段校验项
type requiredField struct {
	name  string
	value string
}

// firstMissingField 按声明顺序返回第一个为空的必填字段名
func firstMissingField(fields []requiredField) string {
	for _, f := range fields {
		if strings.TrimSpace(f.value) == "" {
			return f.name
		}
	}
	return ""
}

// =============================================================================
// 📤 响应包装
// =============================================================================

// ResponseWriter 包装 http.ResponseWriter 以捕获状态码
type ResponseWriter struct {
	http.ResponseWriter
	Status int
}

// NewResponseWriter 创建状态捕获包装器，默认 200
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{ResponseWriter: w, Status: http.StatusOK}
}

// WriteHeader 记录状态码
func (rw *ResponseWriter) WriteHeader(status int) {
	rw.Status = status
	rw.ResponseWriter.WriteHeader(status)
}

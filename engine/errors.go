package engine

import (
	"errors"
	"fmt"
)

// ============ ⚠️ 错误分类 ============

// ErrorKind 标识单轮对话中错误的恢复策略
type ErrorKind string

const (
	// ErrKindConfiguration 配置性错误（代理缺失、无阶段、阶段指针失效）。
	// 对本轮是致命的，调用方降级为固定的道歉消息，不自动重试。
	ErrKindConfiguration ErrorKind = "configuration"
	// ErrKindAnalysis 分析阶段错误（模型调用或 JSON 解析失败）。
	// 就地恢复为"无提取、不推进"，回复照常返回。
	ErrKindAnalysis ErrorKind = "analysis"
	// ErrKindSideEffect 副作用错误（日历预约失败）。
	// 记日志后吞掉，满足触发条件的后续轮次会自然重试。
	ErrKindSideEffect ErrorKind = "side_effect"
	// ErrKindDelivery 出站投递错误，上报调用方，不在本层排队重试
	ErrKindDelivery ErrorKind = "delivery"
)

// Error 是引擎的分类错误
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 支持 errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Err
}

// NewConfigurationError 创建配置性错误
func NewConfigurationError(message string, err error) *Error {
	return &Error{Kind: ErrKindConfiguration, Message: message, Err: err}
}

// NewAnalysisError 创建分析错误
func NewAnalysisError(message string, err error) *Error {
	return &Error{Kind: ErrKindAnalysis, Message: message, Err: err}
}

// NewSideEffectError 创建副作用错误
func NewSideEffectError(message string, err error) *Error {
	return &Error{Kind: ErrKindSideEffect, Message: message, Err: err}
}

// NewDeliveryError 创建投递错误
func NewDeliveryError(message string, err error) *Error {
	return &Error{Kind: ErrKindDelivery, Message: message, Err: err}
}

// IsKind 判断 err 是否为指定分类的引擎错误
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsConfigurationError 判断是否配置性错误
func IsConfigurationError(err error) bool {
	return IsKind(err, ErrKindConfiguration)
}

// 包 messaging 定义出站消息投递与已读回执的外部能力接口。
// 真实部署中由 WhatsApp 等渠道的网关客户端实现。
package messaging

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Sender 是消息投递的对外契约。MarkRead 为尽力而为语义，
// 失败只记日志不向上传播。
type Sender interface {
	Send(ctx context.Context, identity, text string) error
	MarkRead(ctx context.Context, messageID string) error
}

// ============ 📝 日志实现 ============

// LogSender 只记录日志不实际投递，用于本地运行与测试
type LogSender struct {
	mu     sync.Mutex
	sent   []SentMessage
	logger *zap.Logger
}

// SentMessage 是一条已记录的出站消息
type SentMessage struct {
	Identity string
	Text     string
}

// NewLogSender 创建日志投递器
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger.With(zap.String("component", "sender"))}
}

// Send 记录出站消息
func (s *LogSender) Send(_ context.Context, identity, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, SentMessage{Identity: identity, Text: text})
	s.mu.Unlock()

	s.logger.Info("outbound message",
		zap.String("identity", identity),
		zap.Int("length", len(text)))
	return nil
}

// MarkRead 记录已读回执
func (s *LogSender) MarkRead(_ context.Context, messageID string) error {
	s.logger.Debug("mark read", zap.String("message_id", messageID))
	return nil
}

// Sent 返回已记录消息的副本
func (s *LogSender) Sent() []SentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

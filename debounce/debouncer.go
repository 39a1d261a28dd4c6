package debounce

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/engine"
	"github.com/BaSui01/stageflow/internal/metrics"
	"github.com/BaSui01/stageflow/messaging"
)

// Processor 是防抖器下游的会话处理能力，由阶段编排引擎实现
type Processor interface {
	ProcessMessage(ctx context.Context, userID, agentID, threadID, text string) (string, error)
}

// Config 是防抖器配置
type Config struct {
	QuietWindow  time.Duration // 静默窗口，窗口内无新消息才触发冲洗
	FlushTimeout time.Duration // 单次冲洗的处理超时
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		QuietWindow:  2250 * time.Millisecond,
		FlushTimeout: 2 * time.Minute,
	}
}

// InboundMessage 是一条入站消息
type InboundMessage struct {
	Identity string // 外部会话方标识（电话号码等），同时作为线程 ID
	UserID   string
	AgentID  string
	Text     string
	AckToken string // 已读回执标识，为空时不回执
}

// buffer 是单个会话方的消息缓冲。映射仅存在于进程内存，
// 重启丢失的只是在途的批次，不是已提交的会话状态。
type buffer struct {
	messages        []string
	lastMessageTime time.Time
	timer           *time.Timer
	isProcessing    bool
	userID          string
	agentID         string
}

// Debouncer 按会话方标识聚合快速连发的入站消息，静默窗口结束后
// 将合并文本一次性交给引擎处理。同一标识同一时刻至多一次冲洗在
// 执行（isProcessing 守卫），不同标识完全并行。
type Debouncer struct {
	mu      sync.Mutex
	buffers map[string]*buffer
	closed  bool

	processor Processor
	sender    messaging.Sender
	metrics   *metrics.Collector
	logger    *zap.Logger
	cfg       Config

	wg sync.WaitGroup
}

// New 创建防抖器
func New(cfg Config, processor Processor, sender messaging.Sender, collector *metrics.Collector, logger *zap.Logger) *Debouncer {
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = DefaultConfig().QuietWindow
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultConfig().FlushTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Debouncer{
		buffers:   make(map[string]*buffer),
		processor: processor,
		sender:    sender,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "debouncer")),
		cfg:       cfg,
	}
}

// Submit 把消息追加到对应标识的缓冲，立即发出已读回执（尽力而为），
// 并把静默计时器重置到新的冲洗时刻。计时器重置等价于取消上一次
// 待执行的冲洗。
func (d *Debouncer) Submit(msg InboundMessage) error {
	if msg.Identity == "" {
		return fmt.Errorf("identity is required")
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return fmt.Errorf("debouncer is closed")
	}

	buf, ok := d.buffers[msg.Identity]
	if !ok {
		buf = &buffer{}
		d.buffers[msg.Identity] = buf
	}
	buf.messages = append(buf.messages, msg.Text)
	buf.lastMessageTime = time.Now()
	buf.userID = msg.UserID
	buf.agentID = msg.AgentID

	if buf.timer != nil {
		buf.timer.Stop()
	}
	identity := msg.Identity
	buf.timer = time.AfterFunc(d.cfg.QuietWindow, func() {
		d.flush(identity)
	})
	d.mu.Unlock()

	if msg.AckToken != "" {
		go d.markRead(msg.AckToken)
	}
	return nil
}

// markRead 发出已读回执，失败只记日志
func (d *Debouncer) markRead(ackToken string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.sender.MarkRead(ctx, ackToken); err != nil {
		d.logger.Warn("mark read failed", zap.String("ack_token", ackToken), zap.Error(err))
	}
}

// flush 合并缓冲并调用引擎。上一次冲洗仍在执行时直接返回，
// 期间积累的消息等它结束后再冲洗。
func (d *Debouncer) flush(identity string) {
	d.mu.Lock()
	buf, ok := d.buffers[identity]
	if !ok || d.closed {
		d.mu.Unlock()
		return
	}
	if buf.isProcessing {
		// 正在处理的冲洗结束时会重新调度
		d.mu.Unlock()
		return
	}
	if len(buf.messages) == 0 {
		d.mu.Unlock()
		return
	}

	combined := strings.Join(buf.messages, " ")
	count := len(buf.messages)
	// 先清空列表，处理期间新到的消息进的是新列表
	buf.messages = nil
	buf.isProcessing = true
	userID, agentID := buf.userID, buf.agentID
	d.wg.Add(1)
	d.mu.Unlock()

	defer d.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.FlushTimeout)
	defer cancel()

	reply, err := d.processor.ProcessMessage(ctx, userID, agentID, identity, combined)
	if err != nil {
		d.logger.Error("flush processing failed",
			zap.String("identity", identity),
			zap.Int("coalesced", count),
			zap.Error(err))
		if d.metrics != nil {
			d.metrics.RecordDebounceFlush("error", count)
		}
		if sendErr := d.sender.Send(ctx, identity, engine.FallbackReply); sendErr != nil {
			d.logger.Error("fallback delivery failed",
				zap.String("identity", identity),
				zap.Error(engine.NewDeliveryError("send fallback notice", sendErr)))
		}
	} else {
		if d.metrics != nil {
			d.metrics.RecordDebounceFlush("success", count)
		}
		if sendErr := d.sender.Send(ctx, identity, reply); sendErr != nil {
			d.logger.Error("reply delivery failed",
				zap.String("identity", identity),
				zap.Error(engine.NewDeliveryError("send reply", sendErr)))
		}
	}

	// 处理完成后释放守卫；期间积累的消息立即重新调度
	d.mu.Lock()
	buf.isProcessing = false
	if len(buf.messages) > 0 && !d.closed {
		if buf.timer != nil {
			buf.timer.Stop()
		}
		buf.timer = time.AfterFunc(d.cfg.QuietWindow, func() {
			d.flush(identity)
		})
	}
	d.mu.Unlock()
}

// Pending 返回某标识当前缓冲的消息数
func (d *Debouncer) Pending(identity string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if buf, ok := d.buffers[identity]; ok {
		return len(buf.messages)
	}
	return 0
}

// Close 停止所有计时器并等待在途冲洗结束。之后的 Submit 返回错误。
func (d *Debouncer) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, buf := range d.buffers {
		if buf.timer != nil {
			buf.timer.Stop()
		}
	}
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("debouncer closed")
}

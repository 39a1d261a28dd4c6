// 包 calendar 定义会议预约的外部日历能力接口及其内存实现。
// 时间戳以带固定时区标注的本地墙钟时间传递，刻意不换算为 UTC，
// 否则换算会使日历上显示的会议时间发生偏移。
package calendar

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event 是待创建的日历事件
type Event struct {
	Summary       string    `json:"summary"`
	Description   string    `json:"description"`
	Start         time.Time `json:"start"` // 本地墙钟时间，Location 为固定时区
	End           time.Time `json:"end"`
	TimeZone      string    `json:"time_zone"` // IANA 时区标识，如 America/Sao_Paulo
	AttendeeEmail string    `json:"attendee_email"`
}

// EventResult 是创建成功后日历方返回的标识
type EventResult struct {
	ID   string `json:"id"`
	Link string `json:"link"`
}

// Service 是日历副作用的对外契约
type Service interface {
	CreateEvent(ctx context.Context, ownerID string, event Event) (*EventResult, error)
}

// ============ 🗓️ 内存实现 ============

// InMemoryService 将事件保存在进程内存中，用于本地运行与测试。
// 接入真实日历（Google Calendar 等）时替换为对应客户端实现。
type InMemoryService struct {
	mu     sync.Mutex
	events map[string][]Event // ownerID → events
	logger *zap.Logger
}

// NewInMemoryService 创建内存日历服务
func NewInMemoryService(logger *zap.Logger) *InMemoryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryService{
		events: make(map[string][]Event),
		logger: logger.With(zap.String("component", "calendar")),
	}
}

// CreateEvent 记录事件并返回生成的标识
func (s *InMemoryService) CreateEvent(_ context.Context, ownerID string, event Event) (*EventResult, error) {
	s.mu.Lock()
	s.events[ownerID] = append(s.events[ownerID], event)
	s.mu.Unlock()

	id := uuid.NewString()
	s.logger.Info("calendar event created",
		zap.String("owner_id", ownerID),
		zap.String("summary", event.Summary),
		zap.Time("start", event.Start),
		zap.String("attendee", event.AttendeeEmail))

	return &EventResult{
		ID:   id,
		Link: fmt.Sprintf("https://calendar.local/events/%s", id),
	}, nil
}

// Events 返回某 owner 已创建的事件副本
func (s *InMemoryService) Events(ownerID string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events[ownerID]))
	copy(out, s.events[ownerID])
	return out
}

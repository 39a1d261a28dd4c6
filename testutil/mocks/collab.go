package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/stageflow/calendar"
)

// StaticRetriever 返回固定片段的检索器
type StaticRetriever struct {
	Snippets []string
	Err      error

	mu      sync.Mutex
	queries []string
}

// Retrieve 返回预设片段并记录查询
func (r *StaticRetriever) Retrieve(_ context.Context, _ string, query string) ([]string, error) {
	r.mu.Lock()
	r.queries = append(r.queries, query)
	r.mu.Unlock()
	if r.Err != nil {
		return nil, r.Err
	}
	return r.Snippets, nil
}

// Queries 返回已记录查询的副本
func (r *StaticRetriever) Queries() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.queries))
	copy(out, r.queries)
	return out
}

// FailingCalendar 恒定失败的日历服务，记录尝试次数
type FailingCalendar struct {
	Err error

	mu       sync.Mutex
	attempts int
}

// CreateEvent 返回预设错误
func (c *FailingCalendar) CreateEvent(context.Context, string, calendar.Event) (*calendar.EventResult, error) {
	c.mu.Lock()
	c.attempts++
	c.mu.Unlock()
	return nil, c.Err
}

// Attempts 返回 CreateEvent 被调用的次数
func (c *FailingCalendar) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

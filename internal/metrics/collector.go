// 包 metrics 基于 Prometheus 收集服务内部指标：HTTP、LLM 调用、
// 会话轮次、阶段推进、防抖与存储层。
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 会话轮次指标
	turnsTotal       *prometheus.CounterVec
	turnDuration     *prometheus.HistogramVec
	stageTransitions *prometheus.CounterVec
	meetingsCreated  *prometheus.CounterVec

	// 防抖指标
	debounceFlushes   *prometheus.CounterVec
	debounceCoalesced *prometheus.HistogramVec

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbQueryDuration   *prometheus.HistogramVec

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewCollector 创建指标收集器并注册全部指标
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}
	histogram := func(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
		return promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		}, labels)
	}
	gauge := func(name, help string, labels ...string) *prometheus.GaugeVec {
		return promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, labels)
	}

	llmBuckets := []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}
	turnBuckets := []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}
	// 防抖聚合条数按斐波那契分桶，碎片化输入的分布长尾很重
	coalesceBuckets := []float64{1, 2, 3, 5, 8, 13, 21}

	c := &Collector{
		httpRequestsTotal: counter("http_requests_total",
			"Total number of HTTP requests", "method", "path", "status"),
		httpRequestDuration: histogram("http_request_duration_seconds",
			"HTTP request duration in seconds", prometheus.DefBuckets, "method", "path"),

		llmRequestsTotal: counter("llm_requests_total",
			"Total number of LLM requests", "provider", "model", "status"),
		llmRequestDuration: histogram("llm_request_duration_seconds",
			"LLM request duration in seconds", llmBuckets, "provider", "model"),
		llmTokensUsed: counter("llm_tokens_used_total",
			"Total number of tokens used", "provider", "model", "type"),

		turnsTotal: counter("turns_total",
			"Total number of conversation turns processed", "agent_id", "stage_type", "status"),
		turnDuration: histogram("turn_duration_seconds",
			"Conversation turn processing duration in seconds", turnBuckets, "agent_id", "stage_type"),
		stageTransitions: counter("stage_transitions_total",
			"Total number of stage transitions", "agent_id", "from_stage", "to_stage", "reason"),
		meetingsCreated: counter("meetings_created_total",
			"Total number of calendar meetings created", "agent_id", "status"),

		debounceFlushes: counter("debounce_flushes_total",
			"Total number of debounce buffer flushes", "status"),
		debounceCoalesced: histogram("debounce_coalesced_messages",
			"Number of messages coalesced per flush", coalesceBuckets),

		cacheHits: counter("cache_hits_total",
			"Total number of cache hits", "cache_type"),
		cacheMisses: counter("cache_misses_total",
			"Total number of cache misses", "cache_type"),

		dbConnectionsOpen: gauge("db_connections_open",
			"Number of open database connections", "database"),
		dbConnectionsIdle: gauge("db_connections_idle",
			"Number of idle database connections", "database"),
		dbQueryDuration: histogram("db_query_duration_seconds",
			"Database query duration in seconds", prometheus.DefBuckets, "database", "operation"),

		logger: logger.With(zap.String("component", "metrics")),
	}

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// =============================================================================
// 🎯 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordLLMRequest 记录 LLM 请求，token 用量按 prompt/completion 分类
func (c *Collector) RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int) {
	c.llmRequestsTotal.WithLabelValues(provider, model, status).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
}

// RecordTurn 记录会话轮次处理
func (c *Collector) RecordTurn(agentID, stageType, status string, duration time.Duration) {
	c.turnsTotal.WithLabelValues(agentID, stageType, status).Inc()
	c.turnDuration.WithLabelValues(agentID, stageType).Observe(duration.Seconds())
}

// RecordStageTransition 记录阶段推进
// reason: buying_intent, required_vars, analyzer, explicit
func (c *Collector) RecordStageTransition(agentID, fromStage, toStage, reason string) {
	c.stageTransitions.WithLabelValues(agentID, fromStage, toStage, reason).Inc()
}

// RecordMeetingCreated 记录会议创建结果
func (c *Collector) RecordMeetingCreated(agentID, status string) {
	c.meetingsCreated.WithLabelValues(agentID, status).Inc()
}

// RecordDebounceFlush 记录一次防抖缓冲冲洗
func (c *Collector) RecordDebounceFlush(status string, coalesced int) {
	c.debounceFlushes.WithLabelValues(status).Inc()
	c.debounceCoalesced.WithLabelValues().Observe(float64(coalesced))
}

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// RecordDBQuery 记录数据库查询
func (c *Collector) RecordDBQuery(database, operation string, duration time.Duration) {
	c.dbQueryDuration.WithLabelValues(database, operation).Observe(duration.Seconds())
}

// statusCode 把 HTTP 状态码折叠为 2xx/3xx/4xx/5xx 标签
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

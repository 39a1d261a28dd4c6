package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/internal/cache"
	"github.com/BaSui01/stageflow/internal/metrics"
)

// CachedRetriever 给任意 Retriever 叠加 Redis 缓存。同一代理对
// 相同的归一化查询短时间内复用检索结果，缓存故障时穿透到内层。
type CachedRetriever struct {
	inner   Retriever
	cache   *cache.Manager
	metrics *metrics.Collector
	ttl     time.Duration
	logger  *zap.Logger
}

// NewCachedRetriever 创建缓存装饰器，ttl 非正时默认 5 分钟
func NewCachedRetriever(inner Retriever, cacheManager *cache.Manager, collector *metrics.Collector, ttl time.Duration, logger *zap.Logger) *CachedRetriever {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRetriever{
		inner:   inner,
		cache:   cacheManager,
		metrics: collector,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "cached_retriever")),
	}
}

// Retrieve 先查缓存，未命中时调用内层并回填
func (r *CachedRetriever) Retrieve(ctx context.Context, agentID, query string) ([]string, error) {
	key := retrievalKey(agentID, query)

	var cached []string
	err := r.cache.GetJSON(ctx, key, &cached)
	if err == nil {
		if r.metrics != nil {
			r.metrics.RecordCacheHit("retrieval")
		}
		return cached, nil
	}
	if !cache.IsCacheMiss(err) {
		r.logger.Warn("retrieval cache read failed", zap.String("key", key), zap.Error(err))
	}
	if r.metrics != nil {
		r.metrics.RecordCacheMiss("retrieval")
	}

	snippets, err := r.inner.Retrieve(ctx, agentID, query)
	if err != nil {
		return nil, err
	}

	if setErr := r.cache.SetJSON(ctx, key, snippets, r.ttl); setErr != nil {
		r.logger.Warn("retrieval cache write failed", zap.String("key", key), zap.Error(setErr))
	}
	return snippets, nil
}

// retrievalKey 生成缓存键，查询归一化后取哈希避免超长键
func retrievalKey(agentID, query string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("retrieval:%s:%s", agentID, hex.EncodeToString(sum[:8]))
}

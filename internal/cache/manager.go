// Package cache 封装 Redis 访问，供知识检索结果缓存使用。
// internal 包，不对外导出。
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrCacheMiss 缓存未命中
var ErrCacheMiss = errors.New("cache miss")

// IsCacheMiss 判断是否为缓存未命中
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// errClosed 管理器关闭后所有操作返回此错误
var errClosed = errors.New("cache manager is closed")

// =============================================================================
// 💾 缓存管理器
// =============================================================================

// Config 缓存配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// 调用方未显式给 TTL 时使用的过期时间
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 健康检查间隔，0 关闭后台检查
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DefaultTTL:          5 * time.Minute,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager 持有 Redis 客户端并提供字符串/JSON 两套读写接口。
// 检索缓存是纯加速层，调用方应把任何缓存错误降级为缓存未命中处理。
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stopHC chan struct{}
}

// NewManager 连接 Redis 并创建管理器，连接探测失败直接报错
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", config.Addr, err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stopHC: make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("redis connected", zap.String("addr", config.Addr))
	return m, nil
}

// guard 在持有读锁的前提下执行 fn，管理器已关闭时直接返回 errClosed
func (m *Manager) guard(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return errClosed
	}
	return fn()
}

// Get 读取字符串值，键不存在返回 ErrCacheMiss
func (m *Manager) Get(ctx context.Context, key string) (string, error) {
	var val string
	err := m.guard(func() error {
		v, err := m.redis.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return ErrCacheMiss
		}
		if err != nil {
			return fmt.Errorf("redis get %q: %w", key, err)
		}
		val = v
		return nil
	})
	return val, err
}

// Set 写入字符串值，ttl 为 0 时用配置默认值
func (m *Manager) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = m.config.DefaultTTL
	}
	return m.guard(func() error {
		if err := m.redis.Set(ctx, key, value, ttl).Err(); err != nil {
			return fmt.Errorf("redis set %q: %w", key, err)
		}
		return nil
	})
}

// GetJSON 读取并反序列化 JSON 值
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	val, err := m.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return fmt.Errorf("decode cached value at %q: %w", key, err)
	}
	return nil
}

// SetJSON 序列化并写入 JSON 值
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode value for %q: %w", key, err)
	}
	return m.Set(ctx, key, string(data), ttl)
}

// Delete 删除一个或多个键
func (m *Manager) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return m.guard(func() error {
		if err := m.redis.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		return nil
	})
}

// Ping 探测 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	return m.guard(func() error {
		return m.redis.Ping(ctx).Err()
	})
}

// Close 关闭连接，幂等
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.stopHC)
	m.logger.Info("cache manager closed")
	return m.redis.Close()
}

// healthCheckLoop 周期性探测连接，失败只记日志不降级
func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopHC:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := m.Ping(ctx); err != nil && !errors.Is(err, errClosed) {
				m.logger.Warn("redis health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

package llm

import (
	"fmt"
	"sort"
	"sync"
)

// ProviderRegistry 持有按名字索引的模型提供商集合，并记录默认提供商。
// 代理配置里 modelConfig.provider 为空或未注册时，引擎回退到默认提供商，
// 所以注册表在服务启动阶段填充完毕后只读，读路径用读锁即可。
type ProviderRegistry struct {
	mu       sync.RWMutex
	byName   map[string]Provider
	fallback string
}

// NewProviderRegistry 创建空注册表
func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{byName: make(map[string]Provider)}
}

// Register 以 name 注册提供商，同名覆盖
func (r *ProviderRegistry) Register(name string, p Provider) {
	r.mu.Lock()
	r.byName[name] = p
	r.mu.Unlock()
}

// Get 按名字查找提供商
func (r *ProviderRegistry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	p, ok := r.byName[name]
	r.mu.RUnlock()
	return p, ok
}

// SetDefault 把已注册的提供商设为默认，未注册时报错
func (r *ProviderRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[name]; !ok {
		return fmt.Errorf("cannot set default: provider %q is not registered", name)
	}
	r.fallback = name
	return nil
}

// Default 返回默认提供商。未设置默认、或默认名已被移除时报错，
// 调用方应把这种情况当作配置错误处理。
func (r *ProviderRegistry) Default() (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.fallback == "" {
		return nil, fmt.Errorf("no default provider configured")
	}
	p, ok := r.byName[r.fallback]
	if !ok {
		return nil, fmt.Errorf("default provider %q is no longer registered", r.fallback)
	}
	return p, nil
}

// Names 返回全部已注册提供商的名字，字典序
func (r *ProviderRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

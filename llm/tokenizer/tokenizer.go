package tokenizer

import (
	"fmt"
	"strings"
	"sync"
)

// Tokenizer 统一的 token 计数接口
type Tokenizer interface {
	// CountTokens 返回文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，含每条消息的
	// 角色标记与分隔符开销
	CountMessages(messages []Message) (int, error)

	// MaxTokens 返回模型的最大上下文长度
	MaxTokens() int

	// Name 返回分词器名称
	Name() string
}

// Message 轻量消息结构，避免对 llm 包的循环依赖
type Message struct {
	Role    string
	Content string
}

// registry 按模型名索引已注册的分词器
var registry = struct {
	sync.RWMutex
	byModel map[string]Tokenizer
}{byModel: make(map[string]Tokenizer)}

// RegisterTokenizer 为模型注册分词器，同名覆盖
func RegisterTokenizer(model string, t Tokenizer) {
	registry.Lock()
	registry.byModel[model] = t
	registry.Unlock()
}

// GetTokenizer 查找模型的分词器，精确名优先，其次前缀匹配
// （"gpt-4o" 命中 "gpt-4o-2024-08-06" 这类带日期后缀的变体）
func GetTokenizer(model string) (Tokenizer, error) {
	registry.RLock()
	defer registry.RUnlock()

	if t, ok := registry.byModel[model]; ok {
		return t, nil
	}
	var (
		best  string
		found Tokenizer
	)
	for prefix, t := range registry.byModel {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best, found = prefix, t
		}
	}
	if found != nil {
		return found, nil
	}
	return nil, fmt.Errorf("no tokenizer registered for model %q", model)
}

// GetTokenizerOrEstimator 查找模型分词器，未注册时退回字符数估算器
func GetTokenizerOrEstimator(model string) Tokenizer {
	if t, err := GetTokenizer(model); err == nil {
		return t
	}
	return NewEstimatorTokenizer(model, 0)
}

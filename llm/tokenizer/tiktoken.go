package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// encodingInfo 模型对应的 tiktoken 编码表与上下文长度
type encodingInfo struct {
	encoding  string
	maxTokens int
}

var openAIEncodings = map[string]encodingInfo{
	"gpt-4o":        {"o200k_base", 128000},
	"gpt-4o-mini":   {"o200k_base", 128000},
	"gpt-4-turbo":   {"cl100k_base", 128000},
	"gpt-4":         {"cl100k_base", 8192},
	"gpt-3.5-turbo": {"cl100k_base", 16385},
}

// fallbackEncoding 未知 OpenAI 模型的兜底编码表
var fallbackEncoding = encodingInfo{"cl100k_base", 8192}

// TiktokenTokenizer 为 OpenAI 系列模型封装 tiktoken，
// 编码表惰性加载（首次使用可能下载数据）
type TiktokenTokenizer struct {
	model     string
	encoding  string
	maxTokens int

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenTokenizer 创建分词器，模型名精确或前缀匹配编码表
func NewTiktokenTokenizer(model string) (*TiktokenTokenizer, error) {
	info, ok := openAIEncodings[model]
	if !ok {
		// 取最长的匹配前缀，避免 "gpt-4o-mini-…" 误落到 "gpt-4"
		best := ""
		for prefix, i := range openAIEncodings {
			if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
				best, info, ok = prefix, i, true
			}
		}
	}
	if !ok {
		info = fallbackEncoding
	}
	return &TiktokenTokenizer{
		model:     model,
		encoding:  info.encoding,
		maxTokens: info.maxTokens,
	}, nil
}

func (t *TiktokenTokenizer) load() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("load tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.load(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	if err := t.load(); err != nil {
		return 0, err
	}
	total := conversationFooter
	for _, msg := range messages {
		// 每条消息: <|start|>role\n content<|end|>\n
		total += perMessageOverhead
		total += len(t.enc.Encode(msg.Role, nil, nil))
		total += len(t.enc.Encode(msg.Content, nil, nil))
	}
	return total, nil
}

func (t *TiktokenTokenizer) MaxTokens() int { return t.maxTokens }

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}

var registerOpenAIOnce sync.Once

// RegisterOpenAITokenizers 注册全部已知 OpenAI 模型的 tiktoken 分词器，幂等
func RegisterOpenAITokenizers() {
	registerOpenAIOnce.Do(func() {
		for model := range openAIEncodings {
			t, err := NewTiktokenTokenizer(model)
			if err != nil {
				continue
			}
			RegisterTokenizer(model, t)
		}
	})
}

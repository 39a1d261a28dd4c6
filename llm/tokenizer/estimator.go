package tokenizer

import "unicode/utf8"

// 拉丁文本（含葡语）平均 4 个字符一个 token，带重音的字符
// 在这里与纯 ASCII 同权
const defaultCharsPerToken = 4.0

// 每条消息的固定开销（角色标记与分隔符）与会话收尾开销
const (
	perMessageOverhead = 4
	conversationFooter = 3
)

// EstimatorTokenizer 按字符数估算 token 的兜底分词器，
// 用于没有精确编码表的模型
type EstimatorTokenizer struct {
	model         string
	maxTokens     int
	charsPerToken float64
}

// NewEstimatorTokenizer 创建估算器，maxTokens 非正时默认 4096
func NewEstimatorTokenizer(model string, maxTokens int) *EstimatorTokenizer {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &EstimatorTokenizer{
		model:         model,
		maxTokens:     maxTokens,
		charsPerToken: defaultCharsPerToken,
	}
}

// WithCharsPerToken 覆盖字符/token 比率
func (e *EstimatorTokenizer) WithCharsPerToken(ratio float64) *EstimatorTokenizer {
	e.charsPerToken = ratio
	return e
}

func (e *EstimatorTokenizer) CountTokens(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	estimated := int(float64(utf8.RuneCountInString(text)) / e.charsPerToken)
	if estimated < 1 {
		estimated = 1
	}
	return estimated, nil
}

func (e *EstimatorTokenizer) CountMessages(messages []Message) (int, error) {
	total := conversationFooter
	for _, msg := range messages {
		tokens, err := e.CountTokens(msg.Content)
		if err != nil {
			return 0, err
		}
		total += tokens + perMessageOverhead
	}
	return total, nil
}

func (e *EstimatorTokenizer) MaxTokens() int { return e.maxTokens }

func (e *EstimatorTokenizer) Name() string { return "estimator" }

package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimator_CountTokens(t *testing.T) {
	est := NewEstimatorTokenizer("unknown-model", 0)

	empty, err := est.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, empty)

	// 4 字符一个 token，短文本至少 1
	one, err := est.CountTokens("oi")
	require.NoError(t, err)
	assert.Equal(t, 1, one)

	long, err := est.CountTokens("quero agendar uma reunião para quinta-feira")
	require.NoError(t, err)
	assert.Greater(t, long, 5)
}

func TestEstimator_CountMessagesIncludesOverhead(t *testing.T) {
	est := NewEstimatorTokenizer("m", 0)
	total, err := est.CountMessages([]Message{
		{Role: "system", Content: "você é um assistente"},
		{Role: "user", Content: "olá"},
	})
	require.NoError(t, err)

	content1, _ := est.CountTokens("você é um assistente")
	content2, _ := est.CountTokens("olá")
	assert.Equal(t, content1+content2+2*perMessageOverhead+conversationFooter, total)
}

func TestEstimator_Defaults(t *testing.T) {
	est := NewEstimatorTokenizer("m", 0)
	assert.Equal(t, 4096, est.MaxTokens())
	assert.Equal(t, "estimator", est.Name())
}

func TestRegistry_PrefixMatch(t *testing.T) {
	est := NewEstimatorTokenizer("test-model", 100)
	RegisterTokenizer("test-model", est)

	exact, err := GetTokenizer("test-model")
	require.NoError(t, err)
	assert.Same(t, Tokenizer(est), exact)

	prefixed, err := GetTokenizer("test-model-2024-07-18")
	require.NoError(t, err)
	assert.Same(t, Tokenizer(est), prefixed)

	_, err = GetTokenizer("completely-different")
	assert.Error(t, err)
}

func TestGetTokenizerOrEstimator_Fallback(t *testing.T) {
	tk := GetTokenizerOrEstimator("some-model-nobody-registered")
	assert.Equal(t, "estimator", tk.Name())
}

func TestNewTiktokenTokenizer_EncodingSelection(t *testing.T) {
	tests := []struct {
		model        string
		wantEncoding string
		wantMax      int
	}{
		{"gpt-4o-mini", "o200k_base", 128000},
		{"gpt-4o-mini-2024-07-18", "o200k_base", 128000},
		{"gpt-4", "cl100k_base", 8192},
		{"gpt-unknown-future", "cl100k_base", 8192},
	}
	for _, tt := range tests {
		tk, err := NewTiktokenTokenizer(tt.model)
		require.NoError(t, err)
		assert.Equal(t, tt.wantMax, tk.MaxTokens(), tt.model)
		assert.Contains(t, tk.Name(), tt.wantEncoding, tt.model)
	}
}

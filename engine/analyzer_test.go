package engine

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/stageflow/store"
)

func TestExtractFirstJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		found bool
	}{
		{
			"bare object",
			`{"nome": "Ana"}`,
			`{"nome": "Ana"}`,
			true,
		},
		{
			"prose around object",
			"Claro! Aqui está a análise:\n{\"nome\": \"Ana\"}\nEspero ter ajudado.",
			`{"nome": "Ana"}`,
			true,
		},
		{
			"nested object",
			`resultado: {"dados": {"nome": "Ana"}, "avancar": true} fim`,
			`{"dados": {"nome": "Ana"}, "avancar": true}`,
			true,
		},
		{
			"braces inside string",
			`{"obs": "use {chaves} com cuidado"}`,
			`{"obs": "use {chaves} com cuidado"}`,
			true,
		},
		{
			"escaped quote inside string",
			`{"obs": "disse \"oi\" e saiu"}`,
			`{"obs": "disse \"oi\" e saiu"}`,
			true,
		},
		{
			"two objects takes first",
			`{"a": 1} {"b": 2}`,
			`{"a": 1}`,
			true,
		},
		{"no json", "não consegui extrair nada", "", false},
		{"unbalanced", `{"nome": "Ana"`, "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, found := ExtractFirstJSON(tt.input)
			assert.Equal(t, tt.found, found)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAnalysisOutput(t *testing.T) {
	t.Run("full output", func(t *testing.T) {
		vars, advance, ok := ParseAnalysisOutput(`{
			"nome": "Carlos",
			"email": "carlos@exemplo.com",
			"area": "",
			"idade": 35,
			"ativo": true,
			"obs": null,
			"avancar": true
		}`)
		require.True(t, ok)
		assert.True(t, advance)
		assert.Equal(t, "Carlos", vars["nome"])
		assert.Equal(t, "carlos@exemplo.com", vars["email"])
		assert.Equal(t, "35", vars["idade"])
		assert.Equal(t, "true", vars["ativo"])
		assert.NotContains(t, vars, "area", "campo vazio é descartado")
		assert.NotContains(t, vars, "obs", "null é descartado")
		assert.NotContains(t, vars, "avancar", "flag não vira variável")
	})

	t.Run("advance false", func(t *testing.T) {
		_, advance, ok := ParseAnalysisOutput(`{"avancar": false}`)
		require.True(t, ok)
		assert.False(t, advance)
	})

	t.Run("advance missing defaults false", func(t *testing.T) {
		_, advance, ok := ParseAnalysisOutput(`{"nome": "Ana"}`)
		require.True(t, ok)
		assert.False(t, advance)
	})

	t.Run("prose wrapped json", func(t *testing.T) {
		vars, _, ok := ParseAnalysisOutput("Segue:\n```json\n{\"nome\": \"Ana\"}\n```")
		require.True(t, ok)
		assert.Equal(t, "Ana", vars["nome"])
	})

	t.Run("malformed output", func(t *testing.T) {
		vars, advance, ok := ParseAnalysisOutput("desculpe, não entendi a pergunta")
		assert.False(t, ok)
		assert.False(t, advance)
		assert.Nil(t, vars)
	})

	t.Run("invalid json in braces", func(t *testing.T) {
		_, _, ok := ParseAnalysisOutput(`{nome: sem aspas}`)
		assert.False(t, ok)
	})

	t.Run("whitespace trimmed", func(t *testing.T) {
		vars, _, ok := ParseAnalysisOutput(`{"nome": "  Ana  "}`)
		require.True(t, ok)
		assert.Equal(t, "Ana", vars["nome"])
	})
}

func TestBuildAnalysisPrompt(t *testing.T) {
	stage := &store.Stage{
		Name:              "Agendamento",
		RequiredVariables: store.StringList{"email", "data_reuniao", "orcamento"},
	}

	prompt := BuildAnalysisPrompt("pode ser dia 15/03", "Perfeito! Qual seu e-mail?", stage)

	assert.Contains(t, prompt, "Agendamento")
	assert.Contains(t, prompt, "Perfeito! Qual seu e-mail?")
	// 字段并集：通用字段加上阶段必填变量
	assert.Contains(t, prompt, `"nome"`)
	assert.Contains(t, prompt, `"email"`)
	assert.Contains(t, prompt, `"data_reuniao"`)
	assert.Contains(t, prompt, `"orcamento"`)
	assert.Contains(t, prompt, `"avancar"`)
	// 重复字段不出现两次
	assert.Equal(t, 1, strings.Count(prompt, `"email"`))
}

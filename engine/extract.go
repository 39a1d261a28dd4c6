package engine

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/BaSui01/stageflow/store"
)

// ============ 🔍 轻量启发式提取 ============

// 模型调用前的快速前置提取，只覆盖姓名与业务领域两类变量。
// 完整提取由分析器的第二次模型调用完成。

var (
	namePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)meu nome é\s+([\p{L}]+(?:\s+[\p{L}]+)?)`),
		regexp.MustCompile(`(?i)meu nome e\s+([\p{L}]+(?:\s+[\p{L}]+)?)`),
		regexp.MustCompile(`(?i)me chamo\s+([\p{L}]+(?:\s+[\p{L}]+)?)`),
		regexp.MustCompile(`(?i)\bsou [oa]\s+([\p{L}]+)`),
	}

	areaPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)trabalho com\s+([\p{L}][\p{L}\s]{1,40}?)(?:[.,!?]|$)`),
		regexp.MustCompile(`(?i)atuo com\s+([\p{L}][\p{L}\s]{1,40}?)(?:[.,!?]|$)`),
		regexp.MustCompile(`(?i)atuo no ramo de\s+([\p{L}][\p{L}\s]{1,40}?)(?:[.,!?]|$)`),
		regexp.MustCompile(`(?i)minha empresa é de\s+([\p{L}][\p{L}\s]{1,40}?)(?:[.,!?]|$)`),
	}
)

// ExtractHeuristics 从原始用户文本中提取 nome 与 area。
// 纯函数，不访问模型；未命中任何模式时返回空映射。
func ExtractHeuristics(text string) map[string]string {
	vars := make(map[string]string)

	for _, p := range namePatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			vars["nome"] = titleCase(strings.TrimSpace(m[1]))
			break
		}
	}

	for _, p := range areaPatterns {
		if m := p.FindStringSubmatch(text); m != nil {
			vars["area"] = strings.ToLower(strings.TrimSpace(m[1]))
			break
		}
	}

	return vars
}

// 同义变量名到规范名的映射
var variableSynonyms = map[string]string{
	"nicho":    "area",
	"segmento": "area",
	"dor":      "desafio",
	"problema": "desafio",
}

// FoldSynonyms 将提取结果中的同义键折叠为规范键，返回新映射。
// 仅当规范键在 existing 与 extracted 中都未置值时才折叠，
// 已置值的规范键永不被同义键覆盖。同义键本身不保留。
func FoldSynonyms(extracted map[string]string, existing store.VariableMap) map[string]string {
	out := make(map[string]string, len(extracted))
	for k, v := range extracted {
		if _, isSynonym := variableSynonyms[k]; isSynonym {
			continue
		}
		out[k] = v
	}

	for synonym, canonical := range variableSynonyms {
		v, ok := extracted[synonym]
		if !ok || v == "" {
			continue
		}
		if existing.Has(canonical) {
			continue
		}
		if out[canonical] != "" {
			continue
		}
		out[canonical] = v
	}

	return out
}

// HasAllRequired 判断合并后的变量集是否满足阶段的全部必填变量。
// 阶段未声明必填变量时恒为 true。
func HasAllRequired(stage *store.Stage, vars store.VariableMap) bool {
	for _, name := range stage.RequiredVariables {
		if !vars.Has(name) {
			return false
		}
	}
	return true
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		if len(runes) > 0 {
			runes[0] = unicode.ToUpper(runes[0])
		}
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

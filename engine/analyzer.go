package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/stageflow/llm"
	"github.com/BaSui01/stageflow/store"
)

// ============ 🔬 模型驱动分析器 ============

// Analysis 是一轮对话分析的结论
type Analysis struct {
	Advance     bool              // 是否推进到下一阶段
	NextStageID string            // 推进目标阶段 ID
	Variables   map[string]string // 新提取的变量（已折叠同义键）
}

// 分析器固定提取的通用字段，阶段必填变量在此基础上并集
var analysisBaseFields = []string{
	"nome",
	"email",
	"telefone",
	"area",
	"desafio",
	"data_reuniao",
	"horario_reuniao",
}

// analyze 在回复生成后执行第二次模型调用，提取结构化变量并决定
// 是否从本轮开始前的 current 阶段推进。命中人工接管关键词时短路，
// 无需模型调用。任何模型或解析失败都降级为"无提取、不推进"。
func (e *Engine) analyze(ctx context.Context, userText, replyText string, currentStage *store.Stage, stages []store.Stage, session *store.Session, provider llm.Provider, model modelParams) Analysis {
	if HasHandoffRequest(userText) {
		result := Analysis{
			Variables: map[string]string{"motivo_transferencia": "pedido de atendimento humano"},
		}
		if transfer, ok := store.FindStageByType(stages, store.StageTypeTransfer); ok {
			result.Advance = true
			result.NextStageID = transfer.ID
		}
		return result
	}

	prompt := BuildAnalysisPrompt(userText, replyText, currentStage)

	resp, err := provider.Completion(ctx, &llm.ChatRequest{
		Model: model.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: prompt},
			{Role: llm.RoleUser, Content: userText},
		},
		Temperature: 0,
		MaxTokens:   model.MaxTokens,
	})
	if err != nil {
		e.logger.Warn("analysis call failed, skipping extraction",
			zap.String("session_id", session.ID),
			zap.Error(NewAnalysisError("analysis model call", err)))
		return Analysis{Variables: map[string]string{}}
	}

	extracted, explicitAdvance, ok := ParseAnalysisOutput(resp.FirstContent())
	if !ok {
		e.logger.Warn("analysis output not parseable, skipping extraction",
			zap.String("session_id", session.ID))
		return Analysis{Variables: map[string]string{}}
	}

	folded := FoldSynonyms(extracted, session.Variables)

	merged := store.VariableMap{}
	for k, v := range session.Variables {
		merged[k] = v
	}
	merged = store.MergeVariables(merged, folded)

	result := Analysis{Variables: folded}
	successor, hasSuccessor := store.NextStage(stages, currentStage.ID)
	if hasSuccessor && (explicitAdvance || HasAllRequired(currentStage, merged)) {
		result.Advance = true
		result.NextStageID = successor.ID
	}
	return result
}

// BuildAnalysisPrompt 构建分析调用的系统提示词。要求模型只返回
// 一个 JSON 对象，字段为通用提取字段与阶段必填变量的并集，外加
// avancar 布尔标志。
func BuildAnalysisPrompt(userText, replyText string, stage *store.Stage) string {
	fields := make([]string, 0, len(analysisBaseFields)+len(stage.RequiredVariables))
	seen := make(map[string]bool)
	for _, f := range analysisBaseFields {
		fields = append(fields, f)
		seen[f] = true
	}
	for _, f := range stage.RequiredVariables {
		if !seen[f] {
			fields = append(fields, f)
			seen[f] = true
		}
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("Você é um analisador de conversas comerciais. ")
	b.WriteString("Analise a última troca de mensagens e extraia fatos sobre o cliente.\n\n")
	fmt.Fprintf(&b, "Etapa atual da conversa: %s\n", stage.Name)
	fmt.Fprintf(&b, "Última resposta do assistente: %s\n\n", replyText)
	b.WriteString("Responda APENAS com um objeto JSON, sem texto antes ou depois, no formato:\n")
	b.WriteString("{\n")
	for _, f := range fields {
		fmt.Fprintf(&b, "  %q: \"valor extraído ou vazio\",\n", f)
	}
	b.WriteString("  \"avancar\": true\n")
	b.WriteString("}\n\n")
	b.WriteString("Use string vazia para campos não mencionados. ")
	b.WriteString("O campo avancar indica se o objetivo da etapa atual foi cumprido.")
	return b.String()
}

// ExtractFirstJSON 定位文本中第一个顶层的花括号结构并返回其内容。
// 逐字符扫描，跳过字符串字面量内的花括号与转义字符。
func ExtractFirstJSON(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
	}
	return "", false
}

// ParseAnalysisOutput 解析分析调用的模型输出。返回提取的变量映射、
// 显式推进标志与解析是否成功。非字符串值转换为其字面表示，空值与
// null 丢弃。
func ParseAnalysisOutput(text string) (vars map[string]string, advance bool, ok bool) {
	raw, found := ExtractFirstJSON(text)
	if !found {
		return nil, false, false
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, false, false
	}

	vars = make(map[string]string, len(parsed))
	for k, v := range parsed {
		if k == "avancar" {
			if b, isBool := v.(bool); isBool {
				advance = b
			}
			continue
		}
		s := stringifyValue(v)
		if s == "" {
			continue
		}
		vars[k] = s
	}
	return vars, advance, true
}

func stringifyValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

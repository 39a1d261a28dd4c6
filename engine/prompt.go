package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/stageflow/store"
)

// ============ 📝 提示词构建 ============

// BuildPrompt 组装回复生成的完整系统提示词。纯函数，确定性输出：
// 依次包含代理身份、语气规范、完整阶段流程、当前阶段指令、已收集
// 变量、知识库上下文与固定会话风格规则；当前阶段为诊断类型或紧邻
// 预约阶段时追加异议处理指引，避免模型在充分挖掘需求前急于预约。
func BuildPrompt(agent *store.Agent, activeStage *store.Stage, stages []store.Stage, session *store.Session, snippets []string) string {
	var b strings.Builder

	if agent.PromptPrefix != "" {
		b.WriteString(agent.PromptPrefix)
		b.WriteString("\n\n")
	}

	fmt.Fprintf(&b, "Você é %s", agent.Name)
	if agent.CompanyName != "" {
		fmt.Fprintf(&b, ", assistente comercial da %s", agent.CompanyName)
	}
	b.WriteString(".\n")
	if agent.CompanyProfile != "" {
		fmt.Fprintf(&b, "Sobre a empresa: %s\n", agent.CompanyProfile)
	}
	b.WriteString("\n")

	b.WriteString("## Estilo de comunicação\n")
	if agent.Tone != "" {
		fmt.Fprintf(&b, "- Tom: %s\n", agent.Tone)
	}
	if agent.Personality != "" {
		fmt.Fprintf(&b, "- Personalidade: %s\n", agent.Personality)
	}
	fmt.Fprintf(&b, "- Idioma: %s\n", languageOrDefault(agent.Language))
	b.WriteString("- Use emojis com moderação, no máximo um por mensagem.\n\n")

	b.WriteString("## Fluxo da conversa\n")
	for i, st := range stages {
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, st.Name, st.StageType)
	}
	b.WriteString("\n")

	pos := store.StageIndex(stages, activeStage.ID) + 1
	fmt.Fprintf(&b, "## Etapa atual: %d. %s\n", pos, activeStage.Name)
	if activeStage.Instructions != "" {
		b.WriteString(activeStage.Instructions)
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString("## Informações já coletadas\n")
	if len(session.Variables) == 0 {
		b.WriteString("Nenhuma informação coletada ainda.\n")
	} else {
		keys := make([]string, 0, len(session.Variables))
		for k := range session.Variables {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, session.Variables[k])
		}
	}
	b.WriteString("\n")

	b.WriteString("## Contexto da base de conhecimento\n")
	if len(snippets) == 0 {
		b.WriteString("Nenhum contexto adicional.\n")
	} else {
		for _, s := range snippets {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	b.WriteString("\n")

	b.WriteString("## Regras da conversa\n")
	b.WriteString("- Faça apenas uma pergunta por mensagem.\n")
	b.WriteString("- Espelhe o tom do cliente: formal com quem é formal, leve com quem é informal.\n")
	b.WriteString("- Nunca abra com frases genéricas como \"como posso ajudar?\".\n")
	b.WriteString("- Se o cliente pedir para falar com um humano, confirme imediatamente a transferência.\n")

	if needsObjectionGuidance(activeStage, stages) {
		b.WriteString("\n## Tratamento de objeções\n")
		b.WriteString("- Antes de propor uma reunião, explore a dor do cliente com profundidade.\n")
		b.WriteString("- Se o cliente hesitar, valide a objeção e responda com um benefício concreto.\n")
		b.WriteString("- Não pressione: se a objeção persistir, ofereça continuar a conversa depois.\n")
	}

	return b.String()
}

// needsObjectionGuidance 判断是否注入异议处理段：当前阶段为诊断
// 类型，或其目录后继为预约阶段。
func needsObjectionGuidance(activeStage *store.Stage, stages []store.Stage) bool {
	if activeStage.StageType == store.StageTypeDiagnosis {
		return true
	}
	if next, ok := store.NextStage(stages, activeStage.ID); ok {
		return next.StageType == store.StageTypeSchedule
	}
	return false
}

func languageOrDefault(lang string) string {
	if lang == "" {
		return "pt-BR"
	}
	return lang
}

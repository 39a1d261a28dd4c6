package engine

import "strings"

// ============ 🎯 意图识别 ============

// 购买意图关键词。任一命中即视为有购买意图（OR 语义，无打分）。
// 精确子串匹配，不做词干化或模糊匹配。
var buyingIntentKeywords = []string{
	"quero agendar",
	"quero marcar",
	"vamos agendar",
	"vamos marcar",
	"pode agendar",
	"podemos agendar",
	"agendar uma reunião",
	"agendar uma reuniao",
	"marcar uma reunião",
	"marcar uma reuniao",
	"quero contratar",
	"quero comprar",
	"quero fechar",
	"bora marcar",
}

// 人工接管关键词
var handoffKeywords = []string{
	"falar com humano",
	"falar com um humano",
	"falar com atendente",
	"falar com uma pessoa",
	"falar com alguém",
	"falar com alguem",
	"atendente",
	"atendimento humano",
	"quero um humano",
	"pessoa de verdade",
}

// HasBuyingIntent 判断文本是否表达购买/预约意图
func HasBuyingIntent(text string) bool {
	return matchesAny(text, buyingIntentKeywords)
}

// HasHandoffRequest 判断文本是否请求人工接管
func HasHandoffRequest(text string) bool {
	return matchesAny(text, handoffKeywords)
}

func matchesAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

package backend

import "strings"

// 各档位 reasoning_effort 对应的思考 token 预算。
const (
	ThinkingBudgetLow    = 1024
	ThinkingBudgetMedium = 8192
	ThinkingBudgetHigh   = 24576
)

// NormalizeReasoningEffort 对 effort 做最小规范化：
// - 清理 undefined/null 占位值
// - 其他值转为小写并 trim。
func NormalizeReasoningEffort(s string) string {
	normalized := strings.ToLower(strings.TrimSpace(s))
	switch normalized {
	case "", "undefined", "[undefined]", "null", "[null]":
		return ""
	default:
		return normalized
	}
}

// ThinkingBudgetForEffort 把 OpenAI reasoning_effort 映射为思考预算。
// 返回 ok=false 表示未指定；"none"/"minimal" 返回 (0, true) 表示显式关闭。
func ThinkingBudgetForEffort(effort string) (budget int, ok bool) {
	switch NormalizeReasoningEffort(effort) {
	case "":
		return 0, false
	case "none", "minimal":
		return 0, true
	case "low":
		return ThinkingBudgetLow, true
	case "medium":
		return ThinkingBudgetMedium, true
	case "high", "xhigh", "x-high":
		return ThinkingBudgetHigh, true
	default:
		// 未知档位按 medium 处理，避免直接把请求打挂。
		return ThinkingBudgetMedium, true
	}
}

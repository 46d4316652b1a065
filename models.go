package agb2o

import "strings"

const (
	// DefaultHost 是上游 cloudcode 接口的 Host 头。
	DefaultHost = "daily-cloudcode-pa.sandbox.googleapis.com"
	// DefaultStreamURL 是流式生成接口（SSE 形式的 data: 行）。
	DefaultStreamURL = "https://" + DefaultHost + "/v1internal:streamGenerateContent?alt=sse"
	// DefaultNoStreamURL 是非流式生成接口。
	DefaultNoStreamURL = "https://" + DefaultHost + "/v1internal:generateContent"
	// DefaultModelsURL 是可用模型列表接口。
	DefaultModelsURL = "https://" + DefaultHost + "/v1internal:fetchAvailableModels"
	// DefaultUserAgent 会用于上游请求的 User-Agent。
	DefaultUserAgent = "antigravity/1.11.3 windows/amd64"

	// ModelNamespace 是对外暴露的主命名空间。
	ModelNamespace = "antigravity/"
	// ModelOwner 是 /v1/models 中 owned_by 字段的取值。
	ModelOwner = "google"

	thinkingModelSuffix = "-thinking"
)

// NormalizeModelID 将带 namespace 的模型 ID 还原为后端需要的真实 ID。
func NormalizeModelID(modelID string) string {
	trimmed := strings.TrimSpace(modelID)
	switch {
	case strings.HasPrefix(trimmed, ModelNamespace):
		return strings.TrimPrefix(trimmed, ModelNamespace)
	case strings.HasPrefix(trimmed, "google/"):
		return strings.TrimPrefix(trimmed, "google/")
	default:
		return trimmed
	}
}

// IsThinkingModel 判断模型是否默认开启思考输出（以 -thinking 结尾，或 gemini-2.5/3 pro 系列）。
func IsThinkingModel(modelID string) bool {
	normalized := strings.ToLower(NormalizeModelID(modelID))
	if strings.HasSuffix(normalized, thinkingModelSuffix) {
		return true
	}
	return strings.HasPrefix(normalized, "gemini-2.5-pro") || strings.HasPrefix(normalized, "gemini-3-pro")
}

// IsValidModelID 只做格式校验；真实可用性由上游模型列表决定。
func IsValidModelID(modelID string) bool {
	normalized := NormalizeModelID(modelID)
	if normalized == "" {
		return false
	}
	return !strings.ContainsAny(normalized, " \t\r\n/")
}

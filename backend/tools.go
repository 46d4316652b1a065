package backend

import (
	"strings"

	"github.com/LubyRuffy/agb2o/openaiapi"
)

// FunctionDeclaration 是上游 tools[].functionDeclarations 的元素。
type FunctionDeclaration struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolDeclaration 是上游 tools 数组元素。
type ToolDeclaration struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations"`
}

// ToolConfig 控制上游的函数调用模式。
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

// 上游不接受的 JSON Schema 关键字。
var unsupportedSchemaKeys = []string{"$schema", "additionalProperties", "$id", "$ref", "$defs", "definitions"}

// FunctionDeclarationsFromOpenAITools 将 OpenAI function tools 映射为上游函数声明（按名称去重，忽略非 function 类型）。
func FunctionDeclarationsFromOpenAITools(tools []openaiapi.OpenAITool) []FunctionDeclaration {
	if len(tools) == 0 {
		return nil
	}

	result := make([]FunctionDeclaration, 0, len(tools))
	nameSet := make(map[string]struct{})

	for _, tool := range tools {
		if strings.ToLower(strings.TrimSpace(tool.Type)) != "function" {
			continue
		}
		name := strings.TrimSpace(tool.Function.Name)
		if name == "" {
			continue
		}
		normalized := strings.ToLower(name)
		if _, exists := nameSet[normalized]; exists {
			continue
		}
		nameSet[normalized] = struct{}{}

		result = append(result, FunctionDeclaration{
			Name:        name,
			Description: tool.Function.Description,
			Parameters:  SanitizeSchema(tool.Function.Parameters),
		})
	}

	if len(result) == 0 {
		return nil
	}
	return result
}

// ToolsFromDeclarations 把函数声明包装为上游 tools 数组；为空时返回 nil。
func ToolsFromDeclarations(decls []FunctionDeclaration) ([]ToolDeclaration, *ToolConfig) {
	if len(decls) == 0 {
		return nil, nil
	}
	return []ToolDeclaration{{FunctionDeclarations: decls}},
		&ToolConfig{FunctionCallingConfig: FunctionCallingConfig{Mode: "VALIDATED"}}
}

// SanitizeSchema 递归复制 schema 并去掉上游不支持的关键字，不修改入参。
func SanitizeSchema(schema map[string]interface{}) map[string]interface{} {
	if schema == nil {
		return nil
	}
	out := make(map[string]interface{}, len(schema))
	for key, value := range schema {
		if isUnsupportedSchemaKey(key) {
			continue
		}
		out[key] = sanitizeSchemaValue(value)
	}
	return out
}

func sanitizeSchemaValue(value interface{}) interface{} {
	switch v := value.(type) {
	case map[string]interface{}:
		return SanitizeSchema(v)
	case []interface{}:
		items := make([]interface{}, len(v))
		for i, item := range v {
			items[i] = sanitizeSchemaValue(item)
		}
		return items
	default:
		return value
	}
}

func isUnsupportedSchemaKey(key string) bool {
	for _, k := range unsupportedSchemaKeys {
		if key == k {
			return true
		}
	}
	return false
}

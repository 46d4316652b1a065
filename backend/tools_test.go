package backend

import (
	"testing"

	"github.com/LubyRuffy/agb2o/openaiapi"
	"github.com/stretchr/testify/require"
)

func TestFunctionDeclarationsFromOpenAITools(t *testing.T) {
	tools := []openaiapi.OpenAITool{
		{Type: "function", Function: openaiapi.OpenAIToolFunction{Name: "Read", Description: "read file"}},
		{Type: "function", Function: openaiapi.OpenAIToolFunction{Name: "read"}},
		{Type: "function", Function: openaiapi.OpenAIToolFunction{Name: "  "}},
		{Type: "web_search"},
	}
	decls := FunctionDeclarationsFromOpenAITools(tools)
	require.Equal(t, []FunctionDeclaration{{Name: "Read", Description: "read file"}}, decls)

	require.Nil(t, FunctionDeclarationsFromOpenAITools(nil))
	require.Nil(t, FunctionDeclarationsFromOpenAITools([]openaiapi.OpenAITool{{Type: "web_search"}}))

	tools2, cfg := ToolsFromDeclarations(nil)
	require.Nil(t, tools2)
	require.Nil(t, cfg)
}

func TestSanitizeSchema(t *testing.T) {
	in := map[string]interface{}{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]interface{}{
			"items": map[string]interface{}{
				"type":  "array",
				"items": []interface{}{map[string]interface{}{"type": "string", "$id": "x"}},
			},
		},
	}
	out := SanitizeSchema(in)
	require.Equal(t, map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"items": map[string]interface{}{
				"type":  "array",
				"items": []interface{}{map[string]interface{}{"type": "string"}},
			},
		},
	}, out)
	// 入参保持不变
	require.Contains(t, in, "$schema")
	require.Nil(t, SanitizeSchema(nil))
}

package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LubyRuffy/agb2o"
	"github.com/LubyRuffy/agb2o/openaiapi"
	"github.com/google/uuid"
)

// Request 是上游生成接口的请求体。
type Request struct {
	Project   string          `json:"project"`
	RequestID string          `json:"requestId"`
	Model     string          `json:"model"`
	UserAgent string          `json:"userAgent"`
	Request   GenerateRequest `json:"request"`
}

type GenerateRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	Tools             []ToolDeclaration `json:"tools,omitempty"`
	ToolConfig        *ToolConfig       `json:"toolConfig,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
	SessionID         string            `json:"sessionId,omitempty"`
}

// Content 是一轮对话，Role 取 user 或 model。
type Content struct {
	Role  string        `json:"role,omitempty"`
	Parts []RequestPart `json:"parts"`
}

type RequestPart struct {
	Text             string            `json:"text,omitempty"`
	InlineData       *InlineData       `json:"inlineData,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type GenerationConfig struct {
	Temperature     *float64        `json:"temperature,omitempty"`
	TopP            *float64        `json:"topP,omitempty"`
	TopK            *int            `json:"topK,omitempty"`
	CandidateCount  int             `json:"candidateCount,omitempty"`
	MaxOutputTokens *int            `json:"maxOutputTokens,omitempty"`
	StopSequences   []string        `json:"stopSequences,omitempty"`
	ThinkingConfig  *ThinkingConfig `json:"thinkingConfig,omitempty"`
}

type ThinkingConfig struct {
	IncludeThoughts bool `json:"includeThoughts"`
	ThinkingBudget  int  `json:"thinkingBudget"`
}

// GenerationDefaults 是请求未指定采样参数时使用的默认值。
type GenerationDefaults struct {
	Temperature *float64
	TopP        *float64
	TopK        *int
	MaxTokens   *int
	// ThinkingBudget > 0 时对所有模型开启思考输出。
	ThinkingBudget int
}

type RequestOptions struct {
	// ProjectID 为空时由 Client 根据凭证补齐。
	ProjectID string
	UserAgent string
	Defaults  GenerationDefaults
}

// BuildRequest 将 OpenAI chat 请求转换为上游请求体。
func BuildRequest(req *openaiapi.OpenAIChatRequest, opts RequestOptions) (*Request, error) {
	if req == nil {
		return nil, fmt.Errorf("request is required")
	}
	model := agb2o.NormalizeModelID(req.Model)
	if !agb2o.IsValidModelID(model) {
		return nil, fmt.Errorf("invalid model: %q", req.Model)
	}

	contents, system, err := convertMessages(req.Messages)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("no valid messages to send")
	}

	tools, toolConfig := ToolsFromDeclarations(FunctionDeclarationsFromOpenAITools(req.Tools))
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = "antigravity"
	}

	return &Request{
		Project:   strings.TrimSpace(opts.ProjectID),
		RequestID: "agent-" + uuid.NewString(),
		Model:     model,
		UserAgent: userAgent,
		Request: GenerateRequest{
			Contents:          contents,
			SystemInstruction: system,
			Tools:             tools,
			ToolConfig:        toolConfig,
			GenerationConfig:  buildGenerationConfig(req, model, opts.Defaults),
			SessionID:         "-" + uuid.NewString(),
		},
	}, nil
}

func buildGenerationConfig(req *openaiapi.OpenAIChatRequest, model string, defaults GenerationDefaults) *GenerationConfig {
	cfg := &GenerationConfig{
		Temperature:     firstFloat(req.Temperature, defaults.Temperature),
		TopP:            firstFloat(req.TopP, defaults.TopP),
		TopK:            firstInt(req.TopK, defaults.TopK),
		MaxOutputTokens: firstInt(req.MaxTokens, defaults.MaxTokens),
		CandidateCount:  1,
		StopSequences:   stopSequences(req.Stop),
	}

	budget, explicit := ThinkingBudgetForEffort(req.ReasoningEffort)
	switch {
	case explicit && budget == 0:
		// 显式关闭
	case explicit:
		cfg.ThinkingConfig = &ThinkingConfig{IncludeThoughts: true, ThinkingBudget: budget}
	case defaults.ThinkingBudget > 0:
		cfg.ThinkingConfig = &ThinkingConfig{IncludeThoughts: true, ThinkingBudget: defaults.ThinkingBudget}
	case agb2o.IsThinkingModel(model):
		cfg.ThinkingConfig = &ThinkingConfig{IncludeThoughts: true, ThinkingBudget: ThinkingBudgetLow}
	}
	return cfg
}

func convertMessages(messages []openaiapi.OpenAIMessage) ([]Content, *Content, error) {
	var system []RequestPart
	contents := make([]Content, 0, len(messages))
	// tool_call_id -> 函数名，tool 消息需要回填 name。
	callNames := make(map[string]string)

	for i, msg := range messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case "system", "developer":
			if text := strings.TrimSpace(extractText(msg.Content)); text != "" {
				system = append(system, RequestPart{Text: text})
			}
		case "user":
			parts, err := userParts(msg.Content)
			if err != nil {
				return nil, nil, fmt.Errorf("messages[%d]: %w", i, err)
			}
			if len(parts) > 0 {
				contents = append(contents, Content{Role: "user", Parts: parts})
			}
		case "assistant":
			var parts []RequestPart
			if text := extractText(msg.Content); text != "" {
				parts = append(parts, RequestPart{Text: text})
			}
			for _, call := range msg.ToolCalls {
				name := strings.TrimSpace(call.Function.Name)
				if name == "" {
					continue
				}
				if id := strings.TrimSpace(call.ID); id != "" {
					callNames[id] = name
				}
				parts = append(parts, RequestPart{FunctionCall: &FunctionCall{
					ID:   strings.TrimSpace(call.ID),
					Name: name,
					Args: argumentsToRaw(call.Function.Arguments),
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, Content{Role: "model", Parts: parts})
			}
		case "tool", "function":
			callID := strings.TrimSpace(msg.ToolCallID)
			name := callNames[callID]
			if name == "" {
				name = strings.TrimSpace(msg.Name)
			}
			if name == "" {
				return nil, nil, fmt.Errorf("messages[%d]: tool result without matching tool call", i)
			}
			part := RequestPart{FunctionResponse: &FunctionResponse{
				ID:       callID,
				Name:     name,
				Response: map[string]any{"output": extractText(msg.Content)},
			}}
			// 连续的工具结果合并为同一个 user 轮次。
			if n := len(contents); n > 0 && isFunctionResponseTurn(contents[n-1]) {
				contents[n-1].Parts = append(contents[n-1].Parts, part)
				continue
			}
			contents = append(contents, Content{Role: "user", Parts: []RequestPart{part}})
		default:
			return nil, nil, fmt.Errorf("messages[%d]: unsupported role %q", i, msg.Role)
		}
	}

	if len(system) == 0 {
		return contents, nil, nil
	}
	return contents, &Content{Role: "user", Parts: system}, nil
}

func isFunctionResponseTurn(c Content) bool {
	if c.Role != "user" || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

// extractText 拼接字符串内容或 content part 数组中的文本。
func extractText(content any) string {
	switch v := content.(type) {
	case nil:
		return ""
	case string:
		return v
	case []any:
		var builder strings.Builder
		for _, item := range v {
			part, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if t, _ := part["type"].(string); t == "text" {
				text, _ := part["text"].(string)
				builder.WriteString(text)
			}
		}
		return builder.String()
	default:
		data, _ := json.Marshal(v)
		return string(data)
	}
}

func userParts(content any) ([]RequestPart, error) {
	items, ok := content.([]any)
	if !ok {
		if text := extractText(content); text != "" {
			return []RequestPart{{Text: text}}, nil
		}
		return nil, nil
	}

	parts := make([]RequestPart, 0, len(items))
	for _, item := range items {
		part, ok := item.(map[string]any)
		if !ok {
			continue
		}
		switch t, _ := part["type"].(string); t {
		case "text":
			if text, _ := part["text"].(string); text != "" {
				parts = append(parts, RequestPart{Text: text})
			}
		case "image_url":
			url := imageURL(part["image_url"])
			inline, err := parseDataURL(url)
			if err != nil {
				return nil, err
			}
			parts = append(parts, RequestPart{InlineData: inline})
		}
	}
	return parts, nil
}

func imageURL(v any) string {
	switch value := v.(type) {
	case string:
		return value
	case map[string]any:
		url, _ := value["url"].(string)
		return url
	default:
		return ""
	}
}

// parseDataURL 只接受 data:<mime>;base64,<data> 形式的图片。
func parseDataURL(url string) (*InlineData, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return nil, fmt.Errorf("only base64 data url images are supported")
	}
	meta, data, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("malformed data url")
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok || mime == "" {
		return nil, fmt.Errorf("malformed data url")
	}
	return &InlineData{MimeType: mime, Data: data}, nil
}

// argumentsToRaw 把 OpenAI 的 JSON 字符串参数转为对象；非法 JSON 包装为 {"input": "..."}。
func argumentsToRaw(arguments string) json.RawMessage {
	trimmed := strings.TrimSpace(arguments)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return json.RawMessage(trimmed)
	}
	data, _ := json.Marshal(map[string]string{"input": arguments})
	return data
}

func stopSequences(stop any) []string {
	switch v := stop.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	case []string:
		return v
	default:
		return nil
	}
}

func firstFloat(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

func firstInt(values ...*int) *int {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}

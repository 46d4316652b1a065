package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/LubyRuffy/agb2o/openaiapi"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

type ChatModelConfig struct {
	Model  string
	Client *Client
	// Request 控制 project/userAgent 与采样默认值。
	Request      RequestOptions
	Instructions string
	// ReasoningEffort 映射为思考预算（low/medium/high/none）。
	ReasoningEffort string
}

// ChatModel 是基于 Client 的 ToolCallingChatModel 实现：思考内容放入 ReasoningContent（不带标记）。
type ChatModel struct {
	config ChatModelConfig
	tools  []openaiapi.OpenAITool
}

var _ einoModel.ToolCallingChatModel = (*ChatModel)(nil)

func NewChatModel(config ChatModelConfig) (*ChatModel, error) {
	if strings.TrimSpace(config.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if config.Client == nil {
		return nil, fmt.Errorf("client is required")
	}
	return &ChatModel{config: config}, nil
}

func (m *ChatModel) Generate(ctx context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.Message, error) {
	req, err := m.buildRequest(input)
	if err != nil {
		return nil, err
	}
	result, err := m.config.Client.Completion(ctx, req)
	if err != nil {
		return nil, err
	}
	msg := schema.AssistantMessage(result.Text, toSchemaToolCalls(result.ToolCalls))
	msg.ReasoningContent = result.Reasoning
	return msg, nil
}

func (m *ChatModel) Stream(ctx context.Context, input []*schema.Message, _ ...einoModel.Option) (*schema.StreamReader[*schema.Message], error) {
	req, err := m.buildRequest(input)
	if err != nil {
		return nil, err
	}
	sr, sw := schema.Pipe[*schema.Message](64)
	go func() {
		defer sw.Close()
		send := func(msg *schema.Message) error {
			if closed := sw.Send(msg, nil); closed {
				return context.Canceled
			}
			return nil
		}
		// 开闭标记按位置识别：块内第一个思考增量是开标记，块内最后一个（其后紧跟正文或函数调用）是闭标记。
		// held 暂存块内最近一个思考增量，直到确认它不是闭标记。
		var (
			thinkingOpen bool
			held         *string
		)
		flush := func() error {
			if held == nil {
				return nil
			}
			content := *held
			held = nil
			if content == "" {
				return nil
			}
			return send(&schema.Message{Role: schema.Assistant, ReasoningContent: content})
		}
		err := m.config.Client.StreamCompletion(ctx, req, func(event Event) error {
			if event.Type == EventThinking {
				if !thinkingOpen {
					thinkingOpen = true
					return nil
				}
				if err := flush(); err != nil {
					return err
				}
				content := event.Content
				held = &content
				return nil
			}
			if thinkingOpen {
				thinkingOpen = false
				held = nil
			}
			msg := &schema.Message{Role: schema.Assistant}
			switch event.Type {
			case EventText:
				if event.Content == "" {
					return nil
				}
				msg.Content = event.Content
			case EventToolCalls:
				msg.ToolCalls = toSchemaToolCalls(event.ToolCalls)
			}
			return send(msg)
		})
		if err == nil {
			// 思考块未闭合就结束时，暂存的是真实思考内容。
			err = flush()
		}
		if err != nil {
			sw.Send(nil, err)
		}
	}()
	return sr, nil
}

func (m *ChatModel) WithTools(tools []*schema.ToolInfo) (einoModel.ToolCallingChatModel, error) {
	converted := make([]openaiapi.OpenAITool, 0, len(tools))
	for _, info := range tools {
		if info == nil {
			continue
		}
		params, err := toolParameters(info)
		if err != nil {
			return nil, fmt.Errorf("tool %q: %w", info.Name, err)
		}
		converted = append(converted, openaiapi.OpenAITool{
			Type: "function",
			Function: openaiapi.OpenAIToolFunction{
				Name:        info.Name,
				Description: info.Desc,
				Parameters:  params,
			},
		})
	}
	cloned := *m
	cloned.tools = converted
	return &cloned, nil
}

func toolParameters(info *schema.ToolInfo) (map[string]interface{}, error) {
	if info.ParamsOneOf == nil {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, nil
	}
	js, err := info.ParamsOneOf.ToJSONSchema()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(js)
	if err != nil {
		return nil, err
	}
	var params map[string]interface{}
	if err := json.Unmarshal(data, &params); err != nil {
		return nil, err
	}
	return params, nil
}

func (m *ChatModel) buildRequest(input []*schema.Message) (*Request, error) {
	messages := make([]openaiapi.OpenAIMessage, 0, len(input)+1)
	if instructions := strings.TrimSpace(m.config.Instructions); instructions != "" {
		messages = append(messages, openaiapi.OpenAIMessage{Role: "system", Content: instructions})
	}
	for _, msg := range input {
		if msg == nil {
			continue
		}
		converted := openaiapi.OpenAIMessage{
			Role:       string(msg.Role),
			Content:    resolveMessageContent(msg),
			ToolCallID: msg.ToolCallID,
			Name:       msg.ToolName,
		}
		for i, tc := range msg.ToolCalls {
			converted.ToolCalls = append(converted.ToolCalls, openaiapi.OpenAIToolCall{
				ID:    tc.ID,
				Index: i,
				Type:  "function",
				Function: openaiapi.OpenAIToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
		messages = append(messages, converted)
	}

	return BuildRequest(&openaiapi.OpenAIChatRequest{
		Model:           m.config.Model,
		Messages:        messages,
		Tools:           m.tools,
		ReasoningEffort: m.config.ReasoningEffort,
	}, m.config.Request)
}

func resolveMessageContent(msg *schema.Message) string {
	if msg.Content != "" {
		return msg.Content
	}
	if len(msg.UserInputMultiContent) > 0 {
		var builder strings.Builder
		for _, part := range msg.UserInputMultiContent {
			if part.Type == schema.ChatMessagePartTypeText {
				builder.WriteString(part.Text)
			}
		}
		return builder.String()
	}
	return ""
}

func toSchemaToolCalls(calls []ToolCall) []schema.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]schema.ToolCall, 0, len(calls))
	for i, call := range calls {
		index := i
		out = append(out, schema.ToolCall{
			Index: &index,
			ID:    call.ID,
			Type:  call.Type,
			Function: schema.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return out
}

package backend

import "strings"

// streamState 是单次流式调用的可变状态，调用开始时创建、结束时丢弃。
type streamState struct {
	thinkingOpen bool
	pending      []ToolCall
	ids          *callIDGenerator
	usage        *Usage
}

func newStreamState() *streamState {
	return &streamState{ids: newCallIDGenerator()}
}

// translate 按到达顺序处理一帧中的所有 part，并在帧带 finishReason 时整体刷出累积的函数调用。
// emit 返回错误时立即停止，已累积的函数调用不会被发出。
func (s *streamState) translate(frame *Frame, emit EventSink) error {
	for _, part := range frame.Parts() {
		switch part.Kind() {
		case PartThinking:
			if !s.thinkingOpen {
				if err := emit(thinkingDelta(ThinkingOpenMarker)); err != nil {
					return err
				}
				s.thinkingOpen = true
			}
			if err := emit(thinkingDelta(part.TextValue())); err != nil {
				return err
			}
		case PartText:
			if err := s.closeThinking(emit); err != nil {
				return err
			}
			if err := emit(textDelta(part.TextValue())); err != nil {
				return err
			}
		case PartFunctionCall:
			s.pending = append(s.pending, toolCallFromPart(part.FunctionCall, s.ids))
		}
	}

	if usage := frame.Usage(); usage != nil {
		s.usage = usage
	}

	if frame.Finished() && len(s.pending) > 0 {
		if err := s.closeThinking(emit); err != nil {
			return err
		}
		batch := s.pending
		s.pending = nil
		if err := emit(Event{Type: EventToolCalls, ToolCalls: batch}); err != nil {
			return err
		}
	}
	return nil
}

func (s *streamState) closeThinking(emit EventSink) error {
	if !s.thinkingOpen {
		return nil
	}
	if err := emit(thinkingDelta(ThinkingCloseMarker)); err != nil {
		return err
	}
	s.thinkingOpen = false
	return nil
}

// Completion 是非流式调用的聚合结果。
type Completion struct {
	// Content 在存在思考内容时以 "<think>\n...\n</think>\n" 开头。
	Content string
	// Reasoning 与 Text 是未折叠的思考内容与正文，不必再从 Content 中拆分。
	Reasoning    string
	Text         string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        *Usage
}

// aggregate 把单个响应 envelope 的全部 part 聚合为一个结果；函数调用无需等待 finishReason。
func aggregate(frame *Frame, ids *callIDGenerator) *Completion {
	var thinking, content strings.Builder
	toolCalls := make([]ToolCall, 0)
	for _, part := range frame.Parts() {
		switch part.Kind() {
		case PartThinking:
			thinking.WriteString(part.TextValue())
		case PartText:
			content.WriteString(part.TextValue())
		case PartFunctionCall:
			toolCalls = append(toolCalls, toolCallFromPart(part.FunctionCall, ids))
		}
	}

	result := &Completion{
		Content:      content.String(),
		Reasoning:    thinking.String(),
		Text:         content.String(),
		ToolCalls:    toolCalls,
		FinishReason: frame.FinishReason(),
		Usage:        frame.Usage(),
	}
	if thinking.Len() > 0 {
		result.Content = ThinkingOpenMarker + thinking.String() + ThinkingCloseMarker + result.Content
	}
	return result
}

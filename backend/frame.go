package backend

import (
	"bytes"
	"encoding/json"
	"strings"
)

// dataPrefix 是上游数据行的固定前缀。
const dataPrefix = "data: "

// Frame 是一行 data 记录解码后的结构（只映射用到的路径）。
type Frame struct {
	Response *frameResponse `json:"response"`
}

type frameResponse struct {
	Candidates    []frameCandidate `json:"candidates"`
	UsageMetadata *Usage           `json:"usageMetadata,omitempty"`
}

type frameCandidate struct {
	Content      *frameContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

type frameContent struct {
	Role  string `json:"role"`
	Parts []Part `json:"parts"`
}

// Part 是一个内容单元：思考文本、回答文本或函数调用三者之一。
type Part struct {
	Thought      bool          `json:"thought,omitempty"`
	Text         *string       `json:"text,omitempty"`
	FunctionCall *FunctionCall `json:"functionCall,omitempty"`
}

// FunctionCall 是上游返回的函数调用，ID 可能缺失。
type FunctionCall struct {
	ID   string          `json:"id,omitempty"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

// Usage 对应 usageMetadata。
type Usage struct {
	PromptTokenCount     int `json:"promptTokenCount,omitempty"`
	CandidatesTokenCount int `json:"candidatesTokenCount,omitempty"`
	ThoughtsTokenCount   int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount      int `json:"totalTokenCount,omitempty"`
}

// PartKind 区分 Part 的三种形态。
type PartKind int

const (
	PartUnknown PartKind = iota
	PartThinking
	PartText
	PartFunctionCall
)

// Kind 按上游语义判断形态：thought=true 优先，其次存在 text 字段，最后是 functionCall。
func (p Part) Kind() PartKind {
	switch {
	case p.Thought:
		return PartThinking
	case p.Text != nil:
		return PartText
	case p.FunctionCall != nil:
		return PartFunctionCall
	default:
		return PartUnknown
	}
}

// TextValue 返回文本内容，缺失时为空串。
func (p Part) TextValue() string {
	if p.Text == nil {
		return ""
	}
	return *p.Text
}

// Arguments 把 args 序列化为紧凑 JSON 字符串；缺失时为 "{}"。
func (c *FunctionCall) Arguments() string {
	raw := bytes.TrimSpace(c.Args)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

func (f *Frame) candidate() *frameCandidate {
	if f == nil || f.Response == nil || len(f.Response.Candidates) == 0 {
		return nil
	}
	return &f.Response.Candidates[0]
}

// Parts 返回第一个 candidate 的 content.parts。
func (f *Frame) Parts() []Part {
	c := f.candidate()
	if c == nil || c.Content == nil {
		return nil
	}
	return c.Content.Parts
}

// Finished 表示帧携带 finishReason（回合结束）。
func (f *Frame) Finished() bool {
	c := f.candidate()
	return c != nil && c.FinishReason != ""
}

// FinishReason 返回原始 finishReason。
func (f *Frame) FinishReason() string {
	c := f.candidate()
	if c == nil {
		return ""
	}
	return c.FinishReason
}

// Usage 返回 usageMetadata，可能为 nil。
func (f *Frame) Usage() *Usage {
	if f == nil || f.Response == nil {
		return nil
	}
	return f.Response.UsageMetadata
}

// ParseLine 解析一行记录：非 data 行返回 (nil, nil)；JSON 损坏返回 *FrameDecodeError。
func ParseLine(line string) (*Frame, error) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, dataPrefix) {
		return nil, nil
	}
	return decodeFrame([]byte(line[len(dataPrefix):]), line)
}

// decodeFrame 同时用于非流式响应体（整个 body 就是一个 envelope）。
func decodeFrame(data []byte, origin string) (*Frame, error) {
	var frame Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, &FrameDecodeError{Line: origin, Err: err}
	}
	return &frame, nil
}

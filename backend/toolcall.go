package backend

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ToolCall 是一次函数调用，字段与 OpenAI tool_calls 对齐；创建后不可修改。
type ToolCall struct {
	ID        string
	Type      string
	Name      string
	Arguments string
}

// callIDGenerator 为缺失 id 的函数调用生成标识：同一次调用内唯一且稳定，不依赖全局计数器。
type callIDGenerator struct {
	prefix string
	next   int
}

func newCallIDGenerator() *callIDGenerator {
	return &callIDGenerator{prefix: strings.ReplaceAll(uuid.NewString(), "-", "")[:8]}
}

func (g *callIDGenerator) New() string {
	g.next++
	return fmt.Sprintf("call_%s_%d", g.prefix, g.next)
}

func toolCallFromPart(fc *FunctionCall, ids *callIDGenerator) ToolCall {
	id := strings.TrimSpace(fc.ID)
	if id == "" {
		id = ids.New()
	}
	return ToolCall{
		ID:        id,
		Type:      "function",
		Name:      fc.Name,
		Arguments: fc.Arguments(),
	}
}

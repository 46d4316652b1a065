package backend

const (
	// ThinkingOpenMarker 在思考块开始时作为一次思考增量发出。
	ThinkingOpenMarker = "<think>\n"
	// ThinkingCloseMarker 在思考块结束时作为一次思考增量发出。
	ThinkingCloseMarker = "\n</think>\n"
)

// EventType 是对调用方发出的事件种类。
type EventType string

const (
	EventThinking  EventType = "thinking"
	EventText      EventType = "text"
	EventToolCalls EventType = "tool_calls"
)

// Event 每次只携带一种形态：thinking/text 使用 Content，tool_calls 使用 ToolCalls。
type Event struct {
	Type      EventType
	Content   string
	ToolCalls []ToolCall
}

// EventSink 同步接收事件；返回错误会中止本次调用（例如下游连接断开）。
type EventSink func(Event) error

func thinkingDelta(text string) Event { return Event{Type: EventThinking, Content: text} }

func textDelta(text string) Event { return Event{Type: EventText, Content: text} }

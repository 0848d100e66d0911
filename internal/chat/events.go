package chat

// StreamEventKind 流事件类型
// StreamEventKind identifies one unit of a model response stream
type StreamEventKind int

const (
	// EventTextDelta 文本增量 / a chunk of generated text
	EventTextDelta StreamEventKind = iota
	// EventCompleted 正常结束 / the stream finished normally
	EventCompleted
	// EventError 终止错误 / the stream terminated with an error
	EventError
)

// StreamEvent 模型客户端产生的流事件；每个流以恰好一个 Completed 或 Error 结束
// StreamEvent is one unit of the lazy sequence a model client produces for a
// single turn. A stream ends in exactly one Completed or Error event and
// never stops silently.
type StreamEvent struct {
	Kind StreamEventKind

	// Text carries the delta for EventTextDelta.
	Text string

	// FinishReason is set for EventCompleted.
	FinishReason string

	// FailKind and Err describe an EventError.
	FailKind FailKind
	Err      error
}

// TextDelta 构造文本增量事件 / builds a text delta event
func TextDelta(text string) StreamEvent {
	return StreamEvent{Kind: EventTextDelta, Text: text}
}

// Completed 构造完成事件 / builds a completion event
func Completed(finishReason string) StreamEvent {
	return StreamEvent{Kind: EventCompleted, FinishReason: finishReason}
}

// StreamError 构造错误事件 / builds a terminal error event
func StreamError(kind FailKind, err error) StreamEvent {
	return StreamEvent{Kind: EventError, FailKind: kind, Err: err}
}

// TurnEventKind UI 事件类型
// TurnEventKind identifies an event published to the UI layer
type TurnEventKind int

const (
	// EventTurnStarted 回合开始（已追加用户回合与待生成回合）
	// EventTurnStarted: the user turn and the pending model turn were appended
	EventTurnStarted TurnEventKind = iota
	// EventAttachmentRejected 附件被拒（回合继续）
	// EventAttachmentRejected: an attachment was dropped; the turn proceeds
	EventAttachmentRejected
	// EventTextAppended 追加了一段生成文本
	// EventTextAppended: a delta was appended to the model turn
	EventTextAppended
	// EventTurnCompleted 回合完成 / the model turn completed
	EventTurnCompleted
	// EventTurnFailed 回合失败（含取消）/ the model turn failed (incl. cancel)
	EventTurnFailed
	// EventNotice 非致命提示（例如持久化失败）
	// EventNotice: a non-fatal notification, e.g. persistence failure
	EventNotice
)

// TurnEvent 会话向 UI 发布的事件；同一回合内按产生顺序投递
// TurnEvent is one event on the per-turn stream a Session exposes to the UI.
// Events of the same turn are delivered in the exact order they were produced.
type TurnEvent struct {
	Kind      TurnEventKind
	SessionID string

	// Delta carries the appended text for EventTextAppended.
	Delta string

	// Source and Reason describe an EventAttachmentRejected or EventNotice.
	Source string
	Reason string

	// FailKind is set for EventTurnFailed.
	FailKind FailKind
}

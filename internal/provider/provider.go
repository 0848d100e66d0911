package provider

import (
	"context"
	"errors"

	"geminichat/internal/chat"
)

// Provider 模型提供商接口 / Provider is a model backend.
//
// Stream starts one generation for the given conversation and returns a
// Stream whose events arrive in model order. turns must end with the user
// turn being answered; pending or failed model turns are skipped.
type Provider interface {
	// Name returns the provider identifier, e.g. "gemini".
	Name() string

	// Stream begins a streaming generation. The returned Stream always
	// terminates with exactly one Completed or Error event.
	Stream(ctx context.Context, model string, turns []chat.Turn) (*Stream, error)

	// ListModels returns the model ids the backend offers.
	ListModels(ctx context.Context) ([]string, error)
}

// Stream 单次生成的事件流。事件由一个后台 goroutine 写入，通道在终止事件之后关闭。
// Stream carries the events of one generation. A single goroutine feeds the
// channel and closes it right after the terminal event.
type Stream struct {
	events chan chat.StreamEvent
	cancel context.CancelFunc
}

// NewStream wires an event channel to a cancel function. Exposed so tests
// and fakes can produce streams with scripted events.
func NewStream(events chan chat.StreamEvent, cancel context.CancelFunc) *Stream {
	return &Stream{events: events, cancel: cancel}
}

// Events returns the ordered event channel. It is closed after the terminal
// Completed or Error event.
func (s *Stream) Events() <-chan chat.StreamEvent { return s.events }

// Close aborts the generation. The consumer still receives a terminal
// Error event with kind Cancelled before the channel closes.
func (s *Stream) Close() {
	if s.cancel != nil {
		s.cancel()
	}
}

// errStreamStopped is reported when the backend ends a stream without a
// finish reason. A stream must never just go quiet.
var errStreamStopped = errors.New("stream stopped without completion")

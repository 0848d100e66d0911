package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"geminichat/internal/attach"
	"geminichat/internal/chat"
	"geminichat/internal/provider"
)

// ErrSessionBusy 同一会话同时只允许一个进行中的回合。
// ErrSessionBusy is returned while a turn is pending or streaming. The
// rejection is synchronous and leaves the conversation untouched.
var ErrSessionBusy = errors.New("session busy: a turn is already in flight")

// ErrEmptyTurn is returned when a send carries neither text nor attachments.
var ErrEmptyTurn = errors.New("empty turn")

// persistTimeout bounds the store write that follows a terminal turn state.
const persistTimeout = 10 * time.Second

// Persister 会话落盘的最小接口 / the slice of the store a live session needs
type Persister interface {
	Persist(ctx context.Context, s *chat.Session) error
}

// Session 驱动一次对话：追加回合、调用模型、按序发布事件、在终态落盘。
// Session drives one conversation. It appends turns, runs the model stream
// on a background goroutine, publishes ordered TurnEvents to the UI, and
// persists the record when a turn reaches a terminal state. All methods are
// safe for concurrent use.
type Session struct {
	mu     sync.Mutex
	record *chat.Session

	provider   provider.Provider
	normalizer *attach.Normalizer
	store      Persister
	logger     *slog.Logger

	busy   bool
	cancel context.CancelFunc
}

// New wraps a conversation record with its collaborators.
func New(record *chat.Session, p provider.Provider, n *attach.Normalizer, store Persister, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		record:     record,
		provider:   p,
		normalizer: n,
		store:      store,
		logger:     logger,
	}
}

// ID returns the conversation id.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.ID
}

// Model returns the model id the session sends to.
func (s *Session) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.record.Model
}

// SetModel switches the model for subsequent turns.
func (s *Session) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Model = strings.TrimSpace(model)
}

// SetFolder assigns the conversation to a folder for subsequent persists.
// An empty id clears the membership. The store row is updated separately;
// without this the next terminal-state persist would write the stale
// membership back.
func (s *Session) SetFolder(folderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.FolderID = strings.TrimSpace(folderID)
}

// SetTitle sets an explicit conversation title. An explicit title is never
// overwritten by inference.
func (s *Session) SetTitle(title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Title = strings.TrimSpace(title)
}

// Busy reports whether a turn is currently pending or streaming.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// Snapshot returns a deep copy of the conversation record for display.
func (s *Session) Snapshot() chat.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := *s.record
	out.Turns = make([]chat.Turn, len(s.record.Turns))
	for i, turn := range s.record.Turns {
		turn.Parts = append([]chat.Part(nil), turn.Parts...)
		out.Turns[i] = turn
	}
	return out
}

// SendTurn 发送一个用户回合。同步追加用户回合与待生成的模型回合；
// 归一化、流式生成与落盘都在后台 goroutine 完成，结果经返回的通道按序送达。
//
// SendTurn submits one user turn. The user turn and a pending model turn are
// appended synchronously; normalization, streaming and persistence happen on
// a background goroutine. Events arrive on the returned channel in exactly
// the order they were produced, ending with TurnCompleted or TurnFailed,
// after which the channel is closed. While a turn is in flight further sends
// fail with ErrSessionBusy and change nothing.
func (s *Session) SendTurn(ctx context.Context, text string, sources []string) (<-chan chat.TurnEvent, error) {
	text = strings.TrimSpace(text)
	if text == "" && len(sources) == 0 {
		return nil, ErrEmptyTurn
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return nil, ErrSessionBusy
	}

	userTurn := chat.Turn{Role: chat.RoleUser, Status: chat.StatusComplete, CreatedAt: chat.Now()}
	if text != "" {
		userTurn.Parts = append(userTurn.Parts, chat.TextPart(text))
	}
	s.record.Turns = append(s.record.Turns,
		userTurn,
		chat.Turn{Role: chat.RoleModel, Status: chat.StatusPending, CreatedAt: chat.Now()},
	)

	ctx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancel = cancel
	id := s.record.ID
	s.mu.Unlock()

	events := make(chan chat.TurnEvent, 64)
	go s.run(ctx, cancel, id, sources, events)
	return events, nil
}

// Cancel aborts the in-flight turn, if any. The turn ends in StatusFailed
// with kind Cancelled; Cancel itself returns immediately.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, id string, sources []string, events chan<- chat.TurnEvent) {
	defer close(events)
	defer func() {
		s.mu.Lock()
		s.busy = false
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	events <- chat.TurnEvent{Kind: chat.EventTurnStarted, SessionID: id}

	// Attachments that fail to normalize are dropped with a notification;
	// the turn proceeds with whatever survived.
	if len(sources) > 0 {
		parts, rejections := s.normalizer.NormalizeAll(ctx, sources)
		for _, rej := range rejections {
			s.logger.Warn("attachment rejected", "session", id, "source", rej.Source, "error", rej.Err)
			events <- chat.TurnEvent{
				Kind:      chat.EventAttachmentRejected,
				SessionID: id,
				Source:    rej.Source,
				Reason:    rej.Err.Error(),
			}
		}
		s.mu.Lock()
		user := &s.record.Turns[len(s.record.Turns)-2]
		user.Parts = append(user.Parts, parts...)
		s.mu.Unlock()
	}

	s.mu.Lock()
	model := s.record.Model
	history := append([]chat.Turn(nil), s.record.Turns[:len(s.record.Turns)-1]...)
	s.mu.Unlock()

	stream, err := s.provider.Stream(ctx, model, history)
	if err != nil {
		s.finishFailed(id, chat.FailAPI, err, events)
		return
	}
	defer stream.Close()

	for ev := range stream.Events() {
		switch ev.Kind {
		case chat.EventTextDelta:
			s.mu.Lock()
			turn := s.modelTurn()
			if turn.Status == chat.StatusPending {
				turn.Status = chat.StatusStreaming
			}
			turn.AppendText(ev.Text)
			s.mu.Unlock()
			events <- chat.TurnEvent{Kind: chat.EventTextAppended, SessionID: id, Delta: ev.Text}

		case chat.EventCompleted:
			s.finishComplete(id, events)
			return

		case chat.EventError:
			s.finishFailed(id, ev.FailKind, ev.Err, events)
			return
		}
	}

	// A closed stream without a terminal event is a provider bug; surface
	// it as a failure rather than hanging the turn.
	s.finishFailed(id, chat.FailNetwork, errors.New("stream ended without completion"), events)
}

func (s *Session) finishComplete(id string, events chan<- chat.TurnEvent) {
	s.mu.Lock()
	turn := s.modelTurn()
	turn.Status = chat.StatusComplete
	s.touchLocked()
	s.mu.Unlock()

	s.persist(id, events)
	events <- chat.TurnEvent{Kind: chat.EventTurnCompleted, SessionID: id}
}

func (s *Session) finishFailed(id string, kind chat.FailKind, err error, events chan<- chat.TurnEvent) {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	s.mu.Lock()
	turn := s.modelTurn()
	turn.Status = chat.StatusFailed
	turn.FailKind = kind
	turn.FailError = msg
	s.touchLocked()
	s.mu.Unlock()

	s.logger.Warn("turn failed", "session", id, "kind", kind, "error", msg)
	s.persist(id, events)
	events <- chat.TurnEvent{Kind: chat.EventTurnFailed, SessionID: id, FailKind: kind, Reason: msg}
}

// modelTurn returns the trailing model turn. Callers hold s.mu.
func (s *Session) modelTurn() *chat.Turn {
	return &s.record.Turns[len(s.record.Turns)-1]
}

// touchLocked refreshes UpdatedAt and the inferred title. Callers hold s.mu.
func (s *Session) touchLocked() {
	s.record.UpdatedAt = chat.Now()
	if s.record.Title == "" {
		s.record.Title = s.record.InferTitle()
	}
}

// persist writes the record after a terminal state. A store failure is
// non-fatal: the in-memory conversation stays intact and the UI is notified.
func (s *Session) persist(id string, events chan<- chat.TurnEvent) {
	if s.store == nil {
		return
	}
	// The turn context may already be cancelled; persistence still has to
	// happen, so it gets its own deadline.
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	s.mu.Lock()
	record := s.record
	err := s.store.Persist(ctx, record)
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("persist failed", "session", id, "error", err)
		events <- chat.TurnEvent{Kind: chat.EventNotice, SessionID: id, Reason: "save failed: " + err.Error()}
	}
}

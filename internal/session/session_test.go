package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"geminichat/internal/attach"
	"geminichat/internal/chat"
	"geminichat/internal/provider"
)

// fakeProvider replays a scripted event sequence. When gate is non-nil the
// script is held back until the gate closes, so tests can observe the busy
// window and exercise cancellation.
type fakeProvider struct {
	mu     sync.Mutex
	script []chat.StreamEvent
	gate   chan struct{}
	calls  [][]chat.Turn
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) ListModels(ctx context.Context) ([]string, error) {
	return []string{"fake-model"}, nil
}

func (f *fakeProvider) Stream(ctx context.Context, model string, turns []chat.Turn) (*provider.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, turns)
	script := append([]chat.StreamEvent(nil), f.script...)
	gate := f.gate
	f.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	events := make(chan chat.StreamEvent, len(script)+1)
	go func() {
		defer close(events)
		if gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				events <- chat.StreamError(chat.FailCancelled, ctx.Err())
				return
			}
		}
		for _, ev := range script {
			select {
			case <-ctx.Done():
				events <- chat.StreamError(chat.FailCancelled, ctx.Err())
				return
			default:
				events <- ev
			}
		}
	}()
	return provider.NewStream(events, cancel), nil
}

func (f *fakeProvider) streamedTurns() [][]chat.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeStore struct {
	mu       sync.Mutex
	persists int
	failWith error
	last     *chat.Session
}

func (f *fakeStore) Persist(ctx context.Context, s *chat.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return f.failWith
	}
	f.persists++
	cp := *s
	cp.Turns = append([]chat.Turn(nil), s.Turns...)
	f.last = &cp
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persists
}

func (f *fakeStore) lastPersisted() *chat.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func collect(t *testing.T, events <-chan chat.TurnEvent) []chat.TurnEvent {
	t.Helper()
	var out []chat.TurnEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %d so far", len(out))
		}
	}
}

func kinds(events []chat.TurnEvent) []chat.TurnEventKind {
	out := make([]chat.TurnEventKind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind
	}
	return out
}

func TestSendTurnStreamsDeltasInOrder(t *testing.T) {
	fake := &fakeProvider{script: []chat.StreamEvent{
		chat.TextDelta("He"),
		chat.TextDelta("llo there"),
		chat.Completed("STOP"),
	}}
	store := &fakeStore{}
	sess := New(chat.NewSession("fake-model"), fake, nil, store, nil)

	events, err := sess.SendTurn(context.Background(), "Hello", nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	got := collect(t, events)

	want := []chat.TurnEventKind{
		chat.EventTurnStarted,
		chat.EventTextAppended,
		chat.EventTextAppended,
		chat.EventTurnCompleted,
	}
	gotKinds := kinds(got)
	if len(gotKinds) != len(want) {
		t.Fatalf("events = %v, want %v", gotKinds, want)
	}
	for i := range want {
		if gotKinds[i] != want[i] {
			t.Fatalf("event[%d] = %v, want %v", i, gotKinds[i], want[i])
		}
	}
	if got[1].Delta != "He" || got[2].Delta != "llo there" {
		t.Errorf("deltas = %q, %q", got[1].Delta, got[2].Delta)
	}

	snap := sess.Snapshot()
	if len(snap.Turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(snap.Turns))
	}
	reply := snap.Turns[1]
	if reply.Status != chat.StatusComplete {
		t.Errorf("status = %q, want complete", reply.Status)
	}
	if reply.Text() != "Hello there" {
		t.Errorf("reply = %q, want %q", reply.Text(), "Hello there")
	}
	if snap.Title != "Hello" {
		t.Errorf("title = %q, want inferred from first user text", snap.Title)
	}
	if store.count() != 1 {
		t.Errorf("persists = %d, want 1", store.count())
	}
}

func TestSendTurnBusyRejection(t *testing.T) {
	gate := make(chan struct{})
	fake := &fakeProvider{
		script: []chat.StreamEvent{chat.Completed("STOP")},
		gate:   gate,
	}
	sess := New(chat.NewSession("fake-model"), fake, nil, &fakeStore{}, nil)

	events, err := sess.SendTurn(context.Background(), "first", nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	if !sess.Busy() {
		t.Fatal("session should be busy while the turn is in flight")
	}
	before := len(sess.Snapshot().Turns)

	_, err = sess.SendTurn(context.Background(), "second", nil)
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}
	if after := len(sess.Snapshot().Turns); after != before {
		t.Errorf("busy rejection changed turns: %d -> %d", before, after)
	}

	close(gate)
	collect(t, events)
	if sess.Busy() {
		t.Error("session still busy after terminal event")
	}

	// the session accepts sends again once the turn is terminal
	events, err = sess.SendTurn(context.Background(), "third", nil)
	if err != nil {
		t.Fatalf("SendTurn after completion: %v", err)
	}
	collect(t, events)
}

func TestCancelBeforeFirstDelta(t *testing.T) {
	fake := &fakeProvider{
		script: []chat.StreamEvent{chat.TextDelta("never delivered")},
		gate:   make(chan struct{}), // never closed; only cancel ends the stream
	}
	store := &fakeStore{}
	sess := New(chat.NewSession("fake-model"), fake, nil, store, nil)

	events, err := sess.SendTurn(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}

	// wait for the stream to be in flight, then cancel
	deadline := time.Now().Add(2 * time.Second)
	for len(fake.streamedTurns()) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	sess.Cancel()

	got := collect(t, events)
	last := got[len(got)-1]
	if last.Kind != chat.EventTurnFailed || last.FailKind != chat.FailCancelled {
		t.Fatalf("last event = %+v, want TurnFailed/cancelled", last)
	}

	reply := sess.Snapshot().Turns[1]
	if reply.Status != chat.StatusFailed || reply.FailKind != chat.FailCancelled {
		t.Errorf("turn = %q/%q, want failed/cancelled", reply.Status, reply.FailKind)
	}
	if reply.Text() != "" {
		t.Errorf("cancelled turn has text %q, want none", reply.Text())
	}
	if store.count() != 1 {
		t.Errorf("persists = %d, want 1 (failed turns are saved)", store.count())
	}
}

func TestStreamErrorAfterDeltaKeepsPartialText(t *testing.T) {
	fake := &fakeProvider{script: []chat.StreamEvent{
		chat.TextDelta("partial an"),
		chat.StreamError(chat.FailNetwork, errors.New("connection reset")),
	}}
	sess := New(chat.NewSession("fake-model"), fake, nil, &fakeStore{}, nil)

	events, err := sess.SendTurn(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	got := collect(t, events)

	last := got[len(got)-1]
	if last.Kind != chat.EventTurnFailed || last.FailKind != chat.FailNetwork {
		t.Fatalf("last event = %+v, want TurnFailed/network", last)
	}

	reply := sess.Snapshot().Turns[1]
	if reply.Status != chat.StatusFailed {
		t.Errorf("status = %q, want failed", reply.Status)
	}
	if reply.Text() != "partial an" {
		t.Errorf("partial text = %q, want preserved", reply.Text())
	}
	if reply.FailError == "" {
		t.Error("failure message not recorded")
	}
}

func TestOversizedAttachmentDroppedTurnProceeds(t *testing.T) {
	limits := attach.DefaultLimits()
	limits.MaxFileBytes = 4
	normalizer, err := attach.NewNormalizer(filepath.Join(t.TempDir(), "uploads"), limits)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	big := filepath.Join(t.TempDir(), "big.txt")
	if err := os.WriteFile(big, []byte("far past the four byte cap"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	fake := &fakeProvider{script: []chat.StreamEvent{
		chat.TextDelta("ok"),
		chat.Completed("STOP"),
	}}
	sess := New(chat.NewSession("fake-model"), fake, normalizer, &fakeStore{}, nil)

	events, err := sess.SendTurn(context.Background(), "look at this", []string{big})
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	got := collect(t, events)

	var rejected bool
	for _, ev := range got {
		if ev.Kind == chat.EventAttachmentRejected {
			rejected = true
			if ev.Source != big {
				t.Errorf("rejected source = %q, want %q", ev.Source, big)
			}
		}
	}
	if !rejected {
		t.Fatal("no AttachmentRejected event")
	}
	if got[len(got)-1].Kind != chat.EventTurnCompleted {
		t.Fatalf("turn did not proceed: last = %+v", got[len(got)-1])
	}

	// the oversized payload never reached the model client
	calls := fake.streamedTurns()
	if len(calls) != 1 {
		t.Fatalf("stream calls = %d, want 1", len(calls))
	}
	for _, turn := range calls[0] {
		for _, part := range turn.Parts {
			if part.IsAttachment() {
				t.Errorf("attachment reached the client: %+v", part)
			}
		}
	}
}

func TestPersistFailureIsNonFatal(t *testing.T) {
	fake := &fakeProvider{script: []chat.StreamEvent{
		chat.TextDelta("fine"),
		chat.Completed("STOP"),
	}}
	store := &fakeStore{failWith: errors.New("disk full")}
	sess := New(chat.NewSession("fake-model"), fake, nil, store, nil)

	events, err := sess.SendTurn(context.Background(), "question", nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	got := collect(t, events)

	var notice bool
	for _, ev := range got {
		if ev.Kind == chat.EventNotice {
			notice = true
		}
	}
	if !notice {
		t.Error("no notice for failed persistence")
	}
	if got[len(got)-1].Kind != chat.EventTurnCompleted {
		t.Fatalf("last event = %+v, want TurnCompleted", got[len(got)-1])
	}
	// in-memory state stays intact
	if text := sess.Snapshot().Turns[1].Text(); text != "fine" {
		t.Errorf("reply = %q, want retained", text)
	}
}

func TestSetFolderSurvivesPersist(t *testing.T) {
	fake := &fakeProvider{script: []chat.StreamEvent{
		chat.TextDelta("noted"),
		chat.Completed("STOP"),
	}}
	store := &fakeStore{}
	sess := New(chat.NewSession("fake-model"), fake, nil, store, nil)

	sess.SetFolder("folder-42")

	events, err := sess.SendTurn(context.Background(), "file this", nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	collect(t, events)

	persisted := store.lastPersisted()
	if persisted == nil {
		t.Fatal("nothing persisted")
	}
	if persisted.FolderID != "folder-42" {
		t.Errorf("persisted folder = %q, want folder-42", persisted.FolderID)
	}
	if snap := sess.Snapshot(); snap.FolderID != "folder-42" {
		t.Errorf("snapshot folder = %q, want folder-42", snap.FolderID)
	}
}

func TestSetTitleNotOverwrittenByInference(t *testing.T) {
	fake := &fakeProvider{script: []chat.StreamEvent{
		chat.TextDelta("sure"),
		chat.Completed("STOP"),
	}}
	store := &fakeStore{}
	sess := New(chat.NewSession("fake-model"), fake, nil, store, nil)

	sess.SetTitle("Quarterly planning")

	events, err := sess.SendTurn(context.Background(), "draft the agenda", nil)
	if err != nil {
		t.Fatalf("SendTurn: %v", err)
	}
	collect(t, events)

	if got := sess.Snapshot().Title; got != "Quarterly planning" {
		t.Errorf("title = %q, want the explicit one", got)
	}
	persisted := store.lastPersisted()
	if persisted == nil || persisted.Title != "Quarterly planning" {
		t.Errorf("persisted title = %+v, want Quarterly planning", persisted)
	}
}

func TestSendTurnEmpty(t *testing.T) {
	sess := New(chat.NewSession("fake-model"), &fakeProvider{}, nil, &fakeStore{}, nil)
	if _, err := sess.SendTurn(context.Background(), "   ", nil); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("err = %v, want ErrEmptyTurn", err)
	}
	if n := len(sess.Snapshot().Turns); n != 0 {
		t.Errorf("turns = %d, want 0", n)
	}
}

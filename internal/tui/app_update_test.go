package tui

import (
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"geminichat/internal/chat"
	"geminichat/internal/provider"
	"geminichat/internal/session"

	tea "github.com/charmbracelet/bubbletea"
)

// stubProvider never produces text; its stream ends only through cancellation.
type stubProvider struct{}

func (stubProvider) Name() string { return "stub" }

func (stubProvider) ListModels(ctx context.Context) ([]string, error) { return nil, nil }

func (stubProvider) Stream(ctx context.Context, model string, turns []chat.Turn) (*provider.Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	events := make(chan chat.StreamEvent, 1)
	go func() {
		defer close(events)
		<-ctx.Done()
		events <- chat.StreamError(chat.FailCancelled, ctx.Err())
	}()
	return provider.NewStream(events, cancel), nil
}

func newTestApp() *App {
	a := NewApp(Deps{Logger: slog.Default()})
	a.width, a.height = 100, 30
	a.relayout()
	return a
}

func TestAppUpdate_PanelSwitch(t *testing.T) {
	app := newTestApp()

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated := m.(*App)
	if updated.activePanel != PanelSessions {
		t.Fatalf("expected sessions panel, got %v", updated.activePanel)
	}

	m, _ = updated.Update(tea.KeyMsg{Type: tea.KeyTab})
	updated = m.(*App)
	if updated.activePanel != PanelLogs {
		t.Fatalf("expected logs panel, got %v", updated.activePanel)
	}
}

func TestAppUpdate_EscCancelsStreaming(t *testing.T) {
	app := newTestApp()
	app.streaming = true

	m, _ := app.Update(tea.KeyMsg{Type: tea.KeyEsc})
	updated := m.(*App)
	if updated.status != updated.locale.T("status.cancelled") {
		t.Fatalf("unexpected status: %q", updated.status)
	}
	if !strings.Contains(updated.logContent.String(), updated.locale.T("status.cancelled")) {
		t.Fatalf("missing cancel log: %q", updated.logContent.String())
	}
}

func TestAppUpdate_TurnEventsAccumulateDeltas(t *testing.T) {
	app := newTestApp()
	app.streaming = true

	for _, delta := range []string{"He", "llo there"} {
		m, _ := app.Update(TurnEventMsg{Event: chat.TurnEvent{Kind: chat.EventTextAppended, Delta: delta}})
		app = m.(*App)
	}
	if got := app.streamBuf.String(); got != "Hello there" {
		t.Fatalf("streamBuf = %q, want Hello there", got)
	}

	m, _ := app.Update(TurnEventMsg{Event: chat.TurnEvent{Kind: chat.EventTurnCompleted}})
	app = m.(*App)
	if app.streaming {
		t.Fatal("expected streaming false after completion")
	}
	if app.status != app.locale.T("status.ready") {
		t.Fatalf("unexpected status: %q", app.status)
	}
	if app.streamBuf.Len() != 0 {
		t.Fatal("stream buffer should be reset at terminal state")
	}
}

func TestAppUpdate_TurnFailedCancelled(t *testing.T) {
	app := newTestApp()
	app.streaming = true

	m, _ := app.Update(TurnEventMsg{Event: chat.TurnEvent{
		Kind:     chat.EventTurnFailed,
		FailKind: chat.FailCancelled,
		Reason:   "context canceled",
	}})
	app = m.(*App)
	if app.streaming {
		t.Fatal("expected streaming false")
	}
	if app.status != app.locale.T("status.cancelled") {
		t.Fatalf("unexpected status: %q", app.status)
	}
}

func TestAppUpdate_Notice(t *testing.T) {
	app := newTestApp()

	m, _ := app.Update(noticeMsg{Text: "boom", IsErr: true})
	app = m.(*App)
	if app.lastError != "boom" {
		t.Fatalf("lastError = %q, want boom", app.lastError)
	}
	if !strings.Contains(app.chatContent.String(), "boom") {
		t.Fatalf("chat missing notice: %q", app.chatContent.String())
	}
}

func TestAppUpdate_SessionOpenedRebuildsChat(t *testing.T) {
	app := newTestApp()

	rec := chat.NewSession("gemini-2.5-flash")
	rec.Turns = []chat.Turn{
		{Role: chat.RoleUser, Status: chat.StatusComplete, Parts: []chat.Part{chat.TextPart("what is Go")}},
		{Role: chat.RoleModel, Status: chat.StatusComplete, Parts: []chat.Part{chat.TextPart("a language")}},
	}
	sess := session.New(rec, nil, nil, nil, slog.Default())

	m, _ := app.Update(sessionOpenedMsg{Sess: sess})
	app = m.(*App)
	if app.activePanel != PanelChat {
		t.Fatal("expected chat panel after open")
	}
	if !strings.Contains(app.chatContent.String(), "what is Go") {
		t.Fatalf("chat missing user turn: %q", app.chatContent.String())
	}
	if app.tokenCount == 0 {
		t.Fatal("expected token gauge refresh")
	}
}

func TestAppUpdate_StaleSessionEventsNotRendered(t *testing.T) {
	app := newTestApp()
	app.streaming = true

	m, _ := app.Update(TurnEventMsg{Event: chat.TurnEvent{
		Kind:      chat.EventTextAppended,
		SessionID: "some-other-conversation",
		Delta:     "leaked",
	}})
	app = m.(*App)
	if app.streamBuf.Len() != 0 {
		t.Fatalf("stale event wrote into the active stream: %q", app.streamBuf.String())
	}
	if strings.Contains(app.chatContent.String(), "leaked") {
		t.Fatalf("stale event rendered into chat: %q", app.chatContent.String())
	}
}

func TestOpenSessionCancelsInFlightTurn(t *testing.T) {
	app := NewApp(Deps{Provider: stubProvider{}, Logger: slog.Default()})
	app.width, app.height = 100, 30
	app.relayout()

	if cmd := app.sendTurn("hold this open"); cmd == nil {
		t.Fatal("sendTurn did not start a turn")
	}
	old := app.current
	if !old.Busy() {
		t.Fatal("expected an in-flight turn")
	}

	next := session.New(chat.NewSession("gemini-2.5-flash"), nil, nil, nil, slog.Default())
	m, _ := app.Update(sessionOpenedMsg{Sess: next})
	app = m.(*App)
	if app.current != next {
		t.Fatal("session switch did not take")
	}

	deadline := time.Now().Add(2 * time.Second)
	for old.Busy() {
		if time.Now().After(deadline) {
			t.Fatal("outgoing turn was never cancelled")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAppUpdate_AttachmentRejectedEvent(t *testing.T) {
	app := newTestApp()

	m, _ := app.Update(TurnEventMsg{Event: chat.TurnEvent{
		Kind:   chat.EventAttachmentRejected,
		Source: "big.pdf",
		Reason: "payload too large",
	}})
	app = m.(*App)
	if !strings.Contains(app.chatContent.String(), "big.pdf") {
		t.Fatalf("chat missing rejection: %q", app.chatContent.String())
	}
}

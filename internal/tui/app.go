package tui

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"geminichat/internal/attach"
	"geminichat/internal/chat"
	"geminichat/internal/i18n"
	"geminichat/internal/provider"
	"geminichat/internal/session"
	"geminichat/internal/settings"
	"geminichat/internal/storage"
	"geminichat/internal/tokens"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// PanelID 面板标识
// PanelID identifies a panel
type PanelID int

const (
	PanelChat PanelID = iota
	PanelSessions
	PanelLogs
)

// defaultContextTokens is the context window assumed for the sidebar gauge.
const defaultContextTokens = 1_048_576

// Deps 应用依赖集合
// Deps carries the collaborators the UI drives.
type Deps struct {
	Store      storage.Store
	Settings   *settings.Store
	Provider   provider.Provider
	Normalizer *attach.Normalizer
	Tokenizer  *tokens.Tokenizer
	Logger     *slog.Logger
	ExportDir  string
}

// --- Tea Messages ---

// TurnEventMsg 会话事件 / one session event plus the channel to keep draining
type TurnEventMsg struct {
	Event chat.TurnEvent
	ch    <-chan chat.TurnEvent
}

// turnStreamClosedMsg indicates the per-turn event channel was closed.
type turnStreamClosedMsg struct{}

// noticeMsg 非致命提示 / a transient notice line
type noticeMsg struct {
	Text  string
	IsErr bool
}

// sessionOpenedMsg carries a freshly created or loaded conversation.
type sessionOpenedMsg struct {
	Sess   *session.Session
	Notice string
}

// sessionsLoadedMsg carries the refreshed history list.
type sessionsLoadedMsg struct{ Items []storage.Summary }

// foldersLoadedMsg carries the refreshed folder list. Announce prints it to
// the chat panel.
type foldersLoadedMsg struct {
	Items    []chat.Folder
	Announce bool
}

// SettingsChangedMsg 设置文件外部变更 / settings changed on disk
type SettingsChangedMsg struct{ Settings settings.Settings }

// App Bubble Tea 主 Model
// App is the main Bubble Tea model
type App struct {
	deps Deps

	// 布局 / Layout
	width  int
	height int

	// 面板 / Panels
	activePanel  PanelID
	chatView     viewport.Model
	sessionsView viewport.Model
	logsView     viewport.Model

	// 输入 / Input
	input textarea.Model

	// 会话状态 / Conversation state
	current       *session.Session
	summaries     []storage.Summary
	folders       []chat.Folder
	pendingAttach []string

	// 内容缓冲 / Content buffers
	chatContent strings.Builder
	logContent  strings.Builder
	streamBuf   strings.Builder

	// 状态 / State
	streaming bool
	status    string
	lastError string

	// 上下文用量 / Context usage
	tokenCount   int
	tokenLimit   int
	tokenPrecise bool

	// 配置 / Config
	theme  Theme
	keys   KeyMap
	locale *i18n.I18n
}

// NewApp 创建 TUI 应用
// NewApp creates a new TUI application
func NewApp(deps Deps) *App {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Tokenizer == nil {
		deps.Tokenizer = tokens.Default()
	}

	ta := textarea.New()
	ta.Placeholder = i18n.T("input.placeholder")
	ta.CharLimit = 8192
	ta.SetHeight(3)
	ta.Focus()

	cfg := settings.Default()
	if deps.Settings != nil {
		cfg = deps.Settings.Current()
	}

	a := &App{
		deps:        deps,
		activePanel: PanelChat,
		input:       ta,
		status:      i18n.T("status.ready"),
		tokenLimit:  defaultContextTokens,
		theme:       ThemeByID(cfg.Theme),
		keys:        DefaultKeyMap(),
		locale:      i18n.Global(),
	}
	a.openSession(session.New(
		chat.NewSession(cfg.DefaultModel),
		deps.Provider, deps.Normalizer, deps.Store, deps.Logger,
	))
	return a
}

func (a *App) Init() tea.Cmd {
	return textarea.Blink
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit

		case key.Matches(msg, a.keys.SwitchPanel):
			a.activePanel = (a.activePanel + 1) % 3
			if a.activePanel == PanelSessions {
				return a, a.loadSessionsCmd()
			}
			return a, nil

		case key.Matches(msg, a.keys.Cancel):
			if a.streaming && a.current != nil {
				a.current.Cancel()
				a.status = a.locale.T("status.cancelled")
				a.appendLog(a.locale.T("status.cancelled"))
			}
			return a, nil

		case key.Matches(msg, a.keys.ClearScreen):
			a.chatContent.Reset()
			a.chatView.SetContent("")
			return a, nil

		case key.Matches(msg, a.keys.PageUp):
			a.activeView().HalfViewUp()
			return a, nil

		case key.Matches(msg, a.keys.PageDown):
			a.activeView().HalfViewDown()
			return a, nil

		case key.Matches(msg, a.keys.Submit):
			return a, a.handleSubmit(a.input.Value())
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.relayout()
		return a, nil

	case TurnEventMsg:
		return a, a.handleTurnEvent(msg)

	case turnStreamClosedMsg:
		a.streaming = false
		return a, nil

	case noticeMsg:
		if msg.IsErr {
			a.lastError = msg.Text
			a.appendChat(a.theme.ErrorStyle.Render("✗ " + msg.Text))
		} else {
			a.appendChat(a.theme.NoticeStyle.Render("ℹ " + msg.Text))
		}
		a.appendLog(msg.Text)
		return a, nil

	case sessionOpenedMsg:
		a.openSession(msg.Sess)
		if msg.Notice != "" {
			a.appendLog(msg.Notice)
		}
		a.activePanel = PanelChat
		return a, nil

	case sessionsLoadedMsg:
		a.summaries = msg.Items
		a.sessionsView.SetContent(a.renderSessionList())
		return a, nil

	case foldersLoadedMsg:
		a.folders = msg.Items
		if msg.Announce {
			if len(msg.Items) == 0 {
				a.appendChat(a.theme.MutedStyle.Render("  (no folders)"))
			}
			for _, f := range msg.Items {
				a.appendChat(fmt.Sprintf("  %s  %s", a.theme.MutedStyle.Render(shortID(f.ID)), f.Name))
			}
		}
		return a, nil

	case SettingsChangedMsg:
		a.applySettings(msg.Settings)
		return a, nil
	}

	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	return a, tea.Batch(cmds...)
}

// --- 会话接线 / Session wiring ---

// handleSubmit routes the input line: slash commands are dispatched, anything
// else is sent to the model as a new turn.
func (a *App) handleSubmit(text string) tea.Cmd {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if strings.HasPrefix(text, "/") {
		a.input.Reset()
		return a.handleCommand(text)
	}
	return a.sendTurn(text)
}

// sendTurn starts one turn. SendTurn only appends and spawns the worker, so
// calling it from Update does not block the UI loop.
func (a *App) sendTurn(text string) tea.Cmd {
	if a.current == nil {
		return nil
	}

	sources := a.pendingAttach
	ch, err := a.current.SendTurn(context.Background(), text, sources)
	switch {
	case errors.Is(err, session.ErrSessionBusy):
		return notice(a.locale.T("error.busy"), true)
	case errors.Is(err, session.ErrEmptyTurn):
		return nil
	case err != nil:
		return notice(err.Error(), true)
	}

	a.pendingAttach = nil
	a.input.Reset()
	a.streaming = true
	a.status = a.locale.T("status.streaming")
	a.streamBuf.Reset()

	snap := a.current.Snapshot()
	if len(snap.Turns) >= 2 {
		a.appendChat(RenderTurn(snap.Turns[len(snap.Turns)-2], a.theme, a.chatWidth()))
	}
	return waitForEvent(ch)
}

// waitForEvent blocks on the per-turn channel and resurfaces each event as a
// tea.Msg. Reissued after every event until the channel closes.
func waitForEvent(ch <-chan chat.TurnEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return turnStreamClosedMsg{}
		}
		return TurnEventMsg{Event: ev, ch: ch}
	}
}

func (a *App) handleTurnEvent(msg TurnEventMsg) tea.Cmd {
	ev := msg.Event

	// Events from a conversation that is no longer on screen are drained
	// but never rendered into the active one.
	if ev.SessionID != "" && (a.current == nil || ev.SessionID != a.current.ID()) {
		return waitForEvent(msg.ch)
	}

	switch ev.Kind {
	case chat.EventTurnStarted:
		a.appendLog("turn started: " + ev.SessionID)

	case chat.EventAttachmentRejected:
		line := a.locale.T("attach.rejected", ev.Source, ev.Reason)
		a.appendChat(a.theme.NoticeStyle.Render("ℹ " + line))
		a.appendLog(line)

	case chat.EventTextAppended:
		a.streamBuf.WriteString(ev.Delta)
		a.refreshStreamingView()

	case chat.EventTurnCompleted:
		a.finishTurn()
		a.status = a.locale.T("status.ready")

	case chat.EventTurnFailed:
		a.finishTurn()
		if ev.FailKind == chat.FailCancelled {
			a.status = a.locale.T("status.cancelled")
		} else {
			a.status = a.locale.T("status.ready")
			a.lastError = ev.Reason
		}
		a.appendLog(fmt.Sprintf("turn failed (%s): %s", ev.FailKind, ev.Reason))

	case chat.EventNotice:
		a.appendChat(a.theme.NoticeStyle.Render("ℹ " + a.locale.T("error.storage", ev.Reason)))
		a.appendLog(ev.Reason)
	}

	return waitForEvent(msg.ch)
}

// finishTurn replaces the raw streamed text with the fully rendered model
// turn and refreshes the context gauge.
func (a *App) finishTurn() {
	a.streaming = false
	a.streamBuf.Reset()

	if a.current == nil {
		return
	}
	snap := a.current.Snapshot()
	if len(snap.Turns) > 0 {
		a.appendChat(RenderTurn(snap.Turns[len(snap.Turns)-1], a.theme, a.chatWidth()))
	}
	a.refreshTokens(&snap)
}

// openSession makes sess the active conversation and rebuilds the chat panel
// from its record. An in-flight turn on the outgoing conversation is
// cancelled; its terminal events are drained off screen.
func (a *App) openSession(sess *session.Session) {
	if a.current != nil && a.current != sess && a.current.Busy() {
		a.current.Cancel()
	}
	a.current = sess
	a.chatContent.Reset()
	a.streamBuf.Reset()
	a.streaming = false
	a.status = a.locale.T("status.ready")

	if sess == nil {
		a.chatView.SetContent("")
		return
	}
	snap := sess.Snapshot()
	for _, turn := range snap.Turns {
		a.appendChat(RenderTurn(turn, a.theme, a.chatWidth()))
	}
	a.refreshTokens(&snap)
}

func (a *App) refreshTokens(snap *chat.Session) {
	a.tokenCount = a.deps.Tokenizer.CountSession(snap)
	a.tokenPrecise = a.deps.Tokenizer.IsPrecise()
}

func (a *App) applySettings(s settings.Settings) {
	a.theme = ThemeByID(s.Theme)
	i18n.Init(s.Locale)
	a.locale = i18n.Global()
	a.appendLog("settings reloaded")
}

// --- 内部方法 / Internal methods ---

func (a *App) activeView() *viewport.Model {
	switch a.activePanel {
	case PanelSessions:
		return &a.sessionsView
	case PanelLogs:
		return &a.logsView
	default:
		return &a.chatView
	}
}

func (a *App) chatWidth() int {
	if a.width == 0 {
		return 80
	}
	return a.mainWidth()
}

func (a *App) relayout() {
	mainWidth := a.mainWidth()
	panelHeight := a.height - 8

	if panelHeight < 3 {
		panelHeight = 3
	}

	a.chatView = viewport.New(mainWidth, panelHeight)
	a.chatView.SetContent(a.chatContent.String())
	a.chatView.GotoBottom()

	a.sessionsView = viewport.New(mainWidth, panelHeight)
	a.sessionsView.SetContent(a.renderSessionList())

	a.logsView = viewport.New(mainWidth, panelHeight)
	a.logsView.SetContent(a.logContent.String())

	a.input.SetWidth(mainWidth - 4)
}

func (a *App) appendChat(text string) {
	if text == "" {
		return
	}
	a.chatContent.WriteString(text + "\n")
	a.chatView.SetContent(a.chatContent.String())
	a.chatView.GotoBottom()
}

func (a *App) appendLog(text string) {
	a.logContent.WriteString(text + "\n")
	a.logsView.SetContent(a.logContent.String())
}

// refreshStreamingView shows settled chat content plus the raw in-flight
// buffer. Markdown rendering waits for the terminal event.
func (a *App) refreshStreamingView() {
	content := a.chatContent.String()
	if a.streamBuf.Len() > 0 {
		content += "\n" + a.streamBuf.String()
	}
	a.chatView.SetContent(content)
	a.chatView.GotoBottom()
}

// --- 渲染方法 / Render methods ---

func (a *App) View() string {
	if a.width == 0 || a.height == 0 {
		return "Initializing..."
	}

	sidebarWidth := a.sidebarWidth()
	mainWidth := a.mainWidth()

	inputHeight := 5
	statusHeight := 1
	tabHeight := 1
	panelHeight := a.height - inputHeight - statusHeight - tabHeight
	if panelHeight < 3 {
		panelHeight = 3
	}

	tabs := a.renderTabs()
	panel := a.renderActivePanel(mainWidth, panelHeight)
	inputBox := a.theme.InputStyle.Width(mainWidth).Render(a.input.View())
	statusBar := a.renderStatusBar(a.width)

	main := lipgloss.JoinVertical(lipgloss.Left, tabs, panel, inputBox)

	if sidebarWidth > 0 {
		sidebar := a.renderSidebar(sidebarWidth, a.height-statusHeight)
		main = lipgloss.JoinHorizontal(lipgloss.Top, main, sidebar)
	}

	return lipgloss.JoinVertical(lipgloss.Left, main, statusBar)
}

func (a *App) sidebarWidth() int {
	w := a.width * 25 / 100
	if w < 20 {
		w = 20
	}
	if w > 40 {
		w = 40
	}
	if a.width < 80 {
		w = 0
	}
	return w
}

func (a *App) mainWidth() int {
	w := a.width - a.sidebarWidth()
	if a.sidebarWidth() > 0 {
		w-- // border
	}
	return w
}

func (a *App) renderTabs() string {
	tabs := []struct {
		id   PanelID
		name string
	}{
		{PanelChat, a.locale.T("panel.chat")},
		{PanelSessions, a.locale.T("panel.sessions")},
		{PanelLogs, a.locale.T("panel.logs")},
	}

	var parts []string
	for _, tab := range tabs {
		style := a.theme.InactiveTabStyle
		if tab.id == a.activePanel {
			style = a.theme.ActiveTabStyle
		}
		parts = append(parts, style.Render(tab.name))
	}

	return lipgloss.JoinHorizontal(lipgloss.Top, parts...)
}

func (a *App) renderActivePanel(width, height int) string {
	style := lipgloss.NewStyle().
		Width(width).
		Height(height)

	var content string
	switch a.activePanel {
	case PanelChat:
		content = a.chatView.View()
	case PanelSessions:
		if len(a.summaries) == 0 {
			content = a.theme.MutedStyle.Render("  " + a.locale.T("session.none"))
		} else {
			content = a.sessionsView.View()
		}
	case PanelLogs:
		if a.logContent.Len() == 0 {
			content = a.theme.MutedStyle.Render("  No logs yet")
		} else {
			content = a.logsView.View()
		}
	}

	return style.Render(content)
}

func (a *App) renderSessionList() string {
	var b strings.Builder
	for _, sum := range a.summaries {
		title := sum.Title
		if title == "" {
			title = "(untitled)"
		}
		b.WriteString(fmt.Sprintf("  %s  %s\n", a.theme.MutedStyle.Render(shortID(sum.ID)), title))
		b.WriteString(a.theme.MutedStyle.Render(fmt.Sprintf("      %s · %d turns · %s\n",
			sum.Model, sum.TurnCount, sum.UpdatedAt.Local().Format("2006-01-02 15:04"))))
	}
	return b.String()
}

func (a *App) renderSidebar(width, height int) string {
	var parts []string

	parts = append(parts, a.theme.TitleStyle.Render(" geminichat"))
	parts = append(parts, "")

	// 上下文 / Context
	parts = append(parts, a.theme.TitleStyle.Render(" "+a.locale.T("sidebar.context")))
	pct := 0.0
	if a.tokenLimit > 0 {
		pct = float64(a.tokenCount) / float64(a.tokenLimit) * 100
	}
	parts = append(parts, "  "+renderProgressBar(pct, width-4))
	precision := a.locale.T("context.estimated")
	if a.tokenPrecise {
		precision = a.locale.T("context.precise")
	}
	parts = append(parts, "  "+a.locale.T("context.tokens", a.tokenCount, precision))
	parts = append(parts, "")

	// 模型 / Model
	parts = append(parts, a.theme.TitleStyle.Render(" "+a.locale.T("sidebar.model")))
	if a.current != nil {
		parts = append(parts, "  "+a.current.Model())
	}
	parts = append(parts, "")

	// 会话 / Session
	parts = append(parts, a.theme.TitleStyle.Render(" "+a.locale.T("sidebar.session")))
	if a.current != nil {
		snap := a.current.Snapshot()
		title := snap.Title
		if title == "" {
			title = "(new)"
		}
		parts = append(parts, "  "+title)
		parts = append(parts, "  "+a.theme.MutedStyle.Render(shortID(snap.ID)))
		if snap.FolderID != "" {
			parts = append(parts, "")
			parts = append(parts, a.theme.TitleStyle.Render(" "+a.locale.T("sidebar.folder")))
			parts = append(parts, "  "+a.folderName(snap.FolderID))
		}
	}
	parts = append(parts, "")

	// 待发送附件 / Pending attachments
	if len(a.pendingAttach) > 0 {
		parts = append(parts, a.theme.NoticeStyle.Render(" "+a.locale.T("attach.pending", len(a.pendingAttach))))
		for _, src := range a.pendingAttach {
			parts = append(parts, "  📎 "+filepath.Base(src))
		}
	}

	content := strings.Join(parts, "\n")

	style := a.theme.SidebarStyle.
		Width(width).
		Height(height)

	return style.Render(content)
}

func (a *App) renderStatusBar(width int) string {
	model := ""
	if a.current != nil {
		model = a.current.Model()
	}
	left := fmt.Sprintf(" %s · %s", model, a.status)
	right := fmt.Sprintf("%s · %s · %s  ",
		a.locale.T("keys.tab"), a.locale.T("keys.esc"), a.locale.T("keys.quit"))

	gap := width - lipgloss.Width(left) - lipgloss.Width(right)
	if gap < 0 {
		gap = 0
	}

	bar := left + strings.Repeat(" ", gap) + right
	return a.theme.StatusBarStyle.Width(width).Render(bar)
}

func (a *App) folderName(id string) string {
	for _, f := range a.folders {
		if f.ID == id {
			return f.Name
		}
	}
	return shortID(id)
}

func renderProgressBar(percent float64, width int) string {
	if width < 4 {
		width = 4
	}
	filled := int(percent / 100 * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func notice(text string, isErr bool) tea.Cmd {
	return func() tea.Msg { return noticeMsg{Text: text, IsErr: isErr} }
}

// Run 启动 Bubble Tea TUI
// Run starts the Bubble Tea TUI application. onStart receives the program so
// the caller can feed it external messages, e.g. settings reloads.
func Run(deps Deps, onStart func(*tea.Program)) error {
	app := NewApp(deps)
	p := tea.NewProgram(app, tea.WithAltScreen(), tea.WithMouseCellMotion())
	if onStart != nil {
		onStart(p)
	}
	_, err := p.Run()
	return err
}

package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"geminichat/internal/chat"
	"geminichat/internal/session"
	"geminichat/internal/settings"
	"geminichat/internal/storage"

	tea "github.com/charmbracelet/bubbletea"
)

// cmdTimeout bounds store calls issued from the UI loop.
const cmdTimeout = 10 * time.Second

// parseCommand splits a slash command line into its name and arguments.
func parseCommand(input string) (name string, args []string, ok bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return "", nil, false
	}
	fields := strings.Fields(input[1:])
	if len(fields) == 0 {
		return "", nil, false
	}
	return strings.ToLower(fields[0]), fields[1:], true
}

// handleCommand dispatches one slash command. Store work runs in tea.Cmds so
// the UI loop never blocks on SQLite.
func (a *App) handleCommand(input string) tea.Cmd {
	name, args, ok := parseCommand(input)
	if !ok {
		return nil
	}

	switch name {
	case "help":
		a.appendChat(a.renderHelp())
		return nil

	case "new":
		return a.newSessionCmd()

	case "sessions":
		a.activePanel = PanelSessions
		return a.loadSessionsCmd()

	case "open":
		if len(args) != 1 {
			return notice("usage: /open <id>", true)
		}
		return a.openSessionCmd(args[0])

	case "delete":
		if len(args) != 1 {
			return notice("usage: /delete <id>", true)
		}
		return a.deleteSessionCmd(args[0])

	case "rename":
		if len(args) == 0 {
			return notice("usage: /rename <title>", true)
		}
		return a.renameSessionCmd(strings.Join(args, " "))

	case "model":
		if len(args) == 0 {
			return a.listModelsCmd()
		}
		if len(args) != 1 {
			return notice("usage: /model [id]", true)
		}
		if a.current != nil {
			a.current.SetModel(args[0])
		}
		return tea.Batch(
			a.saveSettingsCmd(func(s *settings.Settings) { s.DefaultModel = args[0] }),
			notice(a.locale.T("model.switched", args[0]), false),
		)

	case "theme":
		if len(args) != 1 || (args[0] != "dark" && args[0] != "light") {
			return notice("usage: /theme <dark|light>", true)
		}
		a.theme = ThemeByID(args[0])
		return tea.Batch(
			a.saveSettingsCmd(func(s *settings.Settings) { s.Theme = args[0] }),
			notice(a.locale.T("theme.switched", args[0]), false),
		)

	case "attach":
		if len(args) == 0 {
			return notice("usage: /attach <path|url>", true)
		}
		a.pendingAttach = append(a.pendingAttach, args...)
		return notice(a.locale.T("attach.pending", len(a.pendingAttach)), false)

	case "folder":
		return a.handleFolderCommand(args)

	case "export":
		if len(args) != 1 || (args[0] != "json" && args[0] != "md") {
			return notice("usage: /export <json|md>", true)
		}
		return a.exportCmd(args[0])

	case "search":
		if len(args) == 0 {
			return notice("usage: /search <query>", true)
		}
		a.activePanel = PanelSessions
		return a.searchSessionsCmd(strings.Join(args, " "))

	case "cancel":
		if a.current != nil {
			a.current.Cancel()
		}
		return nil

	case "quit":
		return tea.Quit

	default:
		return notice(fmt.Sprintf("unknown command: /%s", name), true)
	}
}

func (a *App) handleFolderCommand(args []string) tea.Cmd {
	if len(args) == 0 {
		return notice("usage: /folder <new|list|rename|delete|move> ...", true)
	}

	switch args[0] {
	case "new":
		if len(args) < 2 {
			return notice("usage: /folder new <name>", true)
		}
		return a.createFolderCmd(strings.Join(args[1:], " "))

	case "list":
		return a.loadFoldersCmd(true)

	case "rename":
		if len(args) < 3 {
			return notice("usage: /folder rename <id> <name>", true)
		}
		return a.renameFolderCmd(args[1], strings.Join(args[2:], " "))

	case "delete":
		if len(args) != 2 {
			return notice("usage: /folder delete <id>", true)
		}
		return a.deleteFolderCmd(args[1])

	case "move":
		// Moves the active conversation; "none" clears the membership.
		if len(args) != 2 {
			return notice("usage: /folder move <id|none>", true)
		}
		folderID := args[1]
		if folderID == "none" {
			folderID = ""
		}
		return a.moveToFolderCmd(folderID)

	default:
		return notice("usage: /folder <new|list|rename|delete|move> ...", true)
	}
}

func (a *App) renderHelp() string {
	rows := []struct{ cmd, key string }{
		{"/help", "cmd.help"},
		{"/new", "cmd.new"},
		{"/sessions", "cmd.sessions"},
		{"/open <id>", "cmd.open"},
		{"/delete <id>", "cmd.delete"},
		{"/rename <title>", "cmd.rename"},
		{"/model [id]", "cmd.model"},
		{"/theme <dark|light>", "cmd.theme"},
		{"/attach <path|url>", "cmd.attach"},
		{"/search <query>", "cmd.search"},
		{"/folder ...", "cmd.folder"},
		{"/export <json|md>", "cmd.export"},
		{"/cancel", "cmd.cancel"},
		{"/quit", "cmd.quit"},
	}
	var b strings.Builder
	for _, row := range rows {
		b.WriteString(fmt.Sprintf("  %-22s %s\n", row.cmd, a.locale.T(row.key)))
	}
	return a.theme.MutedStyle.Render(b.String())
}

// --- Store-backed commands ---

func (a *App) newSessionCmd() tea.Cmd {
	deps := a.deps
	model := ""
	if a.current != nil {
		model = a.current.Model()
	}
	loc := a.locale
	return func() tea.Msg {
		sess := session.New(chat.NewSession(model), deps.Provider, deps.Normalizer, deps.Store, deps.Logger)
		return sessionOpenedMsg{Sess: sess, Notice: loc.T("session.new", shortID(sess.ID()))}
	}
}

func (a *App) listModelsCmd() tea.Cmd {
	deps := a.deps
	if deps.Provider == nil {
		return nil
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		models, err := deps.Provider.ListModels(ctx)
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return noticeMsg{Text: strings.Join(models, "\n  ")}
	}
}

func (a *App) openSessionCmd(id string) tea.Cmd {
	deps := a.deps
	loc := a.locale
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		rec, err := deps.Store.Load(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return noticeMsg{Text: loc.T("error.not_found", id), IsErr: true}
		}
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		sess := session.New(rec, deps.Provider, deps.Normalizer, deps.Store, deps.Logger)
		return sessionOpenedMsg{Sess: sess, Notice: loc.T("session.opened", rec.InferTitle())}
	}
}

func (a *App) renameSessionCmd(title string) tea.Cmd {
	if a.current == nil {
		return nil
	}
	deps := a.deps
	loc := a.locale
	cur := a.current
	cur.SetTitle(title)
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		snap := cur.Snapshot()
		if err := deps.Store.Persist(ctx, &snap); err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return noticeMsg{Text: loc.T("session.renamed", title)}
	}
}

func (a *App) deleteSessionCmd(id string) tea.Cmd {
	deps := a.deps
	loc := a.locale
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		err := deps.Store.Delete(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return noticeMsg{Text: loc.T("error.not_found", id), IsErr: true}
		}
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return noticeMsg{Text: loc.T("session.deleted", shortID(id))}
	}
}

func (a *App) loadSessionsCmd() tea.Cmd {
	deps := a.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		items, err := deps.Store.List(ctx)
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return sessionsLoadedMsg{Items: items}
	}
}

func (a *App) searchSessionsCmd(query string) tea.Cmd {
	deps := a.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		items, err := deps.Store.Search(ctx, query)
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return sessionsLoadedMsg{Items: items}
	}
}

func (a *App) createFolderCmd(name string) tea.Cmd {
	deps := a.deps
	loc := a.locale
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		folder, err := deps.Store.CreateFolder(ctx, name)
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return noticeMsg{Text: loc.T("folder.created", folder.Name)}
	}
}

func (a *App) loadFoldersCmd(announce bool) tea.Cmd {
	deps := a.deps
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		items, err := deps.Store.ListFolders(ctx)
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return foldersLoadedMsg{Items: items, Announce: announce}
	}
}

func (a *App) renameFolderCmd(id, name string) tea.Cmd {
	deps := a.deps
	loc := a.locale
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		err := deps.Store.RenameFolder(ctx, id, name)
		if errors.Is(err, storage.ErrNotFound) {
			return noticeMsg{Text: loc.T("error.not_found", id), IsErr: true}
		}
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return noticeMsg{Text: loc.T("folder.renamed", name)}
	}
}

func (a *App) deleteFolderCmd(id string) tea.Cmd {
	deps := a.deps
	loc := a.locale
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		err := deps.Store.DeleteFolder(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return noticeMsg{Text: loc.T("error.not_found", id), IsErr: true}
		}
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return noticeMsg{Text: loc.T("folder.deleted")}
	}
}

func (a *App) moveToFolderCmd(folderID string) tea.Cmd {
	if a.current == nil {
		return nil
	}
	deps := a.deps
	loc := a.locale
	cur := a.current
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), cmdTimeout)
		defer cancel()

		err := deps.Store.MoveToFolder(ctx, cur.ID(), folderID)
		if errors.Is(err, storage.ErrNotFound) {
			return noticeMsg{Text: loc.T("error.not_found", folderID), IsErr: true}
		}
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		// keep the live record in step, or the next terminal-state persist
		// would write the old membership back
		cur.SetFolder(folderID)
		return noticeMsg{Text: loc.T("folder.moved")}
	}
}

func (a *App) exportCmd(format string) tea.Cmd {
	if a.current == nil {
		return nil
	}
	deps := a.deps
	loc := a.locale
	snap := a.current.Snapshot()
	return func() tea.Msg {
		ext := ".json"
		if format == "md" {
			ext = ".md"
		}
		path := filepath.Join(deps.ExportDir, snap.ID+ext)

		var err error
		if format == "md" {
			err = storage.ExportMarkdown(&snap, path)
		} else {
			err = storage.ExportJSON(&snap, path)
		}
		if err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return noticeMsg{Text: loc.T("export.done", path)}
	}
}

func (a *App) saveSettingsCmd(fn func(*settings.Settings)) tea.Cmd {
	deps := a.deps
	if deps.Settings == nil {
		return nil
	}
	return func() tea.Msg {
		if err := deps.Settings.Update(fn); err != nil {
			return noticeMsg{Text: err.Error(), IsErr: true}
		}
		return nil
	}
}

package i18n

// EnMessages English message catalog
var EnMessages = map[string]string{
	// UI - Panel titles
	"panel.chat":     "Chat",
	"panel.sessions": "Sessions",
	"panel.logs":     "Logs",

	// UI - Sidebar
	"sidebar.model":   "Model",
	"sidebar.session": "Session",
	"sidebar.folder":  "Folder",
	"sidebar.context": "Context",

	// UI - Status bar
	"status.ready":     "Ready",
	"status.streaming": "Streaming...",
	"status.cancelled": "Generation cancelled",
	"status.busy":      "A reply is already in progress",

	// UI - Input
	"input.placeholder": "Type a message... (Shift+Enter for newline)",

	// UI - Keybindings
	"keys.tab":  "tab switch",
	"keys.esc":  "esc cancel",
	"keys.quit": "ctrl+c quit",

	// Commands
	"cmd.help":     "Show available commands",
	"cmd.new":      "Start a new conversation",
	"cmd.sessions": "List saved conversations",
	"cmd.open":     "Open a conversation",
	"cmd.delete":   "Delete a conversation",
	"cmd.rename":   "Rename the conversation",
	"cmd.model":    "Switch model",
	"cmd.theme":    "Switch theme",
	"cmd.attach":   "Attach a file or URL",
	"cmd.search":   "Search conversations",
	"cmd.folder":   "Manage folders",
	"cmd.export":   "Export the conversation",
	"cmd.cancel":   "Cancel the current reply",
	"cmd.quit":     "Exit application",

	// Errors and notices
	"error.provider":    "Model error: %s",
	"error.network":     "Network error: %s",
	"error.storage":     "Save failed: %s",
	"error.not_found":   "Not found: %s",
	"error.busy":        "Wait for the current reply to finish",
	"attach.rejected":   "Attachment dropped (%s): %s",
	"attach.pending":    "%d attachment(s) ready to send",
	"export.done":       "Exported to %s",
	"session.new":       "New conversation: %s",
	"session.opened":    "Opened: %s",
	"session.deleted":   "Deleted: %s",
	"session.renamed":   "Renamed: %s",
	"session.none":      "No conversations yet",
	"folder.created":    "Folder created: %s",
	"folder.renamed":    "Folder renamed: %s",
	"folder.deleted":    "Folder deleted",
	"folder.moved":      "Conversation moved",
	"model.switched":    "Model switched to: %s",
	"theme.switched":    "Theme switched to: %s",
	"context.tokens":    "Tokens: ~%d (%s)",
	"context.precise":   "precise",
	"context.estimated": "estimated",
}

package tui

import (
	"fmt"
	"strings"

	"geminichat/internal/chat"

	"github.com/charmbracelet/glamour"
)

// RenderMarkdown 使用 Glamour 渲染 markdown 文本
// RenderMarkdown renders markdown text using Glamour
func RenderMarkdown(content string, width int) string {
	if strings.TrimSpace(content) == "" {
		return ""
	}
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	rendered, err := r.Render(content)
	if err != nil {
		return content
	}

	return strings.TrimRight(rendered, "\n")
}

// RenderTurn 渲染一条回合：用户回合为纯文本，模型回合为 markdown，
// 失败回合附带错误行。
// RenderTurn renders one conversation turn. User turns are plain text, model
// turns go through markdown, failed turns carry an error line.
func RenderTurn(turn chat.Turn, theme Theme, width int) string {
	var b strings.Builder

	switch turn.Role {
	case chat.RoleUser:
		b.WriteString(theme.UserStyle.Render("👤 You"))
		b.WriteString("\n")
		if text := strings.TrimSpace(turn.Text()); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
		for _, p := range turn.Parts {
			if p.IsAttachment() {
				b.WriteString(theme.MutedStyle.Render("  📎 " + attachmentLabel(p)))
				b.WriteString("\n")
			}
		}

	case chat.RoleModel:
		b.WriteString(theme.TitleStyle.Render("✦ Gemini"))
		b.WriteString("\n")
		if text := turn.Text(); strings.TrimSpace(text) != "" {
			b.WriteString(RenderMarkdown(text, width))
			b.WriteString("\n")
		}
		if turn.Status == chat.StatusFailed {
			b.WriteString(theme.ErrorStyle.Render(fmt.Sprintf("✗ %s: %s", turn.FailKind, turn.FailError)))
			b.WriteString("\n")
		}
	}

	return b.String()
}

// attachmentLabel formats an attachment part for display.
func attachmentLabel(p chat.Part) string {
	return fmt.Sprintf("%s (%s, %s)", p.Name, p.MIMEType, humanBytes(p.SizeBytes))
}

// humanBytes formats a byte count with a binary unit.
func humanBytes(n int64) string {
	switch {
	case n >= 1<<30:
		return fmt.Sprintf("%.1f GiB", float64(n)/(1<<30))
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

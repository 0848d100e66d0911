package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/natefinch/atomic"

	"geminichat/internal/chat"
)

// ExportJSON 将会话以缩进 JSON 原样写出 / writes the full record as indented JSON
func ExportJSON(sess *chat.Session, path string) error {
	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(append(data, '\n'))); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

// ExportMarkdown 将会话渲染为可读的 Markdown 文稿
// ExportMarkdown renders the conversation as a readable Markdown transcript.
// Failed turns keep their partial text and are annotated with the failure.
func ExportMarkdown(sess *chat.Session, path string) error {
	var b strings.Builder

	title := sess.InferTitle()
	if title == "" {
		title = "Untitled conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "- Model: %s\n", sess.Model)
	fmt.Fprintf(&b, "- Created: %s\n", sess.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "- Updated: %s\n\n", sess.UpdatedAt.Format(time.RFC3339))

	for _, turn := range sess.Turns {
		switch turn.Role {
		case chat.RoleUser:
			b.WriteString("## User\n\n")
		case chat.RoleModel:
			b.WriteString("## Model\n\n")
		}

		for _, part := range turn.Parts {
			if part.Kind == chat.PartText {
				b.WriteString(part.Text)
				b.WriteString("\n\n")
				continue
			}
			name := part.Name
			if name == "" {
				name = part.Source
			}
			fmt.Fprintf(&b, "> attachment: %s (%s, %d bytes)\n\n", name, part.MIMEType, part.SizeBytes)
		}

		if turn.Status == chat.StatusFailed {
			fmt.Fprintf(&b, "> turn failed (%s): %s\n\n", turn.FailKind, turn.FailError)
		}
	}

	if err := atomic.WriteFile(path, strings.NewReader(b.String())); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

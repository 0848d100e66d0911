package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"geminichat/internal/chat"
)

func exportFixture() *chat.Session {
	sess := chat.NewSession("gemini-2.5-flash")
	sess.Title = "chart question"
	sess.Turns = []chat.Turn{
		{
			Role:   chat.RoleUser,
			Status: chat.StatusComplete,
			Parts: []chat.Part{
				chat.TextPart("what is in this image?"),
				{Kind: chat.PartImage, Name: "pic.png", MIMEType: "image/png", SizeBytes: 99},
			},
			CreatedAt: chat.Now(),
		},
		{
			Role:      chat.RoleModel,
			Status:    chat.StatusFailed,
			FailKind:  chat.FailNetwork,
			FailError: "connection reset",
			Parts:     []chat.Part{chat.TextPart("it looks li")},
			CreatedAt: chat.Now(),
		},
	}
	return sess
}

func TestExportJSONRoundTrip(t *testing.T) {
	sess := exportFixture()
	path := filepath.Join(t.TempDir(), "export.json")
	if err := ExportJSON(sess, path); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var decoded chat.Session
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if decoded.ID != sess.ID || len(decoded.Turns) != len(sess.Turns) {
		t.Errorf("export lost data: %+v", decoded)
	}
	if decoded.Turns[1].FailKind != chat.FailNetwork {
		t.Errorf("failure annotation lost: %+v", decoded.Turns[1])
	}
}

func TestExportMarkdown(t *testing.T) {
	sess := exportFixture()
	path := filepath.Join(t.TempDir(), "export.md")
	if err := ExportMarkdown(sess, path); err != nil {
		t.Fatalf("ExportMarkdown: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		"# chart question",
		"## User",
		"## Model",
		"what is in this image?",
		"attachment: pic.png (image/png, 99 bytes)",
		"turn failed (network): connection reset",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

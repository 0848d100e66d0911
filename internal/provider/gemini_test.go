package provider

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/genai"

	"geminichat/internal/chat"
)

func TestTurnsToContents(t *testing.T) {
	payload := filepath.Join(t.TempDir(), "pic.png")
	if err := os.WriteFile(payload, []byte{0x89, 'P', 'N', 'G'}, 0o644); err != nil {
		t.Fatalf("write payload: %v", err)
	}

	turns := []chat.Turn{
		{
			Role:   chat.RoleUser,
			Status: chat.StatusComplete,
			Parts: []chat.Part{
				chat.TextPart("what is in this image?"),
				{Kind: chat.PartImage, MIMEType: "image/png", PayloadPath: payload},
			},
		},
		{
			Role:   chat.RoleModel,
			Status: chat.StatusComplete,
			Parts:  []chat.Part{chat.TextPart("a chart")},
		},
		// failed and pending model turns must not be sent
		{
			Role:   chat.RoleModel,
			Status: chat.StatusFailed,
			Parts:  []chat.Part{chat.TextPart("partial")},
		},
		{
			Role:   chat.RoleUser,
			Status: chat.StatusComplete,
			Parts:  []chat.Part{chat.TextPart("thanks, and the axes?")},
		},
		{
			Role:   chat.RoleModel,
			Status: chat.StatusPending,
		},
	}

	contents, err := turnsToContents(turns)
	if err != nil {
		t.Fatalf("turnsToContents: %v", err)
	}
	if len(contents) != 3 {
		t.Fatalf("contents = %d, want 3", len(contents))
	}

	if contents[0].Role != genai.RoleUser {
		t.Errorf("contents[0].Role = %q, want user", contents[0].Role)
	}
	if len(contents[0].Parts) != 2 {
		t.Fatalf("contents[0] parts = %d, want 2", len(contents[0].Parts))
	}
	if contents[0].Parts[0].Text != "what is in this image?" {
		t.Errorf("text part = %q", contents[0].Parts[0].Text)
	}
	blob := contents[0].Parts[1].InlineData
	if blob == nil || blob.MIMEType != "image/png" || len(blob.Data) != 4 {
		t.Errorf("inline data not carried through: %+v", blob)
	}

	if contents[1].Role != genai.RoleModel {
		t.Errorf("contents[1].Role = %q, want model", contents[1].Role)
	}
	if contents[2].Parts[0].Text != "thanks, and the axes?" {
		t.Errorf("contents[2] text = %q", contents[2].Parts[0].Text)
	}
}

func TestTurnsToContentsMissingPayload(t *testing.T) {
	turns := []chat.Turn{{
		Role:   chat.RoleUser,
		Status: chat.StatusComplete,
		Parts: []chat.Part{
			{Kind: chat.PartImage, MIMEType: "image/png", PayloadPath: filepath.Join(t.TempDir(), "gone.png")},
		},
	}}
	if _, err := turnsToContents(turns); err == nil {
		t.Fatal("expected error for missing payload")
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name      string
		kind      chat.FailKind
		delivered bool
		attempt   int
		want      bool
	}{
		{"network before first byte", chat.FailNetwork, false, 1, true},
		{"network after first byte", chat.FailNetwork, true, 1, false},
		{"network on second attempt", chat.FailNetwork, false, 2, false},
		{"api rejection", chat.FailAPI, false, 1, false},
		{"cancellation", chat.FailCancelled, false, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.kind, tt.delivered, tt.attempt); got != tt.want {
				t.Errorf("shouldRetry(%q, %v, %d) = %v, want %v",
					tt.kind, tt.delivered, tt.attempt, got, tt.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	bg := context.Background()

	if got := classify(bg, context.Canceled); got != chat.FailCancelled {
		t.Errorf("canceled: got %q", got)
	}
	if got := classify(bg, genai.APIError{Code: 429, Message: "rate limited"}); got != chat.FailAPI {
		t.Errorf("api error: got %q", got)
	}
	if got := classify(bg, errors.New("connection reset")); got != chat.FailNetwork {
		t.Errorf("transport error: got %q", got)
	}

	cancelled, cancel := context.WithCancel(bg)
	cancel()
	if got := classify(cancelled, errors.New("any")); got != chat.FailCancelled {
		t.Errorf("cancelled ctx: got %q", got)
	}
}

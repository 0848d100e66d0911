package tokens

import (
	"testing"

	"geminichat/internal/chat"
)

func fallbackTokenizer() *Tokenizer {
	// unknown encoding forces the heuristic path, keeping tests offline
	return NewTokenizer("no-such-encoding")
}

func TestHeuristicCounts(t *testing.T) {
	tk := fallbackTokenizer()
	if tk.IsPrecise() {
		t.Fatal("expected heuristic fallback")
	}

	cases := []struct {
		name string
		text string
		min  int
		max  int
	}{
		{"empty", "", 0, 0},
		{"short ascii", "hi", 1, 1},
		{"english sentence", "the quick brown fox jumps over the lazy dog", 8, 14},
		{"cjk", "你好世界", 5, 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tk.CountText(tc.text)
			if got < tc.min || got > tc.max {
				t.Errorf("CountText(%q) = %d, want in [%d, %d]", tc.text, got, tc.min, tc.max)
			}
		})
	}
}

func TestCountTurnAttachmentsCapped(t *testing.T) {
	tk := fallbackTokenizer()
	turn := chat.Turn{
		Role:   chat.RoleUser,
		Status: chat.StatusComplete,
		Parts: []chat.Part{
			chat.TextPart("see attachment"),
			{Kind: chat.PartVideo, SizeBytes: 50 << 20},
		},
	}
	got := tk.CountTurn(&turn)
	textOnly := tk.CountTurn(&chat.Turn{
		Role:   chat.RoleUser,
		Status: chat.StatusComplete,
		Parts:  []chat.Part{chat.TextPart("see attachment")},
	})
	if got-textOnly != 2048 {
		t.Errorf("attachment estimate = %d, want capped at 2048", got-textOnly)
	}
}

func TestCountSessionSumsTurns(t *testing.T) {
	tk := fallbackTokenizer()
	sess := chat.NewSession("gemini-2.5-flash")
	sess.Turns = []chat.Turn{
		{Role: chat.RoleUser, Parts: []chat.Part{chat.TextPart("hello")}},
		{Role: chat.RoleModel, Parts: []chat.Part{chat.TextPart("hi there")}},
	}
	want := tk.CountTurn(&sess.Turns[0]) + tk.CountTurn(&sess.Turns[1])
	if got := tk.CountSession(sess); got != want {
		t.Errorf("CountSession = %d, want %d", got, want)
	}
	if tk.CountSession(nil) != 0 {
		t.Error("nil session should count 0")
	}
}

package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies the author of a Turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// TurnStatus is the lifecycle state of a Turn.
// A turn moves pending -> streaming -> complete | failed and never back.
type TurnStatus string

const (
	StatusPending   TurnStatus = "pending"
	StatusStreaming TurnStatus = "streaming"
	StatusComplete  TurnStatus = "complete"
	StatusFailed    TurnStatus = "failed"
)

// PartKind tags the content carried by a Part.
type PartKind string

const (
	PartText     PartKind = "text"
	PartDocument PartKind = "document"
	PartImage    PartKind = "image"
	PartAudio    PartKind = "audio"
	PartVideo    PartKind = "video"
)

// Part is one content unit within a Turn: either inline text or a typed
// reference to a normalized attachment payload on disk.
type Part struct {
	Kind PartKind `json:"kind"`

	// Inline text, only for PartText.
	Text string `json:"text,omitempty"`

	// Reference fields, only for attachment parts.
	Source      string `json:"source,omitempty"`       // user-supplied path or URL
	Name        string `json:"name,omitempty"`         // display name
	MIMEType    string `json:"mime_type,omitempty"`    // detected media type
	SizeBytes   int64  `json:"size_bytes,omitempty"`   // payload size
	SHA256      string `json:"sha256,omitempty"`       // payload content hash
	PayloadPath string `json:"payload_path,omitempty"` // content-addressed copy under the data dir
}

// TextPart builds an inline text Part.
func TextPart(text string) Part {
	return Part{Kind: PartText, Text: text}
}

// IsAttachment reports whether the part references a payload on disk.
func (p Part) IsAttachment() bool {
	return p.Kind != PartText
}

// FailKind classifies why a Turn ended in StatusFailed.
type FailKind string

const (
	FailNetwork   FailKind = "network"
	FailAPI       FailKind = "api"
	FailCancelled FailKind = "cancelled"
)

// Turn is one exchange unit in a conversation.
type Turn struct {
	Role      Role       `json:"role"`
	Parts     []Part     `json:"parts"`
	Status    TurnStatus `json:"status"`
	FailKind  FailKind   `json:"fail_kind,omitempty"`
	FailError string     `json:"fail_error,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Text concatenates the turn's inline text parts in order.
func (t Turn) Text() string {
	var b strings.Builder
	for _, p := range t.Parts {
		if p.Kind == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// AppendText appends a streamed delta to the trailing text part, creating it
// if the turn does not end in one. Append-only: deltas are concatenated in
// arrival order, never reordered or coalesced beyond concatenation.
func (t *Turn) AppendText(delta string) {
	if n := len(t.Parts); n > 0 && t.Parts[n-1].Kind == PartText {
		t.Parts[n-1].Text += delta
		return
	}
	t.Parts = append(t.Parts, TextPart(delta))
}

// Session is a full conversation, the unit of persistence and display.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model"`
	FolderID  string    `json:"folder_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Turns     []Turn    `json:"turns"`
}

// NewSession creates an empty conversation for the given model.
func NewSession(model string) *Session {
	now := Now()
	return &Session{
		ID:        uuid.NewString(),
		Model:     strings.TrimSpace(model),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// InferTitle derives a session title from the first user text, the same way
// the history list labels untitled conversations.
func (s *Session) InferTitle() string {
	if strings.TrimSpace(s.Title) != "" {
		return s.Title
	}
	for _, turn := range s.Turns {
		if turn.Role != RoleUser {
			continue
		}
		text := strings.TrimSpace(turn.Text())
		if text == "" {
			continue
		}
		runes := []rune(text)
		if len(runes) > 50 {
			return string(runes[:50]) + "..."
		}
		return text
	}
	return ""
}

// Folder is a named grouping of sessions. A session belongs to at most one.
type Folder struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewFolder creates a folder with a fresh id.
func NewFolder(name string) Folder {
	return Folder{ID: uuid.NewString(), Name: strings.TrimSpace(name), CreatedAt: Now()}
}

// Now returns the current UTC time truncated to whole seconds, the precision
// the stores persist. Using it for every timestamp keeps load(persist(s))
// byte-for-byte equal to s.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Second)
}

package storage

import (
	"context"
	"errors"
	"time"

	"geminichat/internal/chat"
)

// 存储层哨兵错误 / store sentinel errors
var (
	// ErrNotFound is returned when the referenced session or folder does
	// not exist. The store is left unchanged.
	ErrNotFound = errors.New("not found")

	// ErrEmptyID is returned for operations on a blank id.
	ErrEmptyID = errors.New("id is empty")
)

// Summary 历史列表中的一行 / one row of the history list
type Summary struct {
	ID        string
	Title     string
	Model     string
	FolderID  string
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store 会话与文件夹的持久化接口。
// 同一 id 的 Persist 串行执行；不同 id 互不阻塞。
//
// Store persists conversations and their folders. Persist calls for the same
// session id are serialized; distinct ids proceed independently. Load after
// a successful Persist returns a record equal to the one persisted, field
// for field.
type Store interface {
	// Create inserts a new empty session for the given model.
	Create(ctx context.Context, model string) (*chat.Session, error)

	// List returns summaries of all sessions, most recently updated first.
	List(ctx context.Context) ([]Summary, error)

	// Load reads one full session. ErrNotFound when absent.
	Load(ctx context.Context, id string) (*chat.Session, error)

	// Persist durably replaces the stored record with s.
	Persist(ctx context.Context, s *chat.Session) error

	// Delete removes a session and its turns. ErrNotFound when absent.
	Delete(ctx context.Context, id string) error

	// Search matches query against titles and turn text, most recently
	// updated first.
	Search(ctx context.Context, query string) ([]Summary, error)

	// CreateFolder adds a named folder.
	CreateFolder(ctx context.Context, name string) (chat.Folder, error)

	// ListFolders returns all folders ordered by name.
	ListFolders(ctx context.Context) ([]chat.Folder, error)

	// RenameFolder changes a folder's name. ErrNotFound when absent.
	RenameFolder(ctx context.Context, id, name string) error

	// DeleteFolder removes a folder. Member sessions survive with their
	// folder membership cleared.
	DeleteFolder(ctx context.Context, id string) error

	// MoveToFolder assigns a session to a folder; an empty folderID clears
	// the membership.
	MoveToFolder(ctx context.Context, sessionID, folderID string) error

	Close() error
}

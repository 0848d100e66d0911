package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"geminichat/internal/chat"

	_ "modernc.org/sqlite"
)

// SQLiteStore 基于 SQLite (WAL 模式) 的持久化实现
// SQLiteStore implements Store using SQLite with WAL mode
type SQLiteStore struct {
	db   *sql.DB
	path string

	// per-session persist locks; distinct ids write concurrently
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewSQLiteStore 创建并初始化 SQLite 数据库
// NewSQLiteStore creates and initializes a SQLite database
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteStore{db: db, path: dbPath, locks: make(map[string]*sync.Mutex)}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		title      TEXT NOT NULL DEFAULT '',
		model      TEXT NOT NULL DEFAULT '',
		folder_id  TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		seq        INTEGER NOT NULL,
		role       TEXT NOT NULL,
		status     TEXT NOT NULL,
		fail_kind  TEXT NOT NULL DEFAULT '',
		fail_error TEXT NOT NULL DEFAULT '',
		parts      TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL,
		UNIQUE(session_id, seq)
	);

	CREATE TABLE IF NOT EXISTS folders (
		id         TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, seq);
	CREATE INDEX IF NOT EXISTS idx_sessions_folder ON sessions(folder_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close 关闭数据库连接 / Close the database connection
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) lockFor(id string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	mu, ok := s.locks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.locks[id] = mu
	}
	return mu
}

// --- Session Operations ---

func (s *SQLiteStore) Create(ctx context.Context, model string) (*chat.Session, error) {
	sess := chat.NewSession(model)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, title, model, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.Model, sess.FolderID,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.title, s.model, s.folder_id, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM turns t WHERE t.session_id = s.id)
		FROM sessions s ORDER BY s.updated_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*chat.Session, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, ErrEmptyID
	}

	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, model, folder_id, created_at, updated_at
		FROM sessions WHERE id=?`, id)

	var sess chat.Session
	var created, updated string
	err := row.Scan(&sess.ID, &sess.Title, &sess.Model, &sess.FolderID, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT role, status, fail_kind, fail_error, parts, created_at
		FROM turns WHERE session_id=? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("query turns: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var turn chat.Turn
		var partsJSON, createdAt string
		if err := rows.Scan(&turn.Role, &turn.Status, &turn.FailKind, &turn.FailError, &partsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("scan turn: %w", err)
		}
		if err := json.Unmarshal([]byte(partsJSON), &turn.Parts); err != nil {
			return nil, fmt.Errorf("decode parts: %w", err)
		}
		if turn.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parse turn created_at: %w", err)
		}
		sess.Turns = append(sess.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turns: %w", err)
	}
	return &sess, nil
}

// Persist 在单个事务里整体替换会话及其回合，保证落盘要么完整要么不发生。
// Persist replaces the session row and all of its turns in one transaction,
// so a stored record is always a complete snapshot.
func (s *SQLiteStore) Persist(ctx context.Context, sess *chat.Session) error {
	if sess == nil || strings.TrimSpace(sess.ID) == "" {
		return ErrEmptyID
	}

	mu := s.lockFor(sess.ID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, title, model, folder_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title, model=excluded.model, folder_id=excluded.folder_id,
			created_at=excluded.created_at, updated_at=excluded.updated_at`,
		sess.ID, sess.Title, sess.Model, sess.FolderID,
		formatTime(sess.CreatedAt), formatTime(sess.UpdatedAt),
	); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	// 清除旧回合后按 seq 重写 / clear old turns, rewrite by seq
	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id=?", sess.ID); err != nil {
		return fmt.Errorf("delete old turns: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO turns (session_id, seq, role, status, fail_kind, fail_error, parts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, turn := range sess.Turns {
		partsJSON := "[]"
		if len(turn.Parts) > 0 {
			data, marshalErr := json.Marshal(turn.Parts)
			if marshalErr != nil {
				return fmt.Errorf("encode parts %d: %w", i, marshalErr)
			}
			partsJSON = string(data)
		}
		if _, err := stmt.ExecContext(ctx, sess.ID, i, turn.Role, turn.Status,
			turn.FailKind, turn.FailError, partsJSON, formatTime(turn.CreatedAt)); err != nil {
			return fmt.Errorf("insert turn %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyID
	}
	res, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	s.locksMu.Lock()
	delete(s.locks, id)
	s.locksMu.Unlock()
	return nil
}

// Search 在标题与回合文本中做子串匹配 / substring match over titles and turn text
func (s *SQLiteStore) Search(ctx context.Context, query string) ([]Summary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.List(ctx)
	}
	pattern := "%" + escapeLike(query) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.id, s.title, s.model, s.folder_id, s.created_at, s.updated_at,
			(SELECT COUNT(*) FROM turns c WHERE c.session_id = s.id)
		FROM sessions s
		LEFT JOIN turns t ON t.session_id = s.id
		WHERE s.title LIKE ? ESCAPE '\' OR t.parts LIKE ? ESCAPE '\'
		ORDER BY s.updated_at DESC, s.rowid DESC`, pattern, pattern)
	if err != nil {
		return nil, fmt.Errorf("search sessions: %w", err)
	}
	defer rows.Close()
	return scanSummaries(rows)
}

// --- Folder Operations ---

func (s *SQLiteStore) CreateFolder(ctx context.Context, name string) (chat.Folder, error) {
	folder := chat.NewFolder(name)
	if folder.Name == "" {
		return chat.Folder{}, fmt.Errorf("folder name is empty")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO folders (id, name, created_at) VALUES (?, ?, ?)`,
		folder.ID, folder.Name, formatTime(folder.CreatedAt))
	if err != nil {
		return chat.Folder{}, fmt.Errorf("insert folder: %w", err)
	}
	return folder, nil
}

func (s *SQLiteStore) ListFolders(ctx context.Context) ([]chat.Folder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, created_at FROM folders ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list folders: %w", err)
	}
	defer rows.Close()

	var folders []chat.Folder
	for rows.Next() {
		var folder chat.Folder
		var created string
		if err := rows.Scan(&folder.ID, &folder.Name, &created); err != nil {
			return nil, fmt.Errorf("scan folder: %w", err)
		}
		if folder.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse folder created_at: %w", err)
		}
		folders = append(folders, folder)
	}
	return folders, rows.Err()
}

func (s *SQLiteStore) RenameFolder(ctx context.Context, id, name string) error {
	id, name = strings.TrimSpace(id), strings.TrimSpace(name)
	if id == "" {
		return ErrEmptyID
	}
	if name == "" {
		return fmt.Errorf("folder name is empty")
	}
	res, err := s.db.ExecContext(ctx, "UPDATE folders SET name=? WHERE id=?", name, id)
	if err != nil {
		return fmt.Errorf("rename folder: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteFolder 删除文件夹并清除成员关系，不动会话本身。
// DeleteFolder removes the folder and clears membership; member sessions
// themselves are untouched.
func (s *SQLiteStore) DeleteFolder(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrEmptyID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "UPDATE sessions SET folder_id='' WHERE folder_id=?", id); err != nil {
		return fmt.Errorf("clear membership: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM folders WHERE id=?", id)
	if err != nil {
		return fmt.Errorf("delete folder: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("folder %s: %w", id, ErrNotFound)
	}
	return tx.Commit()
}

func (s *SQLiteStore) MoveToFolder(ctx context.Context, sessionID, folderID string) error {
	sessionID = strings.TrimSpace(sessionID)
	folderID = strings.TrimSpace(folderID)
	if sessionID == "" {
		return ErrEmptyID
	}

	if folderID != "" {
		var one int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM folders WHERE id=?", folderID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("folder %s: %w", folderID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("check folder: %w", err)
		}
	}

	res, err := s.db.ExecContext(ctx, "UPDATE sessions SET folder_id=? WHERE id=?", folderID, sessionID)
	if err != nil {
		return fmt.Errorf("move session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// --- Helpers ---

func scanSummaries(rows *sql.Rows) ([]Summary, error) {
	var out []Summary
	for rows.Next() {
		var sum Summary
		var created, updated string
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.Model, &sum.FolderID,
			&created, &updated, &sum.TurnCount); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		var err error
		if sum.CreatedAt, err = parseTime(created); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if sum.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

package settings

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/99designs/keyring"
	"github.com/BurntSushi/toml"
	"github.com/natefinch/atomic"
)

// keyringService is the service name settings credentials are filed under.
const keyringService = "geminichat"

// ErrNoAPIKey is returned when neither the environment nor the keyring
// holds a Gemini API key.
var ErrNoAPIKey = errors.New("no API key: set GEMINI_API_KEY or store one with SetAPIKey")

// Store 设置的单例存取点。内存中的快照由读写锁保护，
// 只有在落盘成功之后才会被替换。
//
// Store owns the settings file and the in-memory snapshot. The snapshot is
// guarded by an RWMutex and swapped only after a durable write succeeds, so
// readers never observe half-saved state.
type Store struct {
	path   string
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings

	openKeyring func() (keyring.Keyring, error)
}

// NewStore creates a store over the settings file at path. Call Load before
// reading Current.
func NewStore(path string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		path:   path,
		logger: logger,
		openKeyring: func() (keyring.Keyring, error) {
			return keyring.Open(keyring.Config{ServiceName: keyringService})
		},
	}
}

// Current returns the in-memory settings snapshot.
func (st *Store) Current() Settings {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Load 读取设置文件。文件缺失时写出默认值；文件损坏时先备份为
// <name>.broken 再恢复默认值，用户的残件不会被悄悄丢弃。
//
// Load reads the settings file. A missing file is created with defaults. A
// corrupt file is renamed to <name>.broken and replaced with defaults, so
// whatever the user had is preserved for inspection.
func (st *Store) Load() (Settings, error) {
	data, err := os.ReadFile(st.path)
	if errors.Is(err, os.ErrNotExist) {
		def := Default()
		if saveErr := st.Save(def); saveErr != nil {
			return Settings{}, fmt.Errorf("write initial settings: %w", saveErr)
		}
		return def, nil
	}
	if err != nil {
		return Settings{}, fmt.Errorf("read settings: %w", err)
	}

	var loaded Settings
	if _, err := toml.Decode(string(data), &loaded); err == nil {
		loaded.fillDefaults()
		if vErr := loaded.Validate(); vErr == nil {
			st.mu.Lock()
			st.current = loaded
			st.mu.Unlock()
			return loaded, nil
		} else {
			err = vErr
		}
	}

	// corrupt or invalid: back it up and start over with defaults
	broken := st.path + ".broken"
	st.logger.Warn("settings file unusable, restoring defaults",
		"path", st.path, "backup", broken, "error", err)
	if renameErr := os.Rename(st.path, broken); renameErr != nil {
		st.logger.Error("backup of broken settings failed", "error", renameErr)
	}
	def := Default()
	if saveErr := st.Save(def); saveErr != nil {
		return Settings{}, fmt.Errorf("restore default settings: %w", saveErr)
	}
	return def, nil
}

// Save 校验后原子写盘，成功后才替换内存快照。
// Save validates, writes temp-then-rename, and only then swaps the
// in-memory snapshot.
func (st *Store) Save(s Settings) error {
	s.fillDefaults()
	if err := s.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(st.path), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# geminichat settings\n\n")
	if err := toml.NewEncoder(&buf).Encode(s); err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := atomic.WriteFile(st.path, &buf); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	// settings may carry a user name; keep the file private
	if err := os.Chmod(st.path, 0o600); err != nil {
		st.logger.Warn("chmod settings file", "error", err)
	}

	st.mu.Lock()
	st.current = s
	st.mu.Unlock()
	return nil
}

// Update applies fn to a copy of the current settings and saves the result.
func (st *Store) Update(fn func(*Settings)) error {
	s := st.Current()
	fn(&s)
	return st.Save(s)
}

// APIKey 获取 Gemini API key：环境变量优先，其次系统 keyring。
// APIKey resolves the Gemini API key. The GEMINI_API_KEY environment
// variable wins; otherwise the keyring entry named by APIKeyRef is used.
func (st *Store) APIKey() (string, error) {
	if key := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); key != "" {
		return key, nil
	}

	ring, err := st.openKeyring()
	if err != nil {
		return "", fmt.Errorf("open keyring: %w", err)
	}
	item, err := ring.Get(st.Current().APIKeyRef)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return "", ErrNoAPIKey
		}
		return "", fmt.Errorf("read keyring: %w", err)
	}
	key := strings.TrimSpace(string(item.Data))
	if key == "" {
		return "", ErrNoAPIKey
	}
	return key, nil
}

// SetAPIKey stores the credential in the OS keyring under APIKeyRef.
func (st *Store) SetAPIKey(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("api key is empty")
	}
	ring, err := st.openKeyring()
	if err != nil {
		return fmt.Errorf("open keyring: %w", err)
	}
	if err := ring.Set(keyring.Item{
		Key:   st.Current().APIKeyRef,
		Data:  []byte(key),
		Label: "Gemini API key",
	}); err != nil {
		return fmt.Errorf("write keyring: %w", err)
	}
	return nil
}

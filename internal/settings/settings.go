// Package settings 管理用户偏好：TOML 文件落盘，密钥存放在系统 keyring。
// Package settings manages user preferences. Preferences live in a TOML file
// under the data dir; the API credential never touches that file and is kept
// in the OS keyring instead.
package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CurrentVersion is written into new settings files and bumped on schema
// changes so older files can be migrated on load.
const CurrentVersion = 1

// Settings 用户偏好 / user preferences
type Settings struct {
	Version         int    `toml:"version"`
	DefaultModel    string `toml:"default_model"`
	Theme           string `toml:"theme"`  // "dark" | "light"
	Locale          string `toml:"locale"` // "" = detect from environment
	UserName        string `toml:"user_name"`
	EnableStreaming bool   `toml:"enable_streaming"`
	HistoryLimit    int    `toml:"history_limit"`

	// APIKeyRef names the keyring entry holding the Gemini API key. The
	// key itself is never written to the settings file.
	APIKeyRef string `toml:"api_key_ref"`
}

// Default returns the settings a fresh install starts with.
func Default() Settings {
	return Settings{
		Version:         CurrentVersion,
		DefaultModel:    "gemini-2.5-flash",
		Theme:           "dark",
		Locale:          "",
		UserName:        "",
		EnableStreaming: true,
		HistoryLimit:    100,
		APIKeyRef:       "gemini-api-key",
	}
}

// Validate rejects values the UI cannot work with.
func (s Settings) Validate() error {
	switch s.Theme {
	case "dark", "light":
	default:
		return fmt.Errorf("invalid theme %q, must be dark or light", s.Theme)
	}
	if s.HistoryLimit < 0 {
		return fmt.Errorf("history_limit must be non-negative, got %d", s.HistoryLimit)
	}
	if strings.TrimSpace(s.DefaultModel) == "" {
		return fmt.Errorf("default_model is empty")
	}
	return nil
}

// fillDefaults patches zero values left by a sparse or older settings file.
func (s *Settings) fillDefaults() {
	def := Default()
	if s.Version == 0 {
		s.Version = def.Version
	}
	if strings.TrimSpace(s.DefaultModel) == "" {
		s.DefaultModel = def.DefaultModel
	}
	if s.Theme == "" {
		s.Theme = def.Theme
	}
	if s.HistoryLimit == 0 {
		s.HistoryLimit = def.HistoryLimit
	}
	if strings.TrimSpace(s.APIKeyRef) == "" {
		s.APIKeyRef = def.APIKeyRef
	}
}

// DataDir 返回数据目录（默认 ~/.geminichat），GEMINICHAT_HOME 可覆盖。
// DataDir returns the data directory, ~/.geminichat by default. The
// GEMINICHAT_HOME environment variable overrides it.
func DataDir() (string, error) {
	if dir := strings.TrimSpace(os.Getenv("GEMINICHAT_HOME")); dir != "" {
		return expandPath(dir), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determine home directory: %w", err)
	}
	return filepath.Join(home, ".geminichat"), nil
}

// expandPath 展开开头的 ~ / expands a leading ~ to the home directory
func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(path, "~"), "/"))
	}
	return path
}

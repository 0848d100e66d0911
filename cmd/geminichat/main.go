package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"geminichat/internal/attach"
	"geminichat/internal/i18n"
	"geminichat/internal/provider"
	"geminichat/internal/settings"
	"geminichat/internal/storage"
	"geminichat/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
)

func main() {
	var (
		dataDir string
		model   string
		locale  string
		setKey  string
	)
	flag.StringVar(&dataDir, "data", "", "Data directory override (default ~/.geminichat)")
	flag.StringVar(&model, "model", "", "Model id override for this run")
	flag.StringVar(&locale, "lang", "", "Locale override (en, zh-CN)")
	flag.StringVar(&setKey, "set-api-key", "", "Store the Gemini API key in the OS keyring and exit")
	flag.Parse()

	if dataDir == "" {
		var err error
		dataDir, err = settings.DataDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "resolve data dir failed: %v\n", err)
			os.Exit(1)
		}
	}
	for _, sub := range []string{"", "uploads", "exports", "logs"} {
		if err := os.MkdirAll(filepath.Join(dataDir, sub), 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "init data dir failed: %v\n", err)
			os.Exit(1)
		}
	}

	logger, logFile, err := newLogger(filepath.Join(dataDir, "logs", "geminichat.log"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open log file failed: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close()
	slog.SetDefault(logger)

	settingsStore := settings.NewStore(filepath.Join(dataDir, "settings.toml"), logger)
	cfg, err := settingsStore.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load settings failed: %v\n", err)
		os.Exit(1)
	}

	if setKey != "" {
		if err := settingsStore.SetAPIKey(setKey); err != nil {
			fmt.Fprintf(os.Stderr, "store API key failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("API key stored in the OS keyring")
		return
	}

	if locale == "" {
		locale = cfg.Locale
	}
	i18n.Init(locale)

	apiKey, err := settingsStore.APIKey()
	if errors.Is(err, settings.ErrNoAPIKey) {
		fmt.Fprintln(os.Stderr, "no Gemini API key configured")
		fmt.Fprintln(os.Stderr, "set the GEMINI_API_KEY environment variable or run: geminichat -set-api-key <key>")
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "read API key failed: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	gemini, err := provider.NewGemini(ctx, apiKey, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init Gemini client failed: %v\n", err)
		os.Exit(1)
	}

	store, err := storage.NewSQLiteStore(filepath.Join(dataDir, "history.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "open history store failed: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	normalizer, err := attach.NewNormalizer(filepath.Join(dataDir, "uploads"), attach.DefaultLimits())
	if err != nil {
		fmt.Fprintf(os.Stderr, "init attachment store failed: %v\n", err)
		os.Exit(1)
	}

	if model != "" {
		cfg.DefaultModel = model
	}

	deps := tui.Deps{
		Store:      store,
		Settings:   settingsStore,
		Provider:   gemini,
		Normalizer: normalizer,
		Logger:     logger,
		ExportDir:  filepath.Join(dataDir, "exports"),
	}

	watchCtx, cancelWatch := context.WithCancel(ctx)
	defer cancelWatch()

	err = tui.Run(deps, func(p *tea.Program) {
		// 设置文件外部变更推送给 UI / push external settings edits to the UI
		go func() {
			watchErr := settingsStore.Watch(watchCtx, func(s settings.Settings) {
				p.Send(tui.SettingsChangedMsg{Settings: s})
			})
			if watchErr != nil && !errors.Is(watchErr, context.Canceled) {
				logger.Warn("settings watch stopped", "error", watchErr)
			}
		}()
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ui failed: %v\n", err)
		os.Exit(1)
	}
}

// newLogger opens an append-only log file. The TUI owns the terminal, so all
// logging goes to the data dir. Level comes from GEMINICHAT_LOG.
func newLogger(path string) (*slog.Logger, *os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel()})
	return slog.New(handler), f, nil
}

func logLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("GEMINICHAT_LOG"))) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

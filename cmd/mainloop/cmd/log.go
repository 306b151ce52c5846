package cmd

import (
	"io"
	"log/slog"
	"path/filepath"

	"github.com/go-drift/mainloop/cmd/mainloop/internal/config"
	"github.com/go-drift/mainloop/pkg/errors"
	"github.com/go-drift/mainloop/pkg/mainthread"
)

// loadConfig resolves the configuration from --config or the project root.
func loadConfig() (*config.Resolved, error) {
	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		return cfg.Resolve(filepath.Dir(configPath))
	}

	root, err := config.FindProjectRoot()
	if err != nil {
		return nil, err
	}
	return config.Resolve(root)
}

func newLogger(w io.Writer, cfg *config.Resolved) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// newDispatcher creates the dispatcher owned by the calling goroutine and
// installs the logging error handler globally.
func newDispatcher(cfg *config.Resolved, logger *slog.Logger) *mainthread.Dispatcher {
	handler := &errors.LogHandler{Logger: logger, Verbose: cfg.Verbose}
	errors.SetHandler(handler)
	return mainthread.New(
		mainthread.WithName(cfg.DispatcherName),
		mainthread.WithLogger(logger),
		mainthread.WithErrorHandler(handler),
		mainthread.WithLockOSThread(cfg.LockOSThread),
	)
}

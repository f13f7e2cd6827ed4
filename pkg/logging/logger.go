// Package logging wires log/slog handlers for the server and request logs.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"geoquery/pkg/config"
)

// RequestLogger writes one line per HTTP request. It stays file-only so the
// console carries pipeline events, not access noise.
var RequestLogger *slog.Logger

// Init sets up the default logger (stdout plus file) and the request logger
// (file only). The returned cleanup closes the log files.
func Init(cfg *config.LogConfig) (func(), error) {
	rotate(cfg.Server.Path, cfg.Requests.Path, cfg.LLM.Path)

	var closers []io.Closer
	closeAll := func() {
		for _, c := range closers {
			c.Close()
		}
	}

	serverHandler, f, err := newHandler(cfg.Server.Path, cfg.Server.Level, true)
	if err != nil {
		return nil, fmt.Errorf("failed to setup server logger: %w", err)
	}
	closers = append(closers, f)
	slog.SetDefault(slog.New(serverHandler))

	requestHandler, f, err := newHandler(cfg.Requests.Path, cfg.Requests.Level, false)
	if err != nil {
		closeAll()
		return nil, fmt.Errorf("failed to setup requests logger: %w", err)
	}
	closers = append(closers, f)
	RequestLogger = slog.New(requestHandler)

	return closeAll, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(path, levelStr string, console bool) (slog.Handler, *os.File, error) {
	level := parseLevel(levelStr)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}

	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	if !console {
		return fileHandler, file, nil
	}

	// The console never drops below INFO regardless of the file level.
	consoleLevel := level
	if consoleLevel < slog.LevelInfo {
		consoleLevel = slog.LevelInfo
	}
	consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: consoleLevel})

	return &teeHandler{handlers: []slog.Handler{fileHandler, consoleHandler}}, file, nil
}

// teeHandler fans one record out to every handler that accepts its level.
type teeHandler struct {
	handlers []slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range t.handlers {
		if h.Enabled(ctx, r.Level) {
			if err := h.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithAttrs(attrs)
	}
	return &teeHandler{handlers: next}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = h.WithGroup(name)
	}
	return &teeHandler{handlers: next}
}

// rotate renames existing log files to .old so each run starts fresh while
// keeping the previous run around.
func rotate(paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			continue
		}
		if _, err := os.Stat(p); err == nil {
			old := p + ".old"
			_ = os.Remove(old)
			_ = os.Rename(p, old)
		}
	}
}

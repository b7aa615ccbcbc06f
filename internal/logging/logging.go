// Package logging provides structured logging configuration using slog.
package logging

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config holds logging configuration.
type Config struct {
	LogFile        string // Path to log file (empty for stdout)
	MaxLogFileSize int    // Max file size in bytes before rotation
	Level          string // debug, info, warn or error (default info)
}

// gcpHandler writes Google Cloud Logging compatible JSON lines.
type gcpHandler struct {
	mu     *sync.Mutex
	writer io.Writer
	level  slog.Level
	attrs  []slog.Attr
}

// gcpSeverity maps slog levels to Google Cloud Logging severity levels.
func gcpSeverity(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARNING"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}

// ParseLevel maps a level name to a slog.Level, defaulting to Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func newHandler(w io.Writer, level slog.Level) *gcpHandler {
	return &gcpHandler{mu: &sync.Mutex{}, writer: w, level: level}
}

func (h *gcpHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *gcpHandler) Handle(_ context.Context, r slog.Record) error {
	entry := map[string]interface{}{
		"severity": gcpSeverity(r.Level),
		"message":  r.Message,
		"time":     r.Time.Format("2006-01-02T15:04:05.000Z07:00"),
	}

	for _, a := range h.attrs {
		entry[a.Key] = jsonValue(a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		entry[a.Key] = jsonValue(a.Value)
		return true
	})

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(data)
	return err
}

// jsonValue renders errors and stringers as text; json.Marshal would turn
// most error values into {}.
func jsonValue(v slog.Value) interface{} {
	v = v.Resolve()
	switch x := v.Any().(type) {
	case error:
		return x.Error()
	case interface{ String() string }:
		return x.String()
	default:
		return x
	}
}

func (h *gcpHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &gcpHandler{mu: h.mu, writer: h.writer, level: h.level, attrs: merged}
}

func (h *gcpHandler) WithGroup(name string) slog.Handler {
	// Groups are flattened.
	return h
}

// Setup initializes the global slog logger based on the provided configuration.
// Returns a cleanup function to close the log file if one was opened.
func Setup(cfg Config) func() {
	var writer io.Writer = os.Stdout
	cleanup := func() {}

	// Setup file writer with rotation if log file specified
	if cfg.LogFile != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.MaxLogFileSize / (1024 * 1024), // lumberjack uses MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		writer = lj
		cleanup = func() {
			lj.Close()
		}
	}

	slog.SetDefault(slog.New(newHandler(writer, ParseLevel(cfg.Level))))
	return cleanup
}

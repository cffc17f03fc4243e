// Package logging builds the slog logger shared by the service binaries.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spoutfi/rwa/backend/internal/config"
)

var levelNames = map[string]slog.Level{
	"":        slog.LevelInfo,
	"info":    slog.LevelInfo,
	"debug":   slog.LevelDebug,
	"warn":    slog.LevelWarn,
	"warning": slog.LevelWarn,
	"error":   slog.LevelError,
}

// New returns a logger tagged with the service name and a closer that
// releases the log file when one is open. Level, format, and destination all
// come from cfg; the zero config means info-level text on stdout.
func New(service string, cfg config.LogConfig) (*slog.Logger, func() error, error) {
	level, ok := levelNames[normalize(cfg.Level)]
	if !ok {
		return nil, nil, fmt.Errorf("unknown log level %q (debug|info|warn|error)", cfg.Level)
	}

	format := normalize(cfg.Format)
	if format == "" {
		format = "text"
	}
	if format != "text" && format != "json" {
		return nil, nil, fmt.Errorf("unknown log format %q (text|json)", cfg.Format)
	}

	sink, closeSink, err := openSink(service, cfg)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(sink, opts)
	} else {
		handler = slog.NewTextHandler(sink, opts)
	}

	return slog.New(handler).With("service", service), closeSink, nil
}

func openSink(service string, cfg config.LogConfig) (io.Writer, func() error, error) {
	noop := func() error { return nil }

	switch normalize(cfg.Output) {
	case "", "console":
		return os.Stdout, noop, nil
	case "file":
		file, err := appendLogFile(service, cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return file, file.Close, nil
	case "both":
		file, err := appendLogFile(service, cfg.FilePath)
		if err != nil {
			return nil, nil, err
		}
		return io.MultiWriter(os.Stdout, file), file.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown log output %q (console|file|both)", cfg.Output)
	}
}

func appendLogFile(service string, configuredPath string) (*os.File, error) {
	path := strings.TrimSpace(configuredPath)
	if path == "" {
		path = filepath.Join(".docker", service, service+".log")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory for %q: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %q: %w", path, err)
	}
	return file, nil
}

func normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

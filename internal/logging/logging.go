// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options configures New.
type Options struct {
	Level string

	// File, when set, switches to JSON records in a size-rotated file.
	// Otherwise text records go to Stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int

	// Stderr overrides os.Stderr (tests).
	Stderr io.Writer
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", level)
	}
}

// New builds the logger. The returned closer releases the log file, if any.
func New(opts Options) (*slog.Logger, io.Closer, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	var (
		h      slog.Handler
		closer io.Closer = nopCloser{}
	)
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		w := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB, // MB
			MaxBackups: opts.MaxBackups,
			Compress:   true,
		}
		h = slog.NewJSONHandler(w, hopts)
		closer = w
	} else {
		out := opts.Stderr
		if out == nil {
			out = os.Stderr
		}
		h = slog.NewTextHandler(out, hopts)
	}

	l := slog.New(h)
	logStartup(l)
	return l, closer, nil
}

// logStartup records the platform and build the process runs with.
func logStartup(l *slog.Logger) {
	l.Info("Logging started", slog.Time("start", time.Now()))
	l.Info("System information",
		slog.String("GOARCH", runtime.GOARCH),
		slog.String("GOOS", runtime.GOOS),
		slog.Int("NumCPUs", runtime.NumCPU()))

	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	var deps []any
	for _, dep := range bi.Deps {
		deps = append(deps, slog.String(dep.Path, dep.Version))
	}
	l.Debug("Build",
		slog.String("Go version", bi.GoVersion),
		slog.String("Path", bi.Path),
		slog.Group("Dependencies", deps...))
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

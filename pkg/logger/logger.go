// Package logger provides the process-wide structured logger.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"edgecache/pkg/paths"
)

var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

var (
	logFile    *os.File
	logFileMu  sync.Mutex
	logLoc     *time.Location
	locationMu sync.RWMutex
)

// fileHandler wraps a slog.Handler and additionally appends each record,
// pre-formatted with the configured timezone, to the day's log file.
type fileHandler struct {
	slog.Handler
}

func (h *fileHandler) Handle(ctx context.Context, r slog.Record) error {
	locationMu.RLock()
	loc := logLoc
	locationMu.RUnlock()
	if loc == nil {
		loc = time.Local
	}

	t := r.Time.In(loc)
	msg := fmt.Sprintf("time=%s level=%s msg=%q", t.Format("2006-01-02T15:04:05.000-07:00"), r.Level, r.Message)
	r.Attrs(func(a slog.Attr) bool {
		msg += fmt.Sprintf(" %s=%v", a.Key, a.Value)
		return true
	})

	err := h.Handler.Handle(ctx, r)

	logFileMu.Lock()
	if logFile != nil {
		fmt.Fprintln(logFile, msg)
	}
	logFileMu.Unlock()

	return err
}

// Init builds the global logger at the given level ("DEBUG", "INFO", "WARN",
// "ERROR"). Timestamps render in the timezone named by the TZ environment
// variable, falling back to the local timezone.
func Init(levelStr string) {
	var level slog.Level
	switch strings.ToUpper(levelStr) {
	case "DEBUG":
		level = slog.LevelDebug
	case "WARN":
		level = slog.LevelWarn
	case "ERROR":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	loc := time.Local
	if tz := os.Getenv("TZ"); tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}
	locationMu.Lock()
	logLoc = loc
	locationMu.Unlock()

	dataDir := paths.GetDataDir()
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "logger: failed to create data dir %s: %v\n", dataDir, err)
	} else {
		name := fmt.Sprintf("edgecache-%s.log", time.Now().In(loc).Format("2006-01-02"))
		path := filepath.Join(dataDir, name)
		logFileMu.Lock()
		if logFile != nil {
			logFile.Close()
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logger: failed to open log file %s: %v\n", path, err)
			logFile = nil
		} else {
			logFile = f
		}
		logFileMu.Unlock()
	}

	tzLoc := loc
	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				return slog.String("time", a.Value.Time().In(tzLoc).Format("2006-01-02T15:04:05.000-07:00"))
			}
			return a
		},
	}

	base := slog.NewTextHandler(os.Stdout, opts)
	Log = slog.New(&fileHandler{Handler: base})
	slog.SetDefault(Log)
}

// Close closes the day's log file, if open.
func Close() {
	logFileMu.Lock()
	defer logFileMu.Unlock()
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func Debug(msg string, args ...any) { Log.Debug(msg, args...) }
func Info(msg string, args ...any)  { Log.Info(msg, args...) }
func Warn(msg string, args ...any)  { Log.Warn(msg, args...) }
func Error(msg string, args ...any) { Log.Error(msg, args...) }

func Fatal(msg string, args ...any) {
	Log.Error(msg, args...)
	os.Exit(1)
}

// Package logging provides structured zerolog loggers for dispatchd.
// Daemon logs go to one file per UTC day; the writer switches files when the
// date changes so a long-running server never needs an external rotator.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const filePrefix = "dispatchd-"

// Fields is a set of structured context fields.
type Fields map[string]any

// Logger wraps zerolog with a component tag and owns the daily log file.
type Logger struct {
	zl        zerolog.Logger
	component string
	out       *dailyWriter
}

// Config holds logging configuration.
type Config struct {
	Level         string // debug, info, warn, error
	Path          string // log directory; empty logs to stderr
	Format        string // json, text
	RetentionDays int    // days of files to keep (default 14)
	Stderr        bool   // also write to stderr when Path is set
}

// DefaultConfig returns default logging configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Level:         "info",
		Path:          filepath.Join(home, ".local", "share", "dispatchd", "logs"),
		Format:        "json",
		RetentionDays: 14,
	}
}

var (
	globalLogger *Logger
	globalMu     sync.RWMutex
)

// Init replaces the global logger.
func Init(cfg Config) error {
	logger, err := New(cfg)
	if err != nil {
		return err
	}

	globalMu.Lock()
	prev := globalLogger
	globalLogger = logger
	globalMu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// New creates a Logger from cfg.
func New(cfg Config) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "json"
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = 14
	}

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	logger := &Logger{}
	var output io.Writer = os.Stderr

	if cfg.Path != "" {
		dir := expandPath(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating log dir: %w", err)
		}
		dw := &dailyWriter{dir: dir, retention: cfg.RetentionDays, now: time.Now}
		if err := dw.rotate(dw.now().UTC()); err != nil {
			return nil, err
		}
		logger.out = dw
		output = dw
		if cfg.Stderr {
			output = io.MultiWriter(dw, os.Stderr)
		}
	}

	if cfg.Format == "text" {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
			NoColor:    cfg.Path != "",
		}
	}

	logger.zl = zerolog.New(output).Level(level).With().Timestamp().Logger()
	return logger, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// NewWriter returns a logger writing JSON lines to w; used by tests.
func NewWriter(w io.Writer) *Logger {
	return &Logger{zl: zerolog.New(w).With().Timestamp().Logger()}
}

// dailyWriter appends to dispatchd-YYYY-MM-DD.log and reopens on date change.
type dailyWriter struct {
	mu        sync.Mutex
	dir       string
	retention int
	day       string
	file      *os.File
	now       func() time.Time
}

func (w *dailyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now().UTC()
	if now.Format("2006-01-02") != w.day {
		if err := w.rotateLocked(now); err != nil {
			return 0, err
		}
	}
	return w.file.Write(p)
}

func (w *dailyWriter) rotate(now time.Time) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateLocked(now)
}

func (w *dailyWriter) rotateLocked(now time.Time) error {
	day := now.Format("2006-01-02")
	f, err := os.OpenFile(filepath.Join(w.dir, filePrefix+day+".log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	if w.file != nil {
		_ = w.file.Close()
	}
	w.file = f
	w.day = day
	go pruneLogs(w.dir, now.AddDate(0, 0, -w.retention))
	return nil
}

func (w *dailyWriter) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}

func pruneLogs(dir string, cutoff time.Time) {
	files, err := ListFiles(dir)
	if err != nil {
		return
	}
	for _, path := range files {
		day, ok := fileDate(filepath.Base(path))
		if ok && day.Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

func fileDate(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".log") {
		return time.Time{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".log")
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// ListFiles returns dispatchd log files in dir, newest first.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(expandPath(dir))
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, ok := fileDate(entry.Name()); ok {
			files = append(files, filepath.Join(expandPath(dir), entry.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

// WithComponent returns a child logger tagged with component.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:        l.zl.With().Str("component", component).Logger(),
		component: component,
		out:       l.out,
	}
}

// WithTenant returns a child logger tagged with a tenant id.
func (l *Logger) WithTenant(tenantID string) *Logger {
	return &Logger{
		zl:        l.zl.With().Str("tenant", tenantID).Logger(),
		component: l.component,
		out:       l.out,
	}
}

// Zerolog exposes the underlying logger.
func (l *Logger) Zerolog() *zerolog.Logger {
	return &l.zl
}

func (l *Logger) Debug(msg string) { l.zl.Debug().Msg(msg) }
func (l *Logger) Info(msg string)  { l.zl.Info().Msg(msg) }
func (l *Logger) Warn(msg string)  { l.zl.Warn().Msg(msg) }
func (l *Logger) Error(msg string) { l.zl.Error().Msg(msg) }

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// DebugCtx logs msg with structured fields.
func (l *Logger) DebugCtx(msg string, fields Fields) { emit(l.zl.Debug(), msg, fields) }

// InfoCtx logs msg with structured fields.
func (l *Logger) InfoCtx(msg string, fields Fields) { emit(l.zl.Info(), msg, fields) }

// WarnCtx logs msg with structured fields.
func (l *Logger) WarnCtx(msg string, fields Fields) { emit(l.zl.Warn(), msg, fields) }

// ErrorCtx logs msg with structured fields.
func (l *Logger) ErrorCtx(msg string, fields Fields) { emit(l.zl.Error(), msg, fields) }

func emit(event *zerolog.Event, msg string, fields Fields) {
	for k, v := range fields {
		if err, ok := v.(error); ok {
			event = event.AnErr(k, err)
			continue
		}
		event = event.Interface(k, v)
	}
	event.Msg(msg)
}

// Err starts an error-level event carrying err.
func (l *Logger) Err(err error) *zerolog.Event {
	return l.zl.Error().Err(err)
}

// Close closes the log file, if any. Child loggers share the file.
func (l *Logger) Close() error {
	if l.out == nil {
		return nil
	}
	return l.out.close()
}

// Get returns the global logger, or a stderr logger before Init.
func Get() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalLogger == nil {
		return &Logger{zl: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	}
	return globalLogger
}

// Component returns a global logger tagged with name.
func Component(name string) *Logger {
	return Get().WithComponent(name)
}

// ParseLevel maps a level name to a zerolog level.
func ParseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

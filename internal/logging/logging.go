// Package logging wraps log/slog for the daemon: leveled text or JSON
// output, per-component child loggers tagged with the exam session,
// size-based file rotation, and redaction of values that must never
// reach the log (tokens, answer content).
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
)

// Level aliases slog.Level so callers configure levels without
// importing slog themselves.
type Level = slog.Level

const (
	LevelDebug = slog.LevelDebug
	LevelInfo  = slog.LevelInfo
	LevelWarn  = slog.LevelWarn
	LevelError = slog.LevelError
)

// Format selects the handler encoding.
type Format int

const (
	FormatText Format = iota
	FormatJSON
)

// Config holds the logging configuration.
type Config struct {
	Level  Level
	Format Format

	// Output routes log lines: "stdout", "stderr", "file", or "both"
	// (stderr plus file). Anything else falls back to stderr.
	Output string

	// FilePath, MaxSize (MB), MaxAge (days), MaxBackups, and Compress
	// configure the rotated log file when Output includes "file".
	FilePath   string
	MaxSize    int64
	MaxAge     int
	MaxBackups int
	Compress   bool

	// Component tags every line from this logger.
	Component string
}

// DefaultConfig returns stderr text logging at info level, with file
// settings prepared for the platform log directory.
func DefaultConfig() *Config {
	return &Config{
		Level:      LevelInfo,
		Format:     FormatText,
		Output:     "stderr",
		FilePath:   defaultLogPath(),
		MaxSize:    100,
		MaxAge:     30,
		MaxBackups: 5,
		Compress:   true,
		Component:  "proctord",
	}
}

func defaultLogPath() string {
	switch runtime.GOOS {
	case "darwin":
		homeDir, _ := os.UserHomeDir()
		return filepath.Join(homeDir, "Library", "Logs", "proctord", "proctord.log")
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if appData == "" {
			appData = os.Getenv("APPDATA")
		}
		return filepath.Join(appData, "proctord", "logs", "proctord.log")
	default:
		stateHome := os.Getenv("XDG_STATE_HOME")
		if stateHome == "" {
			homeDir, _ := os.UserHomeDir()
			stateHome = filepath.Join(homeDir, ".local", "state")
		}
		return filepath.Join(stateHome, "proctord", "proctord.log")
	}
}

// Logger is a slog.Logger plus ownership of the rotated log file.
type Logger struct {
	*slog.Logger
	config  *Config
	rotator *FileRotator
	mu      sync.Mutex
}

var (
	defaultLogger *Logger
	loggerOnce    sync.Once
)

// Default returns the process-wide logger. Components accept an
// optional *Logger and fall back to this one.
func Default() *Logger {
	loggerOnce.Do(func() {
		var err error
		defaultLogger, err = New(DefaultConfig())
		if err != nil {
			defaultLogger = &Logger{
				Logger: slog.Default(),
				config: DefaultConfig(),
			}
		}
	})
	return defaultLogger
}

// SetDefault installs l as both this package's and slog's default.
func SetDefault(l *Logger) {
	defaultLogger = l
	slog.SetDefault(l.Logger)
}

// New builds a Logger from cfg. A nil cfg uses DefaultConfig.
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{config: cfg}

	w, rotator, err := buildOutput(cfg)
	if err != nil {
		return nil, fmt.Errorf("log output: %w", err)
	}
	l.rotator = rotator

	opts := &slog.HandlerOptions{
		Level: cfg.Level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if shouldRedact(a.Key) {
				a.Value = slog.StringValue("[REDACTED]")
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == FormatJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	if cfg.Component != "" {
		handler = handler.WithAttrs([]slog.Attr{
			slog.String("component", cfg.Component),
		})
	}

	l.Logger = slog.New(handler)
	return l, nil
}

// buildOutput resolves cfg.Output into a writer, opening the rotated
// file when requested.
func buildOutput(cfg *Config) (io.Writer, *FileRotator, error) {
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		return os.Stdout, nil, nil
	case "file":
		rotator, err := NewFileRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		return rotator, rotator, nil
	case "both":
		rotator, err := NewFileRotator(cfg)
		if err != nil {
			return nil, nil, err
		}
		return io.MultiWriter(os.Stderr, rotator), rotator, nil
	default:
		return os.Stderr, nil, nil
	}
}

// shouldRedact reports whether an attribute key names a value that
// must never reach the daemon log. Answer content belongs only in the
// submission payload.
func shouldRedact(key string) bool {
	sensitiveKeys := []string{
		"password", "secret", "token", "credential",
		"private", "auth", "cookie", "api_key",
		"apikey", "access_token", "bearer",
		"answer", "answers",
	}

	keyLower := strings.ToLower(key)
	for _, sensitive := range sensitiveKeys {
		if strings.Contains(keyLower, sensitive) {
			return true
		}
	}
	return false
}

// WithSessionID returns a child logger tagged with the exam session.
func (l *Logger) WithSessionID(id string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("session_id", id)),
		config:  l.config,
		rotator: l.rotator,
	}
}

// WithComponent returns a child logger tagged with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{
		Logger:  l.Logger.With(slog.String("component", name)),
		config:  l.config,
		rotator: l.rotator,
	}
}

// Close closes the log file if one is open.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Close()
	}
	return nil
}

// Sync flushes buffered entries to the log file.
func (l *Logger) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.rotator != nil {
		return l.rotator.Sync()
	}
	return nil
}

// ParseLevel parses a configuration string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel represents logging verbosity levels.
type LogLevel int

// Log level constants.
const (
	LogLevelOff LogLevel = iota
	LogLevelError
	LogLevelDebug
)

// ParseLogLevel parses a log level string.
func ParseLogLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "none":
		return LogLevelOff
	case "error":
		return LogLevelError
	case "debug":
		return LogLevelDebug
	default:
		return LogLevelError
	}
}

// String returns the string representation of a log level.
func (l LogLevel) String() string {
	switch l {
	case LogLevelOff:
		return "off"
	case LogLevelError:
		return "error"
	case LogLevelDebug:
		return "debug"
	default:
		return "error"
	}
}

func (l LogLevel) zapLevel() zapcore.Level {
	if l == LogLevelDebug {
		return zapcore.DebugLevel
	}
	return zapcore.ErrorLevel
}

// LogWriter is the logging surface components depend on.
type LogWriter interface {
	Debug(format string, args ...any)
	Error(format string, args ...any)
}

// RotationOptions controls log file rotation.
type RotationOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// sink is shared by a logger and every logger derived from it with Named.
type sink struct {
	mu       sync.Mutex
	level    LogLevel
	atom     zap.AtomicLevel
	file     *lumberjack.Logger
	filePath string
}

// Logger handles logging to a rotating file.
type Logger struct {
	sink  *sink
	sugar *zap.SugaredLogger
}

var _ LogWriter = (*Logger)(nil)

// NewLogger creates a new logger with default rotation.
func NewLogger(level LogLevel, filePath string) (*Logger, error) {
	return NewRotatingLogger(level, filePath, RotationOptions{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28})
}

// NewRotatingLogger creates a logger that writes through lumberjack.
func NewRotatingLogger(level LogLevel, filePath string, rot RotationOptions) (*Logger, error) {
	s := &sink{
		level:    level,
		atom:     zap.NewAtomicLevelAt(level.zapLevel()),
		filePath: filePath,
	}

	if level == LogLevelOff || filePath == "" {
		return &Logger{sink: s, sugar: zap.NewNop().Sugar()}, nil
	}

	expanded, err := ExpandHome(filePath)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(expanded), 0o750); err != nil {
		return nil, err
	}

	// Fail early on unwritable paths; lumberjack would only report it on first write.
	// #nosec G304 -- log file path is from validated config
	f, err := os.OpenFile(expanded, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	_ = f.Close()

	s.filePath = expanded
	s.file = &lumberjack.Logger{
		Filename:   expanded,
		MaxSize:    rot.MaxSizeMB,
		MaxBackups: rot.MaxBackups,
		MaxAge:     rot.MaxAgeDays,
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	encCfg.ConsoleSeparator = " "

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(s.file), s.atom)
	return &Logger{sink: s, sugar: zap.New(core).Sugar()}, nil
}

// Named returns a logger that tags entries with a component name.
func (l *Logger) Named(name string) *Logger {
	return &Logger{sink: l.sink, sugar: l.sugar.Named(name)}
}

// Close flushes and closes the log file.
func (l *Logger) Close() error {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.file == nil {
		return nil
	}
	_ = l.sugar.Sync()
	err := l.sink.file.Close()
	l.sink.file = nil
	return err
}

// SetLevel changes the log level.
func (l *Logger) SetLevel(level LogLevel) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
	l.sink.atom.SetLevel(level.zapLevel())
}

// Level returns the current log level.
func (l *Logger) Level() LogLevel {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	return l.sink.level
}

// Path returns the resolved log file path.
func (l *Logger) Path() string {
	return l.sink.filePath
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.log(LogLevelDebug, format, args...)
}

// Error logs an error message.
func (l *Logger) Error(format string, args ...any) {
	l.log(LogLevelError, format, args...)
}

// Writer returns an io.Writer that writes to the logger at the specified level.
func (l *Logger) Writer(level LogLevel) io.Writer {
	return &logWriter{logger: l, level: level}
}

func (l *Logger) log(level LogLevel, format string, args ...any) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()

	if l.sink.level == LogLevelOff || level > l.sink.level || l.sink.file == nil {
		return
	}

	msg := fmt.Sprintf(format, args...)
	if level == LogLevelDebug {
		l.sugar.Debug(msg)
		return
	}
	l.sugar.Error(msg)
}

type logWriter struct {
	logger *Logger
	level  LogLevel
}

func (w *logWriter) Write(p []byte) (n int, err error) {
	w.logger.log(w.level, "%s", strings.TrimSpace(string(p)))
	return len(p), nil
}

// NullLogger returns a logger that discards all output.
func NullLogger() *Logger {
	return &Logger{
		sink:  &sink{level: LogLevelOff, atom: zap.NewAtomicLevel()},
		sugar: zap.NewNop().Sugar(),
	}
}

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger provides leveled debug logging for pagepilot components.
// All components of one process write to the same rotated file in
// ~/.pagepilot/logs/, tagged with their component name.
type Logger struct {
	sessionID string
	component string
	sugar     *zap.SugaredLogger
	writer    io.Writer
	logPath   string
	closeOnce sync.Once
	closer    io.Closer
}

var (
	// Global session ID for the current execution
	sessionID     string
	sessionIDOnce sync.Once

	// logDir is the directory where log files are stored
	logDir string

	initOnce sync.Once
	initErr  error

	// level is shared by every logger so verbosity can be changed at runtime.
	level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
)

// Log file rotation limits.
const (
	maxLogSizeMB  = 20
	maxLogBackups = 5
	maxLogAgeDays = 14
)

func getSessionID() string {
	sessionIDOnce.Do(func() {
		sessionID = uuid.New().String()
	})
	return sessionID
}

func initLogDirectory() error {
	initOnce.Do(func() {
		if logDir != "" {
			initErr = os.MkdirAll(logDir, 0750)
			return
		}

		homeDir, err := os.UserHomeDir()
		if err != nil {
			initErr = fmt.Errorf("failed to get home directory: %w", err)
			return
		}

		logDir = filepath.Join(homeDir, ".pagepilot", "logs")
		if err := os.MkdirAll(logDir, 0750); err != nil {
			initErr = fmt.Errorf("failed to create log directory: %w", err)
			return
		}
	})
	return initErr
}

// NewLogger creates a new logger for a specific component.
// The logger writes JSON lines to ~/.pagepilot/logs/<session-id>-pagepilot.log.
//
// If the log directory cannot be created it returns a logger that writes to
// stderr along with the error, so callers can warn about fallback mode.
func NewLogger(component string) (*Logger, error) {
	if err := initLogDirectory(); err != nil {
		return newFallbackLogger(component, err), err
	}

	sessID := getSessionID()
	logPath := filepath.Join(logDir, fmt.Sprintf("%s-pagepilot.log", sessID))

	rotator := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
	}

	core := zapcore.NewCore(fileEncoder(), zapcore.AddSync(rotator), level)
	base := zap.New(core).With(
		zap.String("component", component),
		zap.String("session_id", sessID),
	)

	return &Logger{
		sessionID: sessID,
		component: component,
		sugar:     base.Sugar(),
		writer:    rotator,
		logPath:   logPath,
		closer:    rotator,
	}, nil
}

// NewNop returns a logger that discards everything. Useful in tests.
func NewNop() *Logger {
	return &Logger{
		sessionID: getSessionID(),
		component: "nop",
		sugar:     zap.NewNop().Sugar(),
		writer:    io.Discard,
	}
}

func newFallbackLogger(component string, err error) *Logger {
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encoderCfg), zapcore.Lock(os.Stderr), level)

	sugar := zap.New(core).Named(component).Sugar()
	sugar.Warnf("failed to initialize file logging: %v", err)
	sugar.Warnf("falling back to stderr logging")

	return &Logger{
		sessionID: getSessionID(),
		component: component,
		sugar:     sugar,
		writer:    os.Stderr,
	}
}

func fileEncoder() zapcore.Encoder {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "ts"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	return zapcore.NewJSONEncoder(cfg)
}

// Printf logs a formatted message at info level
func (l *Logger) Printf(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) {
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) {
	l.sugar.Errorf(format, v...)
}

// With returns a child logger carrying the given key/value pairs.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		sessionID: l.sessionID,
		component: l.component,
		sugar:     l.sugar.With(keysAndValues...),
		writer:    l.writer,
		logPath:   l.logPath,
	}
}

// Writer returns an io.Writer that writes to the underlying sink
func (l *Logger) Writer() io.Writer {
	return l.writer
}

// Component returns the component name this logger was created for.
func (l *Logger) Component() string {
	return l.component
}

// SessionID returns the current session ID
func (l *Logger) SessionID() string {
	return l.sessionID
}

// LogPath returns the path to the log file, or "" for stderr/nop loggers.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// Close flushes and closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.sugar.Sync()
		if l.closer != nil {
			err = l.closer.Close()
		}
	})
	return err
}

// SetLevel maps a user-facing verbosity name onto the shared log level.
// Valid values are quiet, normal, verbose and debug.
func SetLevel(verbosity string) error {
	switch strings.ToLower(verbosity) {
	case "quiet":
		level.SetLevel(zapcore.ErrorLevel)
	case "normal", "":
		level.SetLevel(zapcore.InfoLevel)
	case "verbose":
		level.SetLevel(zapcore.InfoLevel)
	case "debug":
		level.SetLevel(zapcore.DebugLevel)
	default:
		return fmt.Errorf("invalid verbosity: %s (must be 'quiet', 'normal', 'verbose', or 'debug')", verbosity)
	}
	return nil
}

// Level returns the current shared log level.
func Level() zapcore.Level {
	return level.Level()
}

// GetSessionID returns the current global session ID
func GetSessionID() string {
	return getSessionID()
}

// GetLogDirectory returns the directory where logs are stored
func GetLogDirectory() (string, error) {
	if err := initLogDirectory(); err != nil {
		return "", err
	}
	return logDir, nil
}

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects where and how log entries are written.
type Config struct {
	// Level is one of debug, info, warn, error. Default: info.
	Level string `yaml:"level" json:"level"`

	// Format is json or console. Default: json.
	Format string `yaml:"format" json:"format"`

	// File, when set, receives the log stream instead of stderr.
	File string `yaml:"file" json:"file"`
}

// Logger provides structured component logging for the capture service.
// Every entry carries the process instance id and the component name.
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
	file      *os.File
	closeOnce *sync.Once
}

var (
	// Global instance ID for the current process
	instanceID     string
	instanceIDOnce sync.Once
)

// InstanceID returns the id attached to every entry of this process.
func InstanceID() string {
	instanceIDOnce.Do(func() {
		instanceID = uuid.New().String()
	})
	return instanceID
}

// New creates the root logger described by cfg.
//
// If cfg.File cannot be opened, it returns a logger writing to stderr
// along with the error, so callers can warn and keep going.
func New(cfg Config) (*Logger, error) {
	if cfg.File == "" {
		return NewWithWriter(cfg, os.Stderr)
	}

	file, err := openLogFile(cfg.File)
	if err != nil {
		fallback, ferr := NewWithWriter(cfg, os.Stderr)
		if ferr != nil {
			return nil, ferr
		}
		fallback.Warnf("falling back to stderr logging: %v", err)
		return fallback, err
	}

	l, err := NewWithWriter(cfg, file)
	if err != nil {
		file.Close()
		return nil, err
	}
	l.file = file
	return l, nil
}

// NewWithWriter creates a root logger writing to w.
func NewWithWriter(cfg Config, w io.Writer) (*Logger, error) {
	levelText := cfg.Level
	if levelText == "" {
		levelText = "info"
	}
	level, err := zap.ParseAtomicLevel(levelText)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "", "json":
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	case "console":
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	default:
		return nil, fmt.Errorf("invalid log format %q (must be 'json' or 'console')", cfg.Format)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), level)
	base := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1)).
		With(zap.String("instance", InstanceID()))

	return &Logger{
		component: "capture",
		sugar:     base.Sugar().Named("capture"),
		closeOnce: &sync.Once{},
	}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{
		component: "nop",
		sugar:     zap.NewNop().Sugar(),
		closeOnce: &sync.Once{},
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	// Open log file in append mode (restarts keep one stream)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return file, nil
}

// Named returns a child logger for a component.
func (l *Logger) Named(component string) *Logger {
	return &Logger{
		component: component,
		sugar:     l.sugar.Named(component),
		file:      l.file,
		closeOnce: l.closeOnce,
	}
}

// With returns a child logger that adds the key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{
		component: l.component,
		sugar:     l.sugar.With(keysAndValues...),
		file:      l.file,
		closeOnce: l.closeOnce,
	}
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...any) {
	l.sugar.Debugf(format, v...)
}

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...any) {
	l.sugar.Infof(format, v...)
}

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...any) {
	l.sugar.Warnf(format, v...)
}

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...any) {
	l.sugar.Errorf(format, v...)
}

// Component returns the component name of this logger.
func (l *Logger) Component() string {
	return l.component
}

// Close flushes buffered entries and closes the log file. Safe to call
// multiple times and from any child logger.
func (l *Logger) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.sugar.Sync()
		if l.file != nil {
			err = l.file.Close()
		}
	})
	return err
}

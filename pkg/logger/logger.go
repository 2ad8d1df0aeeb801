// Package logger provides structured logging with rotation support.
// It uses zap for structured logging and lumberjack for log rotation.
package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level represents the log level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	// LevelFatal entries exit the process.
	LevelFatal Level = "fatal"
)

// Config represents logger configuration.
type Config struct {
	Level Level

	// OutputPath is the JSON log file. Empty disables file output.
	OutputPath string

	// Rotation, in megabytes, files and days.
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool

	// Development switches the console to colored text.
	Development bool

	// Quiet disables the stderr core. File output is unaffected.
	Quiet bool

	EnableStacktrace bool
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Level:            LevelInfo,
		OutputPath:       filepath.Join(homeDir, ".ctxkeep", "logs", "ctxkeep.log"),
		MaxSize:          100,
		MaxBackups:       3,
		MaxAge:           7,
		Compress:         true,
		EnableStacktrace: true,
	}
}

// Logger wraps zap.Logger. Children made with Named or WithFields share
// the parent's level, so SetLevel affects the whole tree.
type Logger struct {
	*zap.Logger
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

// New creates a logger. Console output goes to stderr so command output on
// stdout stays clean; the file, when configured, always gets JSON.
func New(cfg *Config) (*Logger, error) {
	zl, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	level := zap.NewAtomicLevelAt(zl)

	var cores []zapcore.Core
	if !cfg.Quiet {
		cores = append(cores, consoleCore(cfg.Development, level))
	}
	if cfg.OutputPath != "" {
		core, err := fileCore(cfg, level)
		if err != nil {
			return nil, err
		}
		cores = append(cores, core)
	}

	options := []zap.Option{zap.AddCaller()}
	if cfg.EnableStacktrace {
		options = append(options, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	if cfg.Development {
		options = append(options, zap.Development())
	}

	z := zap.New(zapcore.NewTee(cores...), options...)
	return &Logger{Logger: z, level: level, sugar: z.Sugar()}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	z := zap.NewNop()
	return &Logger{Logger: z, level: zap.NewAtomicLevel(), sugar: z.Sugar()}
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func consoleCore(development bool, level zap.AtomicLevel) zapcore.Core {
	enc := encoderConfig()
	var encoder zapcore.Encoder
	if development {
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(enc)
	} else {
		encoder = zapcore.NewJSONEncoder(enc)
	}
	return zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
}

func fileCore(cfg *Config, level zap.AtomicLevel) (zapcore.Core, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating log directory: %w", err)
	}
	w := &lumberjack.Logger{
		Filename:   cfg.OutputPath,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}
	return zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig()), zapcore.AddSync(w), level), nil
}

// Sugar returns a sugared logger for easier use.
func (l *Logger) Sugar() *zap.SugaredLogger {
	return l.sugar
}

// Named returns a child logger scoped to a component name.
func (l *Logger) Named(name string) *Logger {
	named := l.Logger.Named(name)
	return &Logger{Logger: named, level: l.level, sugar: named.Sugar()}
}

// WithFields creates a new logger with the given fields.
func (l *Logger) WithFields(fields ...zap.Field) *Logger {
	child := l.Logger.With(fields...)
	return &Logger{Logger: child, level: l.level, sugar: child.Sugar()}
}

// Level reports the current minimum level.
func (l *Logger) Level() Level {
	return Level(l.level.Level().String())
}

// SetLevel changes the minimum level at runtime.
func (l *Logger) SetLevel(level Level) error {
	zl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.SetLevel(zl)
	return nil
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	return l.Logger.Sync()
}

// ParseLevel converts a free-form level name to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal:
		return Level(s)
	default:
		return LevelInfo
	}
}

func parseLevel(level Level) (zapcore.Level, error) {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn:
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	case LevelFatal:
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("unknown log level: %s", level)
	}
}

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the zap-backed logger.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level" json:"level"`
	// Format is json or console.
	Format string `koanf:"format" json:"format"`
}

// DefaultConfig returns production defaults: info-level JSON.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "json"}
}

// Validate checks the config fields.
func (c Config) Validate() error {
	switch c.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	switch c.Format {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	return nil
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a zap-backed Logger from config.
func New(cfg Config) (Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Encoding = cfg.Format
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	base, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return &zapLogger{s: base.Sugar()}, nil
}

// FromZap wraps an existing zap logger, used by tests to observe output.
func FromZap(base *zap.Logger) Logger {
	return &zapLogger{s: base.Sugar()}
}

func (l *zapLogger) Info(msg string, fields ...any)  { l.s.Infow(msg, fields...) }
func (l *zapLogger) Debug(msg string, fields ...any) { l.s.Debugw(msg, fields...) }
func (l *zapLogger) Warn(msg string, fields ...any)  { l.s.Warnw(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...any) { l.s.Errorw(msg, fields...) }

func (l *zapLogger) Bind(fields ...any) Logger {
	return &zapLogger{s: l.s.With(fields...)}
}

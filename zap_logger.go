package unitrt

import (
	"fmt"

	"github.com/GoCodeAlone/unitrt/config"
	"go.uber.org/zap"
)

// ZapLogger adapts a zap logger to Logger.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger wraps l.
func NewZapLogger(l *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: l.Sugar()}
}

// NewZapLoggerFromConfig builds a production or development zap logger at the
// configured level.
func NewZapLoggerFromConfig(cfg config.LogConfig) (*ZapLogger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		zc.Level = level
	}
	l, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return NewZapLogger(l), nil
}

func (z *ZapLogger) Info(msg string, args ...any)  { z.sugar.Infow(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...any) { z.sugar.Errorw(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...any)  { z.sugar.Warnw(msg, args...) }
func (z *ZapLogger) Debug(msg string, args ...any) { z.sugar.Debugw(msg, args...) }

// Sync flushes buffered log entries.
func (z *ZapLogger) Sync() error { return z.sugar.Sync() }

// With returns a logger that adds args to every entry.
func (z *ZapLogger) With(args ...any) *ZapLogger {
	return &ZapLogger{sugar: z.sugar.With(args...)}
}

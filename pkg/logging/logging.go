// Package logging wires the ectologger facade used across the service onto a
// zap backend.
package logging

import (
	"github.com/Gobusters/ectologger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the service logger. Every component receives an
// ectologger.Logger; zap only appears here, as the sink that actually writes
// the entries.
func New(level string, pretty bool) (ectologger.Logger, func() error, error) {
	zapCfg := zap.NewProductionConfig()
	if pretty {
		zapCfg = zap.NewDevelopmentConfig()
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	zapCfg.Level = zap.NewAtomicLevelAt(lvl)

	zl, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, nil, err
	}

	logger := ectologger.NewEctoLogger(func(msg ectologger.EctoLogMessage) {
		zl.Info("log", zap.Any("entry", msg))
	})

	return logger, zl.Sync, nil
}

// NewNoop returns a logger that discards everything. Used in tests.
func NewNoop() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

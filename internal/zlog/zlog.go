// Package zlog builds the daemon's structured logging sink. The core emits
// events to this sink rather than owning transport selection; syslog, if
// any, is wired in by the caller.
package zlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config controls the logger's encoding and minimum level.
type Config struct {
	JSON  bool
	Debug bool
}

// New builds a *zap.Logger per cfg. Console output is used by default, one
// line per lifecycle event at default verbosity; JSON output is offered
// for log-aggregation pipelines.
func New(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	zc := zap.NewProductionConfig()
	if !cfg.JSON {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.DisableStacktrace = true

	return zc.Build()
}

// WithComponent returns a child logger tagged with a component field.
func WithComponent(log *zap.Logger, component string) *zap.Logger {
	return log.With(zap.String("component", component))
}

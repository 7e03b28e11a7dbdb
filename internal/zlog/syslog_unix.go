//go:build linux || darwin

package zlog

import (
	"log/syslog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// TrySyslog attempts to tee logging into syslog in addition to base's
// existing core. Failure to initialize syslog is not an error: logging
// simply degrades to whatever base already does (stderr/console).
func TrySyslog(base *zap.Logger, tag string) *zap.Logger {
	w, err := syslog.New(syslog.LOG_DAEMON|syslog.LOG_INFO, tag)
	if err != nil {
		base.Debug("syslog initialization failed, continuing without it", zap.Error(err))
		return base
	}
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		zap.InfoLevel,
	)
	return base.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		return zapcore.NewTee(c, core)
	}))
}

//go:build !linux && !darwin

package zlog

import "go.uber.org/zap"

// TrySyslog is a no-op on platforms without a syslog facility; this daemon
// targets Linux container hosts, so the fallback is simply base unchanged.
func TrySyslog(base *zap.Logger, tag string) *zap.Logger {
	return base
}

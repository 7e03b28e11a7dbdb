package daemonize

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Handlers groups the callbacks SignalLoop invokes on each recognized
// signal: SIGHUP reloads, SIGINT/SIGTERM shut down.
type Handlers struct {
	Reload   func()
	Shutdown func()
}

// SignalLoop registers for SIGHUP/SIGINT/SIGTERM and dispatches to h until
// ctx is cancelled or a shutdown signal is received, whichever comes first.
// It returns once a shutdown signal has been handled.
func SignalLoop(ctx context.Context, log *zap.Logger, h Handlers) {
	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGHUP:
				log.Info("received SIGHUP, reloading")
				h.Reload()
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("received shutdown signal", zap.String("signal", sig.String()))
				h.Shutdown()
				return
			}
		}
	}
}

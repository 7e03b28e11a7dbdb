// Command aardvark-dns is the authoritative DNS server for container
// networks. Argument parsing here is intentionally minimal — the CLI is
// treated as an external collaborator handing the core a config struct;
// it exists only to exercise the daemon end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/containers/aardvark-dns/internal/daemonize"
	"github.com/containers/aardvark-dns/internal/metrics"
	"github.com/containers/aardvark-dns/internal/resolvconf"
	"github.com/containers/aardvark-dns/internal/supervisor"
	"github.com/containers/aardvark-dns/internal/zlog"
)

const defaultPort = 53

func main() {
	os.Exit(run(os.Args[1:]))
}

type options struct {
	configDir   string
	port        int
	metricsAddr string
	logJSON     bool
	debug       bool
}

func parseArgs(args []string) (*options, []string, error) {
	fs := flag.NewFlagSet("aardvark-dns", flag.ContinueOnError)
	opts := &options{}
	fs.StringVar(&opts.configDir, "config", "", "path to the network config directory (required)")
	fs.IntVar(&opts.port, "port", defaultPort, "port to bind DNS listeners on")
	fs.StringVar(&opts.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (disabled if empty)")
	fs.BoolVar(&opts.logJSON, "log-json", false, "emit JSON logs instead of console output")
	fs.BoolVar(&opts.debug, "debug", false, "enable debug-level logging")

	if err := ff.Parse(fs, args); err != nil {
		return nil, nil, err
	}
	return opts, fs.Args(), nil
}

// run implements the CLI surface: `program --config DIR [--port N] run`,
// exit codes 0/1/2. --config has no default and must be given.
func run(args []string) int {
	opts, rest, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	if len(rest) != 1 || rest[0] != "run" {
		fmt.Fprintln(os.Stderr, "usage: aardvark-dns --config DIR [--port N] run")
		return 2
	}
	if opts.configDir == "" {
		fmt.Fprintln(os.Stderr, "aardvark-dns: --config is required")
		return 2
	}

	if fd, isChild := daemonize.IsChild(); isChild {
		return runChild(opts, fd)
	}

	code, err := daemonize.Daemonize(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, "aardvark-dns:", err)
	}
	return code
}

// runChild performs every bind() call, then signals the parent via fd
// before entering the serve loop.
func runChild(opts *options, readyFD int) int {
	log, err := zlog.New(zlog.Config{JSON: opts.logJSON, Debug: opts.debug})
	if err != nil {
		fmt.Fprintln(os.Stderr, "aardvark-dns: building logger:", err)
		return 1
	}
	log = zlog.TrySyslog(log, "aardvark-dns")
	defer log.Sync()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	resolvers, err := resolvconf.NewWatcher("/etc/resolv.conf", zlog.WithComponent(log, "resolvconf"))
	if err != nil {
		log.Error("failed to read system resolvers", zap.Error(err))
		return 1
	}
	watchCtx, cancelWatch := context.WithCancel(context.Background())
	defer cancelWatch()
	go resolvers.Run(watchCtx)

	sup, err := supervisor.New(supervisor.Config{
		ConfigDir: opts.configDir,
		Port:      opts.port,
		Log:       zlog.WithComponent(log, "supervisor"),
		Metrics:   m,
		Resolvers: resolvers.Current,
	})
	if err != nil {
		log.Error("fatal startup error", zap.Error(err))
		return 1
	}

	pidfilePath, err := daemonize.WritePidfile(opts.configDir)
	if err != nil {
		log.Error("failed to write pidfile", zap.Error(err))
		return 1
	}
	defer daemonize.RemovePidfile(pidfilePath)

	if opts.metricsAddr != "" {
		go serveMetrics(opts.metricsAddr, registry, zlog.WithComponent(log, "metrics"))
	}

	if err := daemonize.SignalReady(readyFD); err != nil {
		log.Error("failed to signal readiness to parent", zap.Error(err))
		return 1
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	daemonize.SignalLoop(shutdownCtx, log, daemonize.Handlers{
		Reload: func() {
			reloadCtx, reloadCancel := context.WithTimeout(context.Background(), supervisor.ShutdownGrace*time.Second)
			defer reloadCancel()
			if err := sup.Reload(reloadCtx); err != nil {
				log.Warn("reload failed", zap.Error(err))
				return
			}
			if sup.Empty() {
				log.Info("no networks remain after reload, shutting down")
				cancel()
			}
		},
		Shutdown: func() {
			cancel()
		},
	})

	<-shutdownCtx.Done()
	drainCtx, drainCancel := context.WithTimeout(context.Background(), supervisor.ShutdownGrace*time.Second)
	defer drainCancel()
	sup.Shutdown(drainCtx)
	log.Info("shutdown complete")
	return 0
}

func serveMetrics(addr string, registry *prometheus.Registry, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server exited", zap.Error(err))
	}
}

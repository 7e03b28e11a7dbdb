// Package supervisor owns the authoritative snapshot and the set of live
// listeners, and implements the SIGHUP reload diff: compute add/remove/keep
// against the listener IP sets, retire and spawn listeners accordingly,
// then publish the new snapshot last.
package supervisor

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/containers/aardvark-dns/internal/backend"
	"github.com/containers/aardvark-dns/internal/forward"
	"github.com/containers/aardvark-dns/internal/metrics"
	"github.com/containers/aardvark-dns/internal/resolver"
	"github.com/containers/aardvark-dns/internal/server"
)

// ShutdownGrace bounds how long a retired listener is given to drain
// in-flight requests: bounded by the forward timeout and TCP idle timeout,
// hard deadline 10s.
const ShutdownGrace = 10

// Config wires the supervisor's external dependencies.
type Config struct {
	ConfigDir string
	Port      int
	Log       *zap.Logger
	Metrics   *metrics.Metrics
	Resolvers resolver.ResolversFunc
}

// Supervisor is the single writer of the snapshot handle; every listener
// task is a many-reader of it.
type Supervisor struct {
	cfg      Config
	snapshot atomic.Pointer[backend.BackendSnapshot]

	mu        sync.Mutex // serializes reloads and protects listeners
	listeners map[netip.Addr]*server.ListenerPair
	handler   *resolver.Handler
}

// New builds the initial snapshot and spawns a listener pair for every
// bind IP it names. A bind failure here is fatal to startup — the caller
// should report it to the launcher and exit non-zero.
func New(cfg Config) (*Supervisor, error) {
	sup := &Supervisor{cfg: cfg, listeners: make(map[netip.Addr]*server.ListenerPair)}
	sup.handler = &resolver.Handler{
		Snapshot:  sup.Snapshot,
		Resolvers: cfg.Resolvers,
		Forwarder: forward.New(cfg.Log),
		Log:       cfg.Log,
		Metrics:   cfg.Metrics,
	}

	snap, err := backend.Load(cfg.ConfigDir, cfg.Log, cfg.Metrics)
	if err != nil {
		return nil, fmt.Errorf("initial config load: %w", err)
	}

	for ip := range snap.ListenerIPs {
		lp, err := sup.bindListener(ip)
		if err != nil {
			return nil, err
		}
		sup.listeners[ip] = lp
	}
	sup.snapshot.Store(snap)
	if cfg.Metrics != nil {
		cfg.Metrics.ListenersActive.Set(float64(len(sup.listeners)))
	}
	return sup, nil
}

// Snapshot returns the currently published backend snapshot; it implements
// resolver.SnapshotFunc.
func (s *Supervisor) Snapshot() *backend.BackendSnapshot {
	return s.snapshot.Load()
}

// Empty reports whether the current snapshot has no configured networks,
// the condition under which the daemon shuts down cleanly.
func (s *Supervisor) Empty() bool {
	return len(s.Snapshot().Networks) == 0
}

func (s *Supervisor) bindListener(ip netip.Addr) (*server.ListenerPair, error) {
	transportLog := s.cfg.Log
	udpHandler := &server.QueryHandler{ListenerIP: ip, Transport: "udp", Resolver: s.handler, Log: transportLog, Metrics: s.cfg.Metrics}
	tcpHandler := &server.QueryHandler{ListenerIP: ip, Transport: "tcp", Resolver: s.handler, Log: transportLog, Metrics: s.cfg.Metrics}
	lp, err := server.BindPair(ip, s.cfg.Port, udpHandler, tcpHandler, transportLog)
	if err != nil {
		return nil, err
	}
	lp.Serve(transportLog)
	return lp, nil
}

// Reload re-parses the config directory and reconciles the listener set.
// Bind failures for newly-added listeners are logged and
// that network is simply absent until the next reload; they are not fatal.
func (s *Supervisor) Reload(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newSnap, err := backend.Load(s.cfg.ConfigDir, s.cfg.Log, s.cfg.Metrics)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}

	var added, removed int
	for ip := range newSnap.ListenerIPs {
		if _, ok := s.listeners[ip]; ok {
			continue // kept: no rebind, no dropped requests
		}
		lp, err := s.bindListener(ip)
		if err != nil {
			s.cfg.Log.Warn("failed to bind listener for reloaded network, leaving it absent until next reload",
				zap.String("ip", ip.String()), zap.Error(err))
			continue
		}
		s.listeners[ip] = lp
		added++
	}

	for ip, lp := range s.listeners {
		if _, ok := newSnap.ListenerIPs[ip]; ok {
			continue
		}
		lp.Shutdown(ctx)
		delete(s.listeners, ip)
		removed++
	}

	// Publish the new snapshot last, so any listener observing it only
	// does so once listener membership already matches.
	s.snapshot.Store(newSnap)

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.ReloadsTotal.Inc()
		s.cfg.Metrics.ListenersActive.Set(float64(len(s.listeners)))
	}
	s.cfg.Log.Info("reload complete", zap.Int("networks", len(newSnap.Networks)), zap.Int("listeners_added", added), zap.Int("listeners_removed", removed))
	return nil
}

// Shutdown drains and releases every listener.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ip, lp := range s.listeners {
		lp.Shutdown(ctx)
		delete(s.listeners, ip)
	}
}

// Package resolvconf reads /etc/resolv.conf and watches it for changes,
// producing the ordered list of system resolvers used as the forwarder's
// last-resort resolver list.
package resolvconf

import (
	"bufio"
	"context"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// MaxServers is the cap on retained nameserver entries.
const MaxServers = 3

// DefaultNdots is used when no ndots option is present.
const DefaultNdots = 1

// SystemResolvers is the parsed, ordered view of /etc/resolv.conf.
type SystemResolvers struct {
	Servers []string // string form, preserving any %scope suffix
	Ndots   int
}

// Watcher holds the current SystemResolvers behind an atomic pointer,
// swapped in place whenever the watched file changes.
type Watcher struct {
	path    string
	current atomic.Pointer[SystemResolvers]
	log     *zap.Logger
}

// NewWatcher parses path once synchronously and returns a Watcher ready to
// be started with Run.
func NewWatcher(path string, log *zap.Logger) (*Watcher, error) {
	w := &Watcher{path: path, log: log}
	sr, err := Parse(path)
	if err != nil {
		return nil, err
	}
	w.current.Store(sr)
	return w, nil
}

// Current returns the latest parsed resolv.conf snapshot.
func (w *Watcher) Current() *SystemResolvers {
	return w.current.Load()
}

// Run watches the parent directory of w.path for the events inotify would
// report for an atomic-replace editor (MODIFY, CREATE, MOVED_TO,
// DELETE_SELF, MOVE_SELF), re-parsing and swapping on each relevant event
// until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating resolv.conf watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
				!ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			sr, err := Parse(w.path)
			if err != nil {
				w.log.Warn("failed to re-parse resolv.conf after change", zap.Error(err))
				continue
			}
			w.current.Store(sr)
			w.log.Debug("resolv.conf reloaded", zap.Strings("servers", sr.Servers))
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("resolv.conf watcher error", zap.Error(err))
		}
	}
}

// Parse reads and parses the resolv.conf file at path, collecting up to
// MaxServers nameserver entries in order. Unknown option lines are ignored;
// only "ndots" is retained from the options line.
func Parse(path string) (*SystemResolvers, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sr := &SystemResolvers{Ndots: DefaultNdots}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "nameserver":
			if len(sr.Servers) >= MaxServers {
				continue
			}
			addr, ok := parseNameserver(fields[1])
			if !ok {
				continue
			}
			sr.Servers = append(sr.Servers, addr)
		case "options":
			for _, opt := range fields[1:] {
				if v, ok := strings.CutPrefix(opt, "ndots:"); ok {
					if n, err := strconv.Atoi(v); err == nil {
						sr.Ndots = n
					}
				}
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return sr, nil
}

// parseNameserver validates a nameserver field, recognizing IPv4, bracketed
// or unbracketed IPv6, and "IPv6%scope" forms. The scope identifier, if
// present, is preserved verbatim in the returned string since it must be
// used when binding outgoing sockets.
func parseNameserver(field string) (string, bool) {
	field = strings.Trim(field, "[]")
	if scope := strings.IndexByte(field, '%'); scope != -1 {
		base := field[:scope]
		if _, err := netip.ParseAddr(base); err != nil {
			return "", false
		}
		return field, true
	}
	if addr, err := netip.ParseAddr(field); err == nil {
		return addr.String(), true
	}
	return "", false
}

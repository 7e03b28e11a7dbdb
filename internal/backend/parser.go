package backend

import (
	"bufio"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/containers/aardvark-dns/internal/metrics"
)

// validNetworkName matches the filename-as-network-name invariant:
// "[A-Za-z0-9_.-]+", treated verbatim (no truncation).
var validNetworkName = regexp.MustCompile(`^[A-Za-z0-9_.-]+$`)

// Load reads every regular file in dir and builds a BackendSnapshot. A file
// that fails to parse is rejected and logged; the reload proceeds with
// whatever files did parse. An empty directory is valid and yields a
// snapshot with no networks.
func Load(dir string, log *zap.Logger, m *metrics.Metrics) (*BackendSnapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading config directory %s: %w", dir, err)
	}

	snap := &BackendSnapshot{
		Networks:    make(map[string]*NetworkConfig),
		forward:     make(map[forwardKey][]netip.Addr),
		reverse:     make(map[netip.Addr][]recordKey),
		membership:  make(map[string]map[string]bool),
		ListenerIPs: make(map[netip.Addr]string),
	}

	for _, de := range entries {
		if de.IsDir() || !validNetworkName.MatchString(de.Name()) {
			continue
		}
		path := filepath.Join(dir, de.Name())
		info, err := de.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		net, err := parseNetworkFile(de.Name(), path)
		if err != nil {
			log.Warn("rejecting unparsable network config", zap.String("network", de.Name()), zap.Error(err))
			if m != nil {
				m.ReloadRejectedFile.Inc()
			}
			continue
		}
		conflict := false
		for _, ip := range net.BindIPs {
			if owner, taken := snap.ListenerIPs[ip]; taken && owner != net.Name {
				log.Warn("listener IP already bound by another network, dropping this network",
					zap.String("ip", ip.String()), zap.String("existing_network", owner), zap.String("dropped_network", net.Name))
				conflict = true
				break
			}
		}
		if conflict {
			continue
		}
		snap.Networks[net.Name] = net
		for _, ip := range net.BindIPs {
			snap.ListenerIPs[ip] = net.Name
		}
		indexNetwork(snap, net)
	}

	return snap, nil
}

func indexNetwork(snap *BackendSnapshot, net *NetworkConfig) {
	for i := range net.Entries {
		entry := &net.Entries[i]
		if snap.membership[entry.ID] == nil {
			snap.membership[entry.ID] = make(map[string]bool)
		}
		snap.membership[entry.ID][net.Name] = true

		for _, name := range entry.Names {
			fk := forwardKey{Network: net.Name, Name: name}
			snap.forward[fk] = append(snap.forward[fk], allIPs(entry)...)
		}

		for _, ip := range allIPs(entry) {
			snap.reverse[ip] = append(snap.reverse[ip], recordKey{Network: net.Name, Entry: entry})
		}
	}
}

func allIPs(e *ContainerEntry) []netip.Addr {
	out := make([]netip.Addr, 0, len(e.V4)+len(e.V6))
	out = append(out, e.V4...)
	out = append(out, e.V6...)
	return out
}

// parseNetworkFile parses one config file. filename is the network name.
func parseNetworkFile(name, path string) (*NetworkConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var lines []string
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	// trailing blank lines are ignored
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: empty file", path)
	}

	net := &NetworkConfig{Name: name}

	fields := strings.Fields(lines[0])
	if len(fields) == 0 {
		return nil, fmt.Errorf("%s: empty bind IP list on line 1", path)
	}
	bindIPs, err := parseIPList(fields[0])
	if err != nil {
		return nil, fmt.Errorf("%s: bad bind IP list: %w", path, err)
	}
	if len(bindIPs) == 0 {
		return nil, fmt.Errorf("%s: at least one bind IP is required", path)
	}
	if err := requireUnique(bindIPs); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	net.BindIPs = bindIPs

	if len(fields) >= 2 && fields[1] != `""` {
		nsIPs, err := parseIPList(fields[1])
		if err != nil {
			return nil, fmt.Errorf("%s: bad network DNS server list: %w", path, err)
		}
		net.DNSServers = nsIPs
	}
	if len(fields) >= 3 {
		net.Internal = strings.EqualFold(fields[2], "true")
	}

	for _, line := range lines[1:] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := parseEntryLine(line)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		net.Entries = append(net.Entries, *entry)
	}

	return net, nil
}

func requireUnique(ips []netip.Addr) error {
	seen := make(map[netip.Addr]bool, len(ips))
	for _, ip := range ips {
		if seen[ip] {
			return fmt.Errorf("duplicate bind IP %s", ip)
		}
		seen[ip] = true
	}
	return nil
}

// parseEntryLine parses `CID WS V4_LIST WS V6_LIST WS NAME_LIST [WS NS_LIST]`.
func parseEntryLine(line string) (*ContainerEntry, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return nil, fmt.Errorf("unparsable entry line %q", line)
	}

	entry := &ContainerEntry{ID: fields[0]}

	v4, err := parseIPList(fields[1])
	if err != nil {
		return nil, fmt.Errorf("entry %s: bad v4 list: %w", entry.ID, err)
	}
	for _, ip := range v4 {
		if !ip.Is4() {
			return nil, fmt.Errorf("entry %s: %s is not an IPv4 address", entry.ID, ip)
		}
	}
	entry.V4 = v4

	v6, err := parseIPList(fields[2])
	if err != nil {
		return nil, fmt.Errorf("entry %s: bad v6 list: %w", entry.ID, err)
	}
	for _, ip := range v6 {
		if !ip.Is6() {
			return nil, fmt.Errorf("entry %s: %s is not an IPv6 address", entry.ID, ip)
		}
	}
	entry.V6 = v6

	if len(entry.V4) == 0 && len(entry.V6) == 0 {
		return nil, fmt.Errorf("entry %s: at least one of v4/v6 must be non-empty", entry.ID)
	}

	entry.Names = dedupLower(strings.Split(fields[3], ","))
	if len(entry.Names) == 0 {
		return nil, fmt.Errorf("entry %s: at least one name is required", entry.ID)
	}

	if len(fields) >= 5 && fields[4] != `""` {
		ns, err := parseIPList(fields[4])
		if err != nil {
			return nil, fmt.Errorf("entry %s: bad DNS server list: %w", entry.ID, err)
		}
		entry.DNSServers = ns
	}

	return entry, nil
}

// dedupLower lower-cases every name and collapses duplicates, preserving
// first occurrence.
func dedupLower(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// parseIPList parses a comma-separated IP list; `""` denotes an explicitly
// empty list.
func parseIPList(s string) ([]netip.Addr, error) {
	if s == `""` || s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]netip.Addr, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		ip, err := netip.ParseAddr(p)
		if err != nil {
			return nil, fmt.Errorf("invalid IP %q: %w", p, err)
		}
		out = append(out, ip)
	}
	return out, nil
}

package backend

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/containers/aardvark-dns/internal/metrics"
)

func writeNetworkFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadSingleContainer(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc123 10.89.0.2 \"\" aone,a1alias\n")

	snap, err := Load(dir, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Networks) != 1 {
		t.Fatalf("expected 1 network, got %d", len(snap.Networks))
	}
	net := snap.Networks["podman1"]
	if len(net.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(net.Entries))
	}
	if net.Entries[0].Names[0] != "aone" {
		t.Fatalf("primary name = %q, want aone", net.Entries[0].Names[0])
	}

	vis := map[string]bool{"podman1": true}
	ips := snap.LookupForward(vis, "aone")
	if len(ips) != 1 || ips[0].String() != "10.89.0.2" {
		t.Fatalf("LookupForward(aone) = %v", ips)
	}

	names := snap.LookupReverse(vis, netip.MustParseAddr("10.89.0.2"))
	if len(names) != 2 || names[0].Name != "aone" || names[1].Name != "a1alias" {
		t.Fatalf("LookupReverse = %v", names)
	}
}

func TestLoadRejectsMalformedFileButKeepsOthers(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "good", "10.89.0.1\n"+
		"abc 10.89.0.2 \"\" aone\n")
	writeNetworkFile(t, dir, "bad", "not-an-ip\n"+
		"abc 10.89.0.2 \"\" aone\n")

	m := metrics.New(prometheus.NewRegistry())
	snap, err := Load(dir, zap.NewNop(), m)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Networks) != 1 {
		t.Fatalf("expected only the good network to survive, got %d", len(snap.Networks))
	}
	if _, ok := snap.Networks["good"]; !ok {
		t.Fatalf("expected 'good' network present")
	}
	if got := testutil.ToFloat64(m.ReloadRejectedFile); got != 1 {
		t.Fatalf("ReloadRejectedFile = %v, want 1", got)
	}
}

func TestLoadDropsConflictingListenerIP(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "net-a", "10.89.0.1\n"+
		"a 10.89.0.2 \"\" aone\n")
	writeNetworkFile(t, dir, "net-b", "10.89.0.1\n"+
		"b 10.89.0.3 \"\" btwo\n")

	snap, err := Load(dir, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Networks) != 1 {
		t.Fatalf("expected exactly one network to win the conflicting bind IP, got %d", len(snap.Networks))
	}
}

func TestStripSearchDomain(t *testing.T) {
	cases := []struct {
		in, want string
		bare     bool
	}{
		{"aone.dns.podman.", "aone", false},
		{"aone.dns.podman", "aone", false},
		{"dns.podman.", "", true},
		{"dns.podman", "", true},
		{"example.com.", "example.com", false},
	}
	for _, c := range cases {
		got, bare := StripSearchDomain(c.in)
		if got != c.want || bare != c.bare {
			t.Errorf("StripSearchDomain(%q) = (%q, %v), want (%q, %v)", c.in, got, bare, c.want, c.bare)
		}
	}
}

func TestNetworksOf(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc 10.89.0.2 \"\" aone\n")
	snap, err := Load(dir, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	nets := snap.NetworksOf("abc")
	if !nets["podman1"] {
		t.Fatalf("expected abc to be a member of podman1, got %v", nets)
	}
}

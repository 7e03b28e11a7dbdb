package resolver

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/containers/aardvark-dns/internal/backend"
	"github.com/containers/aardvark-dns/internal/forward"
	"github.com/containers/aardvark-dns/internal/resolvconf"
)

func writeNetworkFile(t *testing.T, dir, name, contents string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(contents), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func newTestHandler(t *testing.T, dir string, system []string) *Handler {
	t.Helper()
	snap, err := backend.Load(dir, zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("backend.Load: %v", err)
	}
	return &Handler{
		Snapshot:  func() *backend.BackendSnapshot { return snap },
		Resolvers: func() *resolvconf.SystemResolvers { return &resolvconf.SystemResolvers{Servers: system, Ndots: 1} },
		Forwarder: forward.New(zap.NewNop()),
		Log:       zap.NewNop(),
	}
}

func question(name string, qtype uint16) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qtype)
	m.RecursionDesired = true
	return m
}

func TestHandleAuthoritativeAAnswerHasZeroTTLAndMirrorsRD(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc 10.89.0.2 \"\" aone\n")
	h := newTestHandler(t, dir, nil)

	req := question("aone.dns.podman.", dns.TypeA)
	resp := h.Handle(context.Background(), req, netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("10.89.0.99"), "udp")

	if !resp.Authoritative {
		t.Fatalf("expected AA set")
	}
	if resp.RecursionAvailable != req.RecursionDesired {
		t.Fatalf("expected RA to mirror RD")
	}
	if len(resp.Answer) != 1 {
		t.Fatalf("expected 1 answer, got %d", len(resp.Answer))
	}
	a, ok := resp.Answer[0].(*dns.A)
	if !ok {
		t.Fatalf("expected an A record, got %T", resp.Answer[0])
	}
	if a.Hdr.Ttl != 0 {
		t.Fatalf("expected TTL=0 for an authoritative answer, got %d", a.Hdr.Ttl)
	}
	if a.A.String() != "10.89.0.2" {
		t.Fatalf("unexpected address %v", a.A)
	}
}

func TestHandleANYReturnsBothAddressFamiliesNoMixingOtherwise(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc 10.89.0.2 fd00::2 dual\n")
	h := newTestHandler(t, dir, nil)

	resp := h.Handle(context.Background(), question("dual.dns.podman.", dns.TypeANY),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("10.89.0.2"), "udp")
	var haveA, haveAAAA bool
	for _, rr := range resp.Answer {
		switch rr.(type) {
		case *dns.A:
			haveA = true
		case *dns.AAAA:
			haveAAAA = true
		}
	}
	if !haveA || !haveAAAA {
		t.Fatalf("ANY query should return both A and AAAA, got %v", resp.Answer)
	}

	respA := h.Handle(context.Background(), question("dual.dns.podman.", dns.TypeA),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("10.89.0.2"), "udp")
	for _, rr := range respA.Answer {
		if _, ok := rr.(*dns.AAAA); ok {
			t.Fatalf("A query must not include AAAA records")
		}
	}
}

func TestHandlePTRReturnsPrimaryNameFirst(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc 10.89.0.2 \"\" aone,a1alias\n")
	h := newTestHandler(t, dir, nil)

	resp := h.Handle(context.Background(), question("2.0.89.10.in-addr.arpa.", dns.TypePTR),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("10.89.0.2"), "udp")
	if len(resp.Answer) != 2 {
		t.Fatalf("expected 2 PTR records, got %d", len(resp.Answer))
	}
	first, ok := resp.Answer[0].(*dns.PTR)
	if !ok || first.Ptr != "aone." {
		t.Fatalf("expected primary name first, got %v", resp.Answer[0])
	}
}

func TestHandleVisibilityRuleScopesUnknownSourceToSingleNetwork(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc 10.89.0.2 \"\" aone\n")
	writeNetworkFile(t, dir, "podman2", "10.89.1.1\n"+
		"xyz 10.89.1.2 \"\" btwo\n")
	h := newTestHandler(t, dir, nil)

	// A request arriving on podman1's listener from an address that owns
	// no container anywhere must only see podman1's names.
	resp := h.Handle(context.Background(), question("aone.dns.podman.", dns.TypeA),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("203.0.113.5"), "udp")
	if len(resp.Answer) != 1 {
		t.Fatalf("expected the scope network's own name to resolve, got %v", resp.Answer)
	}

	miss := h.Handle(context.Background(), question("btwo.dns.podman.", dns.TypeA),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("203.0.113.5"), "udp")
	if len(miss.Answer) != 0 {
		t.Fatalf("expected podman2's name to be invisible from podman1's scope, got %v", miss.Answer)
	}
}

func TestHandleInternalNetworkNeverForwards(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1 \"\" true\n"+
		"abc 10.89.0.2 \"\" aone\n")
	h := newTestHandler(t, dir, []string{"127.0.0.1"})

	resp := h.Handle(context.Background(), question("unknown.example.com.", dns.TypeA),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("10.89.0.2"), "udp")
	if resp.Rcode != dns.RcodeNameError {
		t.Fatalf("expected NXDOMAIN on an internal network miss, got rcode %d", resp.Rcode)
	}
}

func TestHandleBareSearchSuffixIsNXDOMAIN(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc 10.89.0.2 \"\" aone\n")
	h := newTestHandler(t, dir, nil)

	resp := h.Handle(context.Background(), question("dns.podman.", dns.TypeA),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("10.89.0.2"), "udp")
	if resp.Rcode != dns.RcodeNameError {
		t.Fatalf("expected NXDOMAIN for the bare search suffix, got rcode %d", resp.Rcode)
	}
}

func TestHandleShortNameNeverForwards(t *testing.T) {
	dir := t.TempDir()
	writeNetworkFile(t, dir, "podman1", "10.89.0.1\n"+
		"abc 10.89.0.2 \"\" aone\n")
	h := newTestHandler(t, dir, []string{"127.0.0.1"})

	resp := h.Handle(context.Background(), question("short.", dns.TypeA),
		netip.MustParseAddr("10.89.0.1"), netip.MustParseAddr("10.89.0.2"), "udp")
	if resp.Rcode != dns.RcodeNameError {
		t.Fatalf("expected NXDOMAIN for a single-label short name, got rcode %d", resp.Rcode)
	}
}

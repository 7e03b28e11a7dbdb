// Package resolver implements the per-query decision: parse, identify the
// scope network, decide authoritative vs forward, and assemble the reply.
package resolver

import (
	"context"
	"net/netip"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/containers/aardvark-dns/internal/backend"
	"github.com/containers/aardvark-dns/internal/dnsmsg"
	"github.com/containers/aardvark-dns/internal/forward"
	"github.com/containers/aardvark-dns/internal/metrics"
	"github.com/containers/aardvark-dns/internal/resolvconf"
)

// SnapshotFunc returns the currently published backend snapshot.
type SnapshotFunc func() *backend.BackendSnapshot

// ResolversFunc returns the currently published system resolvers.
type ResolversFunc func() *resolvconf.SystemResolvers

// Handler answers one DNS query at a time; it holds no per-query state, so
// a single Handler is shared across every listener.
type Handler struct {
	Snapshot  SnapshotFunc
	Resolvers ResolversFunc
	Forwarder *forward.Forwarder
	Log       *zap.Logger
	Metrics   *metrics.Metrics
}

// Handle answers req, received on listenerIP over transport ("udp" or
// "tcp") from sourceIP. It never returns nil: malformed-request handling
// (drop on UDP, close on TCP) is the caller's responsibility based on
// whether Handle was even reached (a message that fails to unpack never
// gets this far).
func (h *Handler) Handle(ctx context.Context, req *dns.Msg, listenerIP, sourceIP netip.Addr, transport string) *dns.Msg {
	if req.Opcode != dns.OpcodeQuery {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeNotImplemented)
		return m
	}
	if len(req.Question) != 1 {
		m := new(dns.Msg)
		m.SetRcode(req, dns.RcodeFormatError)
		return m
	}

	snap := h.Snapshot()
	q := req.Question[0]

	scopeNetwork, ok := snap.ListenerIPs[listenerIP]
	if !ok {
		// A listener bound during a reload can receive a query before
		// the snapshot naming its IP is published. Answer SERVFAIL
		// rather than panicking mid-query.
		return dnsmsg.Negative(req, dns.RcodeServerFailure)
	}
	netCfg := snap.Networks[scopeNetwork]

	requesterEntry, visible := visibleNetworks(snap, scopeNetwork, sourceIP)

	switch q.Qtype {
	case dns.TypeA, dns.TypeAAAA, dns.TypeANY:
		return h.handleForwardLookup(ctx, snap, req, netCfg, requesterEntry, visible, transport)
	case dns.TypePTR:
		return h.handlePTR(snap, req, netCfg, visible)
	default:
		// Any other qtype goes through the same lookup: a known name gets
		// an authoritative empty answer, any other name follows the
		// negative/forward rules.
		return h.handleForwardLookup(ctx, snap, req, netCfg, requesterEntry, visible, transport)
	}
}

// visibleNetworks implements the requester-identification rule: if
// sourceIP belongs to a known container, the requester's full network
// membership is visible; otherwise only the scope network is.
func visibleNetworks(snap *backend.BackendSnapshot, scopeNetwork string, sourceIP netip.Addr) (*backend.ContainerEntry, map[string]bool) {
	if entry, _, ok := snap.ContainerOwningIP(sourceIP); ok {
		return entry, snap.NetworksOf(entry.ID)
	}
	return nil, map[string]bool{scopeNetwork: true}
}

func (h *Handler) handlePTR(snap *backend.BackendSnapshot, req *dns.Msg, netCfg *backend.NetworkConfig, visible map[string]bool) *dns.Msg {
	q := req.Question[0]

	ip, ok := decodeReverseName(q.Name)
	if !ok {
		return dnsmsg.Negative(req, dns.RcodeFormatError)
	}

	names := snap.LookupReverse(visible, ip)
	if len(names) == 0 {
		h.countMiss()
		return dnsmsg.Negative(req, dns.RcodeNameError)
	}
	h.countHit()

	m := dnsmsg.NewReply(req)
	ptrNames := make([]string, len(names))
	for i, n := range names {
		ptrNames[i] = n.Name
	}
	dnsmsg.PTRAnswers(m, q.Name, ptrNames)
	return m
}

func (h *Handler) handleForwardLookup(ctx context.Context, snap *backend.BackendSnapshot, req *dns.Msg, netCfg *backend.NetworkConfig, requester *backend.ContainerEntry, visible map[string]bool, transport string) *dns.Msg {
	q := req.Question[0]

	stripped, bareSuffix := backend.StripSearchDomain(q.Name)

	if !bareSuffix {
		ips := snap.LookupForward(visible, stripped)
		if len(ips) > 0 {
			h.countHit()
			m := dnsmsg.NewReply(req)
			switch q.Qtype {
			case dns.TypeA:
				dnsmsg.AAnswers(m, q.Name, ips)
			case dns.TypeAAAA:
				dnsmsg.AAAAAnswers(m, q.Name, ips)
			case dns.TypeANY:
				dnsmsg.AAnswers(m, q.Name, ips)
				dnsmsg.AAAAAnswers(m, q.Name, ips)
			default:
				// non-address qtype with a name match but no
				// representable record: authoritative empty answer.
			}
			return m
		}
	}

	// Authoritative negative cases: the bare search suffix, a
	// single-label short name, or an internal network never forward.
	if bareSuffix || !hasDot(stripped) || (netCfg != nil && netCfg.Internal) {
		h.countMiss()
		return dnsmsg.Negative(req, dns.RcodeNameError)
	}

	h.countMiss()
	return h.forward(ctx, req, netCfg, requester, transport)
}

func (h *Handler) countHit() {
	if h.Metrics != nil {
		h.Metrics.AuthoritativeHits.Inc()
	}
}

func (h *Handler) countMiss() {
	if h.Metrics != nil {
		h.Metrics.AuthoritativeMiss.Inc()
	}
}

func hasDot(name string) bool {
	for _, r := range name {
		if r == '.' {
			return true
		}
	}
	return false
}

func (h *Handler) forward(ctx context.Context, req *dns.Msg, netCfg *backend.NetworkConfig, requester *backend.ContainerEntry, transport string) *dns.Msg {
	var containerServers []netip.Addr
	if requester != nil {
		containerServers = requester.DNSServers
	}
	var networkServers []netip.Addr
	if netCfg != nil {
		networkServers = netCfg.DNSServers
	}
	system := h.Resolvers().Servers

	resolvers := forward.SelectResolvers(containerServers, networkServers, system)
	if len(resolvers) == 0 {
		return dnsmsg.ServFail(req)
	}

	clientID := req.Id
	resp, err := h.Forwarder.Query(ctx, req, resolvers, transport)
	if err != nil {
		h.Log.Debug("forward failed on every resolver", zap.Error(err))
		if h.Metrics != nil {
			h.Metrics.ForwardFailures.Inc()
		}
		return dnsmsg.ServFail(req)
	}
	dnsmsg.RewriteForwarded(resp, clientID)
	return resp
}

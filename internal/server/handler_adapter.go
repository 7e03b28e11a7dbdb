package server

import (
	"context"
	"net"
	"net/netip"

	"github.com/miekg/dns"
	"go.uber.org/zap"

	"github.com/containers/aardvark-dns/internal/metrics"
	"github.com/containers/aardvark-dns/internal/resolver"
)

// QueryHandler adapts resolver.Handler to miekg/dns's dns.Handler interface
// for one bound listener IP and transport. A malformed request never reaches
// ServeDNS: the library's own Unpack drops it before calling the handler
// (UDP) or closes the connection (TCP).
type QueryHandler struct {
	ListenerIP netip.Addr
	Transport  string
	Resolver   *resolver.Handler
	Log        *zap.Logger
	Metrics    *metrics.Metrics
}

var _ dns.Handler = (*QueryHandler)(nil)

// ServeDNS implements dns.Handler.
func (q *QueryHandler) ServeDNS(w dns.ResponseWriter, r *dns.Msg) {
	sourceIP := hostAddr(w.RemoteAddr())

	if q.Metrics != nil && len(r.Question) == 1 {
		q.Metrics.QueriesTotal.WithLabelValues(q.Transport, dns.TypeToString[r.Question[0].Qtype]).Inc()
	}

	resp := q.Resolver.Handle(context.Background(), r, q.ListenerIP, sourceIP, q.Transport)
	if err := w.WriteMsg(resp); err != nil {
		q.Log.Debug("failed to write response", zap.Error(err))
	}
}

// hostAddr extracts the IP portion of a net.Addr as a netip.Addr, ignoring
// the source port: the requester is identified by address alone.
func hostAddr(addr net.Addr) netip.Addr {
	var ipStr string
	switch a := addr.(type) {
	case *net.UDPAddr:
		ipStr = a.IP.String()
	case *net.TCPAddr:
		ipStr = a.IP.String()
	default:
		host, _, err := net.SplitHostPort(addr.String())
		if err != nil {
			return netip.Addr{}
		}
		ipStr = host
	}
	ip, err := netip.ParseAddr(ipStr)
	if err != nil {
		return netip.Addr{}
	}
	return ip.Unmap()
}

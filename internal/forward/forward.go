// Package forward implements the stub-resolver forwarding path: resolver
// selection, per-resolver timeout and fallback, and transport-matched
// upstream queries.
package forward

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// PerResolverTimeout is the budget given to each candidate resolver before
// moving on to the next.
const PerResolverTimeout = 2500 * time.Millisecond

// MaxResolvers is the cap on the resolver list tried per query.
const MaxResolvers = 3

// SelectResolvers picks the resolver list to use for a query: the first
// non-empty of container-scoped, network-scoped, or system resolvers,
// truncated to MaxResolvers.
func SelectResolvers(containerServers, networkServers []netip.Addr, system []string) []string {
	switch {
	case len(containerServers) > 0:
		return truncate(addrsToStrings(containerServers))
	case len(networkServers) > 0:
		return truncate(addrsToStrings(networkServers))
	default:
		return truncate(append([]string(nil), system...))
	}
}

func truncate(s []string) []string {
	if len(s) > MaxResolvers {
		return s[:MaxResolvers]
	}
	return s
}

func addrsToStrings(addrs []netip.Addr) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.String()
	}
	return out
}

// Forwarder issues an upstream query over a matching transport, trying each
// resolver in order until one answers or the list is exhausted.
type Forwarder struct {
	log *zap.Logger
}

// New returns a Forwarder that logs forward failures at debug level.
func New(log *zap.Logger) *Forwarder {
	return &Forwarder{log: log}
}

// Query forwards req to the given resolvers over the given transport
// ("udp" or "tcp", matching the inbound transport), returning the first
// successful response. If every resolver fails, the caller is expected to
// build a SERVFAIL.
func (fw *Forwarder) Query(ctx context.Context, req *dns.Msg, resolvers []string, transport string) (*dns.Msg, error) {
	if len(resolvers) == 0 {
		return nil, fmt.Errorf("no resolvers available")
	}

	client := &dns.Client{
		Net:     transport,
		Timeout: PerResolverTimeout,
		UDPSize: 4096,
	}

	var lastErr error
	for _, resolver := range resolvers {
		addr := withPort(resolver)
		resp, _, err := client.ExchangeContext(ctx, req, addr)
		if err != nil {
			fw.log.Debug("forward attempt failed", zap.String("resolver", addr), zap.String("transport", transport), zap.Error(err))
			lastErr = err
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("all resolvers failed, last error: %w", lastErr)
}

// withPort appends the default DNS port to a bare resolver address, taking
// care to preserve IPv6 zone identifiers and bracket the literal for
// dialing. An address that already carries a port (e.g. a resolver string
// sourced from a test fixture or future config field) is left untouched.
func withPort(resolver string) string {
	if _, _, err := net.SplitHostPort(resolver); err == nil {
		return resolver
	}
	host, zone, _ := splitZone(resolver)
	if zone != "" {
		return net.JoinHostPort(host+"%"+zone, "53")
	}
	return net.JoinHostPort(host, "53")
}

func splitZone(resolver string) (host, zone string, err error) {
	addr, parseErr := netip.ParseAddr(resolver)
	if parseErr == nil {
		return addr.WithZone("").String(), addr.Zone(), nil
	}
	return resolver, "", parseErr
}

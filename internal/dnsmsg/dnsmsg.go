// Package dnsmsg centralizes the RCODE/flag/TTL conventions around
// github.com/miekg/dns, so every response built by the resolver follows
// the same rules.
package dnsmsg

import (
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

// AuthoritativeTTL is fixed at 0 for every record this daemon answers for
// authoritatively.
const AuthoritativeTTL = 0

// NewReply creates the response skeleton for req: AA set, RA mirrors the
// request's RD bit.
func NewReply(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetReply(req)
	m.Authoritative = true
	m.RecursionAvailable = req.RecursionDesired
	m.Compress = true
	return m
}

// Negative builds an authoritative negative response with the given rcode.
func Negative(req *dns.Msg, rcode int) *dns.Msg {
	m := NewReply(req)
	m.Rcode = rcode
	return m
}

// AAnswers appends one A record per IPv4 address in ips to m's answer
// section; other addresses are skipped.
func AAnswers(m *dns.Msg, name string, ips []netip.Addr) {
	for _, ip := range ips {
		if !ip.Is4() {
			continue
		}
		m.Answer = append(m.Answer, &dns.A{
			Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: AuthoritativeTTL},
			A:   net.IP(ip.AsSlice()),
		})
	}
}

// AAAAAnswers appends one AAAA record per IPv6 address in ips to m's answer
// section; IPv4 and IPv4-mapped addresses are skipped.
func AAAAAnswers(m *dns.Msg, name string, ips []netip.Addr) {
	for _, ip := range ips {
		if !ip.Is6() || ip.Is4In6() {
			continue
		}
		m.Answer = append(m.Answer, &dns.AAAA{
			Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: AuthoritativeTTL},
			AAAA: net.IP(ip.AsSlice()),
		})
	}
}

// PTRAnswers appends one PTR record per name to m's answer section, in the
// order given (primary name first).
func PTRAnswers(m *dns.Msg, qname string, names []string) {
	for _, n := range names {
		m.Answer = append(m.Answer, &dns.PTR{
			Hdr: dns.RR_Header{Name: qname, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: AuthoritativeTTL},
			Ptr: dns.Fqdn(n),
		})
	}
}

// RewriteForwarded adjusts an upstream response for relay to the original
// client: ID matches the client's request, QR is forced to 1, other flags
// are preserved verbatim.
func RewriteForwarded(resp *dns.Msg, clientID uint16) {
	resp.Id = clientID
	resp.Response = true
}

// ServFail builds a bare SERVFAIL reply, used when every forward resolver
// fails.
func ServFail(req *dns.Msg) *dns.Msg {
	m := new(dns.Msg)
	m.SetRcode(req, dns.RcodeServerFailure)
	m.RecursionAvailable = req.RecursionDesired
	return m
}

package backend

import (
	"net/netip"
	"strings"
)

// StripSearchDomain strips the trailing ".dns.podman" (case-insensitive)
// from qname, if present, returning the stripped name and whether the
// original name was exactly the bare suffix.
func StripSearchDomain(qname string) (stripped string, bareSuffix bool) {
	name := strings.TrimSuffix(strings.ToLower(qname), ".")
	suffix := "." + SearchDomain
	if strings.EqualFold(name, SearchDomain) {
		return "", true
	}
	if strings.HasSuffix(strings.ToLower(name), suffix) {
		return name[:len(name)-len(suffix)], false
	}
	return name, false
}

// LookupForward resolves qname in every network of visibleNetworks and
// returns the union of the IPs found. qname is matched case-insensitively and must already
// have had the search domain stripped by the caller.
func (s *BackendSnapshot) LookupForward(visibleNetworks map[string]bool, qname string) []netip.Addr {
	name := strings.ToLower(qname)
	var out []netip.Addr
	for network := range visibleNetworks {
		fk := forwardKey{Network: network, Name: name}
		out = append(out, s.forward[fk]...)
	}
	return out
}

// PTRName is one reverse-lookup result: a name owned by ip, and the network
// it was found on.
type PTRName struct {
	Name    string
	Network string
}

// LookupReverse returns every name owned by ip across the visible networks,
// primary name first per container, aliases following, in entry order.
func (s *BackendSnapshot) LookupReverse(visibleNetworks map[string]bool, ip netip.Addr) []PTRName {
	var out []PTRName
	for _, k := range s.reverse[ip] {
		if !visibleNetworks[k.Network] {
			continue
		}
		for _, name := range k.Entry.Names {
			out = append(out, PTRName{Name: name, Network: k.Network})
		}
	}
	return out
}

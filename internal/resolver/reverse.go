package resolver

import (
	"net/netip"
	"strconv"
	"strings"
)

// decodeReverseName turns a PTR qname ending in ".in-addr.arpa." or
// ".ip6.arpa." back into the IP it encodes.
func decodeReverseName(qname string) (netip.Addr, bool) {
	name := strings.TrimSuffix(strings.ToLower(qname), ".")
	switch {
	case strings.HasSuffix(name, ".in-addr.arpa"):
		return decodeV4Reverse(strings.TrimSuffix(name, ".in-addr.arpa"))
	case strings.HasSuffix(name, ".ip6.arpa"):
		return decodeV6Reverse(strings.TrimSuffix(name, ".ip6.arpa"))
	default:
		return netip.Addr{}, false
	}
}

func decodeV4Reverse(labels string) (netip.Addr, bool) {
	parts := strings.Split(labels, ".")
	if len(parts) != 4 {
		return netip.Addr{}, false
	}
	var b [4]byte
	for i := 0; i < 4; i++ {
		v, err := strconv.Atoi(parts[len(parts)-1-i])
		if err != nil || v < 0 || v > 255 {
			return netip.Addr{}, false
		}
		b[i] = byte(v)
	}
	return netip.AddrFrom4(b), true
}

func decodeV6Reverse(labels string) (netip.Addr, bool) {
	parts := strings.Split(labels, ".")
	if len(parts) != 32 {
		return netip.Addr{}, false
	}
	var b [16]byte
	for i := 0; i < 32; i++ {
		nibble := parts[len(parts)-1-i]
		if len(nibble) != 1 {
			return netip.Addr{}, false
		}
		v, err := strconv.ParseUint(nibble, 16, 8)
		if err != nil {
			return netip.Addr{}, false
		}
		if i%2 == 0 {
			b[i/2] |= byte(v) << 4
		} else {
			b[i/2] |= byte(v)
		}
	}
	return netip.AddrFrom16(b), true
}

// Package backend holds the in-memory authoritative database built from a
// network launcher's config directory: one file per network, one entry per
// attached container.
package backend

import "net/netip"

// SearchDomain is the constant suffix stripped before an authoritative
// forward lookup. A query for exactly this suffix never matches a record.
const SearchDomain = "dns.podman"

// ContainerEntry describes one container attached to a network.
type ContainerEntry struct {
	ID   string
	V4   []netip.Addr
	V6   []netip.Addr
	// Names holds the lower-cased, de-duplicated (first occurrence wins)
	// list of names assigned to the container on this network. Names[0]
	// is the primary name preferred for PTR answers; the rest are aliases.
	Names []string
	// DNSServers are the container-scoped upstream resolvers, if any.
	DNSServers []netip.Addr
}

// NetworkConfig is one parsed config file; the filename is the network name.
type NetworkConfig struct {
	Name string
	// BindIPs are the IPs the daemon listens on for this network, in
	// file order. At least one, each unique within the file.
	BindIPs []netip.Addr
	// DNSServers are the network-scoped upstream resolvers, if any.
	DNSServers []netip.Addr
	// Internal networks are authoritative-only: a miss is always
	// NXDOMAIN, never forwarded.
	Internal bool
	Entries  []ContainerEntry
}

// recordKey identifies one (network, container) pair in the reverse index.
type recordKey struct {
	Network string
	Entry   *ContainerEntry
}

// BackendSnapshot is the immutable, atomically-swapped view of every
// configured network at one reload generation. Build it once with Load;
// never mutate it afterwards.
type BackendSnapshot struct {
	Networks map[string]*NetworkConfig

	// forward maps (network, lower-cased name) to the IPs it owns.
	forward map[forwardKey][]netip.Addr
	// reverse maps an IP to every (network, container) that owns it.
	reverse map[netip.Addr][]recordKey
	// membership maps a container ID to the set of networks it is
	// attached to.
	membership map[string]map[string]bool

	// ListenerIPs is the union of every network's bind IPs. After a
	// reload, listeners must match this set exactly.
	ListenerIPs map[netip.Addr]string // IP -> owning network name
}

type forwardKey struct {
	Network string
	Name    string
}

// NetworksOf returns the set of networks a container is attached to.
func (s *BackendSnapshot) NetworksOf(containerID string) map[string]bool {
	return s.membership[containerID]
}

// ContainerOwningIP returns the network name of the container, if any, that
// owns ip — used to identify a requester from its source address.
func (s *BackendSnapshot) ContainerOwningIP(ip netip.Addr) (*ContainerEntry, string, bool) {
	keys := s.reverse[ip]
	if len(keys) == 0 {
		return nil, "", false
	}
	return keys[0].Entry, keys[0].Network, true
}

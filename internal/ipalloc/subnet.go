package ipalloc

import (
	"fmt"
	"net/netip"
)

// SubnetAddrs expands a 3-octet prefix like "10.9.0" into every host address
// of the prefix.0/mask network, in ascending order. The network address
// itself is included; callers filter reserved addresses separately.
func SubnetAddrs(prefix string, mask int) ([]string, error) {
	network, err := netip.ParsePrefix(fmt.Sprintf("%s.0/%d", prefix, mask))
	if err != nil {
		return nil, fmt.Errorf("parse subnet %s.0/%d: %w", prefix, mask, err)
	}

	var addrs []string
	for addr := network.Addr(); network.Contains(addr); addr = addr.Next() {
		addrs = append(addrs, addr.String())
	}
	return addrs, nil
}

// Reserved returns the three addresses of the prefix that are never handed
// to peers: the network address, the server address and the broadcast
// address.
func Reserved(prefix string) []string {
	return []string{prefix + ".0", prefix + ".1", prefix + ".255"}
}

// FreeAddrs derives the initial pool contents: every address of the subnet
// that is neither reserved nor already owned by a peer.
func FreeAddrs(prefix string, mask int, used []string) ([]string, error) {
	all, err := SubnetAddrs(prefix, mask)
	if err != nil {
		return nil, err
	}

	taken := make(map[string]struct{}, len(used)+3)
	for _, ip := range used {
		taken[ip] = struct{}{}
	}
	for _, ip := range Reserved(prefix) {
		taken[ip] = struct{}{}
	}

	free := make([]string, 0, len(all))
	for _, ip := range all {
		if _, ok := taken[ip]; !ok {
			free = append(free, ip)
		}
	}
	return free, nil
}

// ValidIP reports whether s parses as an IP address.
func ValidIP(s string) bool {
	_, err := netip.ParseAddr(s)
	return err == nil
}

package server

import (
	"net/netip"
)

var localPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("fc00::/7"),
}

// IsLocalAddr reports whether addr is loopback or in a private or link-local
// range. IPv4-mapped IPv6 addresses are checked as IPv4.
func IsLocalAddr(addr netip.Addr) bool {
	addr = addr.Unmap().WithZone("")
	if !addr.IsValid() {
		return false
	}
	if addr.IsLoopback() {
		return true
	}
	for _, p := range localPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// IsLocalPeer parses a peer IP string as returned by gin's RemoteIP.
func IsLocalPeer(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	return IsLocalAddr(addr)
}

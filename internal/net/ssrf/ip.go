package ssrf

import (
	"net/netip"
	"strings"
)

var (
	cgnat       = netip.MustParsePrefix("100.64.0.0/10")
	thisNetwork = netip.MustParsePrefix("0.0.0.0/8")
	siteLocalV6 = netip.MustParsePrefix("fec0::/10")
)

// IsPublicAddr reports whether addr is routable on the public internet.
// IPv4-mapped IPv6 addresses are judged by their IPv4 form.
func IsPublicAddr(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	switch {
	case addr.IsLoopback(),
		addr.IsPrivate(),
		addr.IsLinkLocalUnicast(),
		addr.IsLinkLocalMulticast(),
		addr.IsInterfaceLocalMulticast(),
		addr.IsMulticast(),
		addr.IsUnspecified():
		return false
	}
	if addr.Is4() && (cgnat.Contains(addr) || thisNetwork.Contains(addr)) {
		return false
	}
	if addr.Is6() && siteLocalV6.Contains(addr) {
		return false
	}
	return true
}

// IsPrivateIPAddress reports whether a literal IP string is not public.
// Strings that are not IP literals return false.
func IsPrivateIPAddress(s string) bool {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return false
	}
	return !IsPublicAddr(addr)
}

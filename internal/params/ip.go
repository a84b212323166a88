package params

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

// Ranges that a demo must never be pointed at, on top of what netip already
// classifies as private, loopback, link-local, multicast or unspecified.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("240.0.0.0/4"),
}

// ParseIPv4 parses a strict dotted quad: four decimal octets 0-255, no
// leading zeros, no surrounding text.
func ParseIPv4(s string) (netip.Addr, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return netip.Addr{}, fmt.Errorf("invalid IPv4 address format")
	}
	var b [4]byte
	for i, p := range parts {
		if p == "" || len(p) > 3 || (len(p) > 1 && p[0] == '0') {
			return netip.Addr{}, fmt.Errorf("invalid IPv4 address format")
		}
		for _, c := range p {
			if c < '0' || c > '9' {
				return netip.Addr{}, fmt.Errorf("invalid IPv4 address format")
			}
		}
		n, err := strconv.Atoi(p)
		if err != nil || n > 255 {
			return netip.Addr{}, fmt.Errorf("invalid IPv4 octet %q", p)
		}
		b[i] = byte(n)
	}
	return netip.AddrFrom4(b), nil
}

// CheckPublicIPv4 rejects anything outside the public unicast space.
func CheckPublicIPv4(s string) error {
	addr, err := ParseIPv4(s)
	if err != nil {
		return err
	}
	switch {
	case addr.IsLoopback():
		return fmt.Errorf("loopback addresses are not allowed")
	case addr.IsPrivate():
		return fmt.Errorf("private IP ranges are not allowed")
	case addr.IsLinkLocalUnicast():
		return fmt.Errorf("link-local addresses are not allowed")
	case addr.IsMulticast():
		return fmt.Errorf("multicast addresses are not allowed")
	case addr.IsUnspecified():
		return fmt.Errorf("unspecified address is not allowed")
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("reserved address range %s is not allowed", p)
		}
	}
	return nil
}

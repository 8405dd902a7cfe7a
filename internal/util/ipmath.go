package util

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// IPv4ToUint32 converts a dotted-quad IPv4 address to its 32-bit integer
// form. Returns false for IPv6 or unparseable input.
func IPv4ToUint32(s string) (uint32, bool) {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return 0, false
	}
	v4 := ip.To4()
	if v4 == nil {
		return 0, false
	}
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3]), true
}

// CIDRContains reports whether ip falls inside the CIDR block. Both
// addresses are reduced to 32-bit integers and compared under the
// prefix-length mask, so /0 matches everything and /32 is an exact match.
func CIDRContains(cidr, ip string) (bool, error) {
	parts := strings.SplitN(cidr, "/", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("not a CIDR: %s", cidr)
	}
	base, ok := IPv4ToUint32(parts[0])
	if !ok {
		return false, fmt.Errorf("invalid CIDR base address: %s", cidr)
	}
	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return false, fmt.Errorf("invalid CIDR prefix length: %s", cidr)
	}
	addr, ok := IPv4ToUint32(ip)
	if !ok {
		return false, fmt.Errorf("invalid IPv4 address: %s", ip)
	}
	var mask uint32
	if prefix > 0 {
		mask = ^uint32(0) << (32 - prefix)
	}
	return base&mask == addr&mask, nil
}

// RangeContains reports whether ip falls inside the inclusive range
// "start-end" (numeric comparison on the 32-bit forms).
func RangeContains(ipRange, ip string) (bool, error) {
	parts := strings.SplitN(ipRange, "-", 2)
	if len(parts) != 2 {
		return false, fmt.Errorf("not an IP range: %s", ipRange)
	}
	start, ok := IPv4ToUint32(parts[0])
	if !ok {
		return false, fmt.Errorf("invalid range start: %s", ipRange)
	}
	end, ok := IPv4ToUint32(parts[1])
	if !ok {
		return false, fmt.Errorf("invalid range end: %s", ipRange)
	}
	if start > end {
		return false, fmt.Errorf("inverted range: %s", ipRange)
	}
	addr, ok := IPv4ToUint32(ip)
	if !ok {
		return false, fmt.Errorf("invalid IPv4 address: %s", ip)
	}
	return start <= addr && addr <= end, nil
}

// IsCIDR reports whether s looks like CIDR notation.
func IsCIDR(s string) bool { return strings.Contains(s, "/") }

// IsRange reports whether s looks like a start-end range.
func IsRange(s string) bool { return strings.Contains(s, "-") }

// ValidIPOrRange reports whether s is a single IP, a CIDR block or an
// inclusive range usable in an IP rule.
func ValidIPOrRange(s string) bool {
	switch {
	case IsCIDR(s):
		_, _, err := net.ParseCIDR(s)
		return err == nil
	case IsRange(s):
		_, err := RangeContains(s, "0.0.0.1")
		return err == nil
	default:
		return net.ParseIP(s) != nil
	}
}

// IsPrivateIP returns true for loopback, link-local, RFC1918 and IPv6
// unique-local addresses. These never reach the geolocation collaborator.
func IsPrivateIP(s string) bool {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		switch {
		case ip4[0] == 10:
			return true
		case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
			return true
		case ip4[0] == 192 && ip4[1] == 168:
			return true
		}
		return false
	}
	return ip.IsPrivate()
}

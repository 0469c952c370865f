package support

import (
	"net"
	"strings"
)

// NormalizeIPv4 returns the canonical dotted form when raw parses as an IPv4
// address, otherwise the empty string.
func NormalizeIPv4(raw string) string {
	parsed := net.ParseIP(strings.TrimSpace(raw))
	if parsed == nil {
		return ""
	}
	ipv4 := parsed.To4()
	if ipv4 == nil {
		return ""
	}
	return ipv4.String()
}

func IsIPLiteral(host string) bool {
	return net.ParseIP(host) != nil
}

// MaskHost hides the middle of a host for log lines. Artifacts keep the real
// value; only operator-facing output is masked.
func MaskHost(host string) string {
	if len(host) <= 6 {
		return "***"
	}
	return host[:3] + "***" + host[len(host)-3:]
}

package http

import (
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// IPConfig holds configuration for IP extraction and validation
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// RequestMeta is the client metadata recorded with audit entries.
// Empty fields mean the value was absent from the request.
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// MetaFromRequest collects the client IP and User-Agent header of r.
func MetaFromRequest(r *http.Request, config *IPConfig) RequestMeta {
	return RequestMeta{
		IPAddress: ExtractClientIP(r, config),
		UserAgent: strings.TrimSpace(r.UserAgent()),
	}
}

// ExtractClientIP returns the client address of r, or "" if none can be determined.
// X-Forwarded-For and X-Real-IP are honoured only when the direct peer is a trusted proxy.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remote, ok := remoteAddr(r)
	if !ok {
		return ""
	}

	if config != nil && isTrustedProxy(remote, config.TrustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, candidate := range strings.Split(xff, ",") {
				if addr, err := netip.ParseAddr(strings.TrimSpace(candidate)); err == nil {
					return addr.Unmap().String()
				}
			}
		}

		if addr, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
			return addr.Unmap().String()
		}
	}

	return remote.String()
}

// remoteAddr parses RemoteAddr with or without a port
func remoteAddr(r *http.Request) (netip.Addr, bool) {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// isTrustedProxy checks whether addr falls inside one of the trusted CIDR ranges.
// Invalid ranges are skipped.
func isTrustedProxy(addr netip.Addr, trustedProxies []string) bool {
	for _, cidr := range trustedProxies {
		prefix, err := netip.ParsePrefix(strings.TrimSpace(cidr))
		if err != nil {
			continue
		}
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

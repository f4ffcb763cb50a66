package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver decides which address rate limiting should key on.
// Forwarding headers are only believed when the immediate peer is inside a
// trusted proxy range; anyone else could set them freely.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses the trusted proxy list. Entries may be CIDRs
// or bare addresses; a bare address trusts exactly that host.
func NewClientIPResolver(trustedProxyCIDRs []string) (*ClientIPResolver, error) {
	r := &ClientIPResolver{}
	for _, raw := range trustedProxyCIDRs {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}
		if ip := net.ParseIP(value); ip != nil {
			bits := 32
			if ip.To4() == nil {
				bits = 128
			}
			r.trusted = append(r.trusted, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, network, err := net.ParseCIDR(value)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy CIDR %q: %w", value, err)
		}
		r.trusted = append(r.trusted, network)
	}
	return r, nil
}

// Resolve returns the client IP for req as a string, or "unknown" when the
// peer address cannot be parsed at all.
func (r *ClientIPResolver) Resolve(req *http.Request) string {
	peer := parseIP(req.RemoteAddr)
	if peer == nil {
		return "unknown"
	}

	if r.isTrustedProxy(peer) {
		for _, part := range strings.Split(req.Header.Get("X-Forwarded-For"), ",") {
			if ip := parseIP(part); ip != nil {
				return ip.String()
			}
		}
		if ip := parseIP(req.Header.Get("X-Real-IP")); ip != nil {
			return ip.String()
		}
	}

	return peer.String()
}

func (r *ClientIPResolver) isTrustedProxy(ip net.IP) bool {
	for _, network := range r.trusted {
		if network.Contains(ip) {
			return true
		}
	}
	return false
}

// parseIP accepts a bare address, an address:port pair, or a quoted form of
// either, and returns nil for anything else.
func parseIP(value string) net.IP {
	value = strings.TrimSpace(value)
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		value = value[1 : len(value)-1]
	}
	if value == "" {
		return nil
	}

	if ip := net.ParseIP(value); ip != nil {
		return ip
	}
	if host, _, err := net.SplitHostPort(value); err == nil {
		return net.ParseIP(strings.Trim(host, "[]"))
	}
	return nil
}

package interceptors

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// TrustedProxies lists the reverse proxies whose forwarding headers are
// believed. The zero value trusts nobody.
type TrustedProxies []netip.Prefix

// ParseTrustedProxies parses CIDR prefixes or bare addresses.
func ParseTrustedProxies(specs []string) (TrustedProxies, error) {
	var out TrustedProxies
	for _, s := range specs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if p, err := netip.ParsePrefix(s); err == nil {
			out = append(out, p.Masked())
			continue
		}
		a, err := netip.ParseAddr(s)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: not an address or CIDR", s)
		}
		a = a.Unmap()
		out = append(out, netip.PrefixFrom(a, a.BitLen()))
	}
	return out, nil
}

// Contains reports whether addr is one of the trusted proxies.
func (t TrustedProxies) Contains(addr netip.Addr) bool {
	addr = addr.Unmap()
	for _, p := range t {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the originating client address of r. Forwarding headers
// are only read when the TCP peer is a trusted proxy; X-Forwarded-For is
// walked from the right and the first untrusted hop wins.
func (t TrustedProxies) ClientIP(r *http.Request) string {
	peer := PeerIP(r)
	if len(t) == 0 {
		return peer
	}
	pa, err := netip.ParseAddr(peer)
	if err != nil || !t.Contains(pa) {
		return peer
	}

	if xff := r.Header.Values("X-Forwarded-For"); len(xff) > 0 {
		hops := strings.Split(strings.Join(xff, ","), ",")
		client := ""
		for i := len(hops) - 1; i >= 0; i-- {
			a, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			client = a.Unmap().String()
			if !t.Contains(a) {
				break
			}
		}
		if client != "" {
			return client
		}
	}
	if a, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return a.Unmap().String()
	}
	return peer
}

// PeerIP returns the host part of r.RemoteAddr, or "unknown".
func PeerIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// ClientIP returns the address RequestLog resolved for r, or the TCP peer
// when RequestLog has not run.
func ClientIP(r *http.Request) string {
	if ip := ClientIPFromContext(r.Context()); ip != "" {
		return ip
	}
	return PeerIP(r)
}

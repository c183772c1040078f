package api

import (
	"net"
	"net/http"
	"net/netip"
	"strings"

	"go.uber.org/zap"
)

// clientIP returns the caller's address. X-Forwarded-For is only read when
// proxies are trusted and the connection itself comes from a trusted proxy.
// The header is walked right to left and the first hop that is not a
// trusted proxy wins, so entries a client prepends are never used.
func (s *Server) clientIP(r *http.Request) string {
	peer := remoteHost(r.RemoteAddr)
	if !s.opts.TrustProxy || !s.isTrusted(peer) {
		return peer
	}

	hops := forwardedHops(r.Header.Values("X-Forwarded-For"))
	for i := len(hops) - 1; i >= 0; i-- {
		if !s.isTrusted(hops[i]) {
			return hops[i]
		}
	}
	if len(hops) > 0 {
		return hops[0]
	}
	return peer
}

func (s *Server) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range s.trusted {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedHops flattens every X-Forwarded-For header into valid addresses,
// stopping at the first malformed hop from the right.
func forwardedHops(values []string) []string {
	var raw []string
	for _, v := range values {
		raw = append(raw, strings.Split(v, ",")...)
	}

	var hops []string
	for i := len(raw) - 1; i >= 0; i-- {
		hop := strings.TrimSpace(raw[i])
		if _, err := netip.ParseAddr(hop); err != nil {
			break
		}
		hops = append([]string{hop}, hops...)
	}
	return hops
}

func remoteHost(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// parseTrustedProxies accepts CIDRs and bare addresses and skips the rest.
func parseTrustedProxies(raw []string, log *zap.SugaredLogger) []netip.Prefix {
	var prefixes []netip.Prefix
	for _, entry := range raw {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			prefixes = append(prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			log.Warnw("Ignoring invalid trusted proxy", "entry", entry)
			continue
		}
		addr = addr.Unmap()
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes
}

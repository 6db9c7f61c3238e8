package bridge

import (
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// proxySet holds the addresses and prefixes whose forwarding headers are
// believed.
type proxySet struct {
	addrs    map[netip.Addr]struct{}
	prefixes []netip.Prefix
}

func newProxySet(entries []string, logger *slog.Logger) *proxySet {
	set := &proxySet{addrs: make(map[netip.Addr]struct{})}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				logger.Warn("invalid trusted proxy prefix", "entry", entry, "error", err)
				continue
			}
			set.prefixes = append(set.prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			logger.Warn("invalid trusted proxy address", "entry", entry, "error", err)
			continue
		}
		set.addrs[addr.Unmap()] = struct{}{}
	}
	if len(set.addrs) == 0 && len(set.prefixes) == 0 {
		return nil
	}
	return set
}

func (s *proxySet) trusts(addr netip.Addr) bool {
	if s == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	if _, ok := s.addrs[addr]; ok {
		return true
	}
	for _, p := range s.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteAddr returns the address of the browser behind r. Forwarding headers
// are only read when the peer is a trusted proxy; the rightmost untrusted hop
// wins.
func remoteAddr(r *http.Request, proxies *proxySet) string {
	peer := parseHost(r.RemoteAddr)
	if !peer.IsValid() {
		return r.RemoteAddr
	}
	if !proxies.trusts(peer) {
		return peer.String()
	}

	hops := forwardedFor(r.Header.Get("Forwarded"))
	if len(hops) == 0 {
		hops = xForwardedFor(r.Header.Get("X-Forwarded-For"))
	}
	if len(hops) == 0 {
		return peer.String()
	}
	for i := len(hops) - 1; i >= 0; i-- {
		if !proxies.trusts(hops[i]) {
			return hops[i].String()
		}
	}
	return hops[0].String()
}

// forwardedFor extracts the for= parameters of an RFC 7239 header.
func forwardedFor(header string) []netip.Addr {
	var out []netip.Addr
	for _, element := range strings.Split(header, ",") {
		for _, param := range strings.Split(element, ";") {
			key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
			if !ok || !strings.EqualFold(strings.TrimSpace(key), "for") {
				continue
			}
			if addr := parseHost(value); addr.IsValid() {
				out = append(out, addr)
			}
		}
	}
	return out
}

func xForwardedFor(header string) []netip.Addr {
	var out []netip.Addr
	for _, part := range strings.Split(header, ",") {
		if addr := parseHost(part); addr.IsValid() {
			out = append(out, addr)
		}
	}
	return out
}

// parseHost accepts "ip", "ip:port", "[ipv6]:port" and quoted forms. Zones are
// dropped. "unknown" and obfuscated identifiers yield the zero Addr.
func parseHost(value string) netip.Addr {
	host := strings.Trim(strings.TrimSpace(value), `"`)
	if host == "" || strings.EqualFold(host, "unknown") {
		return netip.Addr{}
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if zone := strings.IndexByte(host, '%'); zone != -1 {
		host = host[:zone]
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return netip.Addr{}
	}
	return addr.Unmap()
}

package security

import (
	"net"
	"net/netip"
	"strings"

	"github.com/Keksclan/rawrpipe/metadata"
)

// defaultHeaderPriority is the ordered list of metadata keys inspected when
// the caller does not provide an explicit HeaderPriority.
var defaultHeaderPriority = []string{"x-real-ip", "x-forwarded-for"}

// resolveClientAddr determines the effective client address of a call.
//
// peerAddr is the remote address reported by the transport. When it lies
// within trustedProxies, headerPriority is walked in order and the first
// valid IP found in md wins. Otherwise, or when no header carries a valid
// IP, the peer address itself is returned.
func resolveClientAddr(peerAddr string, md *metadata.Metadata, trustedProxies []netip.Prefix, headerPriority []string) (netip.Addr, bool) {
	addr, ok := parseHostAddr(peerAddr)
	if !ok {
		return netip.Addr{}, false
	}

	if isTrustedProxy(addr, trustedProxies) {
		if fwd, found := addrFromHeaders(md, headerPriority); found {
			return fwd, true
		}
	}
	return addr, true
}

// parseHostAddr parses "host:port" or a bare IP.
func parseHostAddr(s string) (netip.Addr, bool) {
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Addr{}, false
	}
	return ip.Unmap(), true
}

func isTrustedProxy(addr netip.Addr, prefixes []netip.Prefix) bool {
	return matchesAny(addr, prefixes)
}

// addrFromHeaders returns the first valid IP found under the priority keys.
// For comma separated values such as x-forwarded-for the left-most entry is
// the original client.
func addrFromHeaders(md *metadata.Metadata, priority []string) (netip.Addr, bool) {
	for _, key := range priority {
		for _, v := range md.GetAll(key) {
			for part := range strings.SplitSeq(v, ",") {
				trimmed := strings.TrimSpace(part)
				if trimmed == "" {
					continue
				}
				if ip, err := netip.ParseAddr(trimmed); err == nil {
					return ip.Unmap(), true
				}
			}
		}
	}
	return netip.Addr{}, false
}

// Package security decides whether a call may proceed based on the address
// of its client.
package security

import (
	"fmt"
	"net/netip"
	"slices"
	"sync/atomic"

	"github.com/Keksclan/rawrpipe/metadata"
)

// Mode controls how the CIDR list is interpreted.
type Mode int

const (
	// AllowList only permits IPs that match at least one CIDR.
	AllowList Mode = iota
	// DenyList blocks IPs that match any CIDR and allows all others.
	DenyList
)

func (m Mode) String() string {
	switch m {
	case AllowList:
		return "allow"
	case DenyList:
		return "deny"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Config holds the configuration for an IPBlocker.
type Config struct {
	Mode  Mode
	CIDRs []string
	// TrustedProxies are peers whose forwarding headers are believed.
	TrustedProxies []string
	// HeaderPriority lists the metadata keys consulted behind a trusted
	// proxy. Defaults to x-real-ip, then x-forwarded-for.
	HeaderPriority []string
}

// IPBlocker evaluates client addresses against a list of CIDR ranges. Its
// rules can be replaced at runtime with Update.
type IPBlocker struct {
	rules atomic.Pointer[ruleSet]
}

// ruleSet is an immutable, parsed Config.
type ruleSet struct {
	mode           Mode
	cidrs          []netip.Prefix
	trustedProxies []netip.Prefix
	headerPriority []string
}

func compile(cfg Config) (*ruleSet, error) {
	cidrs, err := parsePrefixes(cfg.CIDRs)
	if err != nil {
		return nil, fmt.Errorf("ipblock: invalid CIDR: %w", err)
	}
	proxies, err := parsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("ipblock: invalid trusted proxy: %w", err)
	}
	hp := cfg.HeaderPriority
	if len(hp) == 0 {
		hp = defaultHeaderPriority
	}
	return &ruleSet{
		mode:           cfg.Mode,
		cidrs:          cidrs,
		trustedProxies: proxies,
		headerPriority: slices.Clone(hp),
	}, nil
}

// NewIPBlocker parses cfg up-front and reports the first invalid entry.
func NewIPBlocker(cfg Config) (*IPBlocker, error) {
	rs, err := compile(cfg)
	if err != nil {
		return nil, err
	}
	b := &IPBlocker{}
	b.rules.Store(rs)
	return b, nil
}

// Update replaces the rules. On error the current rules stay in place.
// Calls already being evaluated finish with the old rules.
func (b *IPBlocker) Update(cfg Config) error {
	rs, err := compile(cfg)
	if err != nil {
		return err
	}
	b.rules.Store(rs)
	return nil
}

// Mode returns the current mode.
func (b *IPBlocker) Mode() Mode { return b.rules.Load().mode }

// ClientAddr resolves the effective client address of a call coming from
// peerAddr with request metadata md.
func (b *IPBlocker) ClientAddr(peerAddr string, md *metadata.Metadata) (netip.Addr, bool) {
	rs := b.rules.Load()
	return resolveClientAddr(peerAddr, md, rs.trustedProxies, rs.headerPriority)
}

// Evaluate reports whether a call from peerAddr carrying md is allowed. A
// client whose address cannot be determined is denied.
func (b *IPBlocker) Evaluate(peerAddr string, md *metadata.Metadata) bool {
	rs := b.rules.Load()
	addr, ok := resolveClientAddr(peerAddr, md, rs.trustedProxies, rs.headerPriority)
	if !ok {
		return false
	}
	matched := matchesAny(addr, rs.cidrs)
	switch rs.mode {
	case AllowList:
		return matched
	case DenyList:
		return !matched
	default:
		return false
	}
}

func matchesAny(addr netip.Addr, prefixes []netip.Prefix) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// parsePrefixes parses CIDR strings. A bare address becomes a single-host
// prefix.
func parsePrefixes(raw []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(raw))
	for _, s := range raw {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			addr, addrErr := netip.ParseAddr(s)
			if addrErr != nil {
				return nil, fmt.Errorf("%q: %w", s, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		out = append(out, p.Masked())
	}
	return out, nil
}

package crawler

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Blocklist is the process-wide domain blocklist, initialized once at
// startup. Reads are lock-free. The default list is empty; deployments
// populate it from configuration. Allowed domains punch holes in it.
type Blocklist struct {
	blocked map[string]struct{}
	allowed map[string]struct{}
}

// NewBlocklist builds a Blocklist from blocked roots and allowed
// exceptions.
func NewBlocklist(blocked, allowed []string) *Blocklist {
	b := &Blocklist{
		blocked: make(map[string]struct{}, len(blocked)),
		allowed: make(map[string]struct{}, len(allowed)),
	}
	for _, d := range blocked {
		if d = normalizeDomain(d); d != "" {
			b.blocked[d] = struct{}{}
		}
	}
	for _, d := range allowed {
		if d = normalizeDomain(d); d != "" {
			b.allowed[d] = struct{}{}
		}
	}
	return b
}

// IsBlocked reports whether the host matches a blocked root exactly, as
// a subdomain, or as the same base name under a different TLD.
func (b *Blocklist) IsBlocked(host string) bool {
	host = normalizeDomain(host)
	if host == "" || len(b.blocked) == 0 {
		return false
	}
	if b.isAllowed(host) {
		return false
	}

	for root := range b.blocked {
		if host == root || strings.HasSuffix(host, "."+root) {
			return true
		}
		if bn := baseName(host); bn != "" && bn == baseName(root) {
			return true
		}
	}
	return false
}

func (b *Blocklist) isAllowed(host string) bool {
	for root := range b.allowed {
		if host == root || strings.HasSuffix(host, "."+root) {
			return true
		}
	}
	return false
}

func normalizeDomain(d string) string {
	d = strings.ToLower(strings.TrimSpace(d))
	d = strings.TrimPrefix(d, "www.")
	if i := strings.IndexByte(d, ':'); i >= 0 {
		d = d[:i]
	}
	return d
}

// baseName returns the registrable label without its public suffix:
// "docs.example.co.uk" -> "example".
func baseName(host string) string {
	etld1, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return ""
	}
	if i := strings.IndexByte(etld1, '.'); i > 0 {
		return etld1[:i]
	}
	return etld1
}

// Package registry holds the static upstream whitelist that doubles as the
// gateway's SSRF boundary. A Registry is built once at startup from
// configuration and never mutated afterward.
package registry

import "strings"

// AuthScheme identifies how the gateway must authenticate to an upstream.
type AuthScheme string

const (
	AuthOpenAI    AuthScheme = "openai"
	AuthAnthropic AuthScheme = "anthropic"
	AuthGoogle    AuthScheme = "google"
)

// Upstream describes one whitelisted provider host.
type Upstream struct {
	Host       string
	AuthScheme AuthScheme
	HTTPS      bool
}

func (u Upstream) Scheme() string {
	if u.HTTPS {
		return "https"
	}
	return "http"
}

// Registry is an immutable host -> Upstream map, looked up case-insensitively.
type Registry struct {
	byHost map[string]Upstream
}

// Entry is the configuration-level description of one upstream.
type Entry struct {
	Host       string
	AuthScheme AuthScheme // optional; left unset to defer to path-based inference
	HTTPS      bool
}

// New builds an immutable Registry from a list of entries. An entry that
// doesn't pin AuthScheme is stored with it empty — resolving the scheme for
// such an entry is the dispatcher's job (spec.md §4.1: path-based, keyed off
// the upstream path rather than the host).
func New(entries []Entry) *Registry {
	r := &Registry{byHost: make(map[string]Upstream, len(entries))}
	for _, e := range entries {
		r.byHost[strings.ToLower(e.Host)] = Upstream{
			Host:       e.Host,
			AuthScheme: e.AuthScheme,
			HTTPS:      e.HTTPS,
		}
	}
	return r
}

// Lookup resolves a host to its Upstream descriptor. The returned bool is
// false when the host is not whitelisted — callers MUST treat that as a hard
// reject before any upstream I/O (the SSRF boundary in spec.md §4.3).
func (r *Registry) Lookup(host string) (Upstream, bool) {
	u, ok := r.byHost[strings.ToLower(host)]
	return u, ok
}

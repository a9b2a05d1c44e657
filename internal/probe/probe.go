// Package probe implements the pre-dispatch junk-traffic predicate described
// in spec.md §4.2. It runs before any body is read and before any upstream
// I/O, so it has to be cheap: exact-match sets and substring scans only.
package probe

import (
	"net/http"
	"strings"
)

// Rules is the configuration-level description of the probe filter.
type Rules struct {
	PathBlocklist       []string
	PathPrefixBlocklist []string
	AllowedMethods      []string
	UserAgentSubstrings []string
	IPBlocklist         []string
}

// Filter is the compiled, read-only predicate built from Rules.
type Filter struct {
	pathBlocklist       map[string]struct{}
	pathPrefixBlocklist []string
	allowedMethods      map[string]struct{}
	userAgentSubstrings []string
	ipBlocklist         map[string]struct{}
}

// New compiles Rules into a Filter. A nil/zero Rules produces a Filter that
// matches nothing (every request passes); an empty rule list never means
// "reject everything". The built-in configuration default is not zero: it
// sets an allowed-methods list (see config.builtinDefaults).
func New(r Rules) *Filter {
	f := &Filter{
		pathBlocklist:       toSet(r.PathBlocklist),
		pathPrefixBlocklist: append([]string(nil), r.PathPrefixBlocklist...),
		userAgentSubstrings: append([]string(nil), r.UserAgentSubstrings...),
		ipBlocklist:         toSet(r.IPBlocklist),
	}
	if len(r.AllowedMethods) > 0 {
		f.allowedMethods = toSet(r.AllowedMethods)
	}
	return f
}

func toSet(vals []string) map[string]struct{} {
	s := make(map[string]struct{}, len(vals))
	for _, v := range vals {
		s[v] = struct{}{}
	}
	return s
}

// Match reports whether the request matches any blocklist rule and should be
// rejected with a terse 403 before any further work happens.
func (f *Filter) Match(method, path string, header http.Header, peerAddr string) bool {
	if f == nil {
		return false
	}
	if _, blocked := f.pathBlocklist[path]; blocked {
		return true
	}
	for _, prefix := range f.pathPrefixBlocklist {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	if f.allowedMethods != nil {
		if _, ok := f.allowedMethods[method]; !ok {
			return true
		}
	}
	ua := header.Get("User-Agent")
	if ua != "" {
		for _, substr := range f.userAgentSubstrings {
			if substr != "" && strings.Contains(ua, substr) {
				return true
			}
		}
	}
	if _, blocked := f.ipBlocklist[peerAddr]; blocked {
		return true
	}
	return false
}

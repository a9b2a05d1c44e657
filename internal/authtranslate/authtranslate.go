// Package authtranslate converts the client's inbound credential into the
// header/query shape each upstream provider expects (spec.md §4.4).
package authtranslate

import (
	"net/http"
	"net/url"
	"strings"

	"llmgw/internal/registry"
)

// hopByHop headers are stripped before forwarding upstream; everything else,
// including custom x-* headers, Accept and Accept-Encoding, passes through.
var hopByHop = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Proxy-Connection":    {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Host":                {},
}

// ExtractToken pulls the bearer token out of the inbound headers, trying
// Authorization: Bearer <tok> first, then a bare Authorization value, then
// x-api-key. Empty when none are present.
func ExtractToken(h http.Header) string {
	if auth := h.Get("Authorization"); auth != "" {
		if tok, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return tok
		}
		return auth
	}
	if key := h.Get("x-api-key"); key != "" {
		return key
	}
	return ""
}

// Result is the outcome of translating one request's credentials: a header
// set to send upstream and an optional query-string addition (Google's
// ?key=).
type Result struct {
	Header     http.Header
	QueryExtra url.Values
}

// Translate builds the upstream header/query set for scheme, given the
// inbound headers. token is the credential extracted via ExtractToken.
func Translate(scheme registry.AuthScheme, token string, inbound http.Header) Result {
	out := http.Header{}
	copyPassthrough(inbound, out)

	switch scheme {
	case registry.AuthOpenAI:
		if token != "" {
			out.Set("Authorization", "Bearer "+token)
		}
		out.Set("Content-Type", "application/json")
		return Result{Header: out}

	case registry.AuthAnthropic:
		if token != "" {
			out.Set("x-api-key", token)
		}
		if v := inbound.Get("anthropic-version"); v != "" {
			out.Set("anthropic-version", v)
		} else {
			out.Set("anthropic-version", "2023-06-01")
		}
		out.Set("Content-Type", "application/json")
		out.Del("Authorization")
		return Result{Header: out}

	case registry.AuthGoogle:
		out.Set("Content-Type", "application/json")
		out.Del("Authorization")
		q := url.Values{}
		if token != "" {
			q.Set("key", token)
		}
		return Result{Header: out, QueryExtra: q}

	default:
		out.Set("Content-Type", "application/json")
		return Result{Header: out}
	}
}

// copyPassthrough copies every inbound header except hop-by-hop ones (any
// Proxy-* header included), Content-Length, and the credential headers
// (Authorization, x-api-key), which Translate sets explicitly for the target
// scheme.
func copyPassthrough(in http.Header, out http.Header) {
	for k, vals := range in {
		canon := http.CanonicalHeaderKey(k)
		if _, blocked := hopByHop[canon]; blocked {
			continue
		}
		if strings.HasPrefix(canon, "Proxy-") {
			continue
		}
		if canon == "Authorization" || canon == "X-Api-Key" || canon == "Content-Length" {
			continue
		}
		for _, v := range vals {
			out.Add(canon, v)
		}
	}
}

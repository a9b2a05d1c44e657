// Package forwarder issues the upstream HTTP request and relays the
// response back to the downstream client, per spec.md §4.6.
package forwarder

import (
	"net"
	"net/http"
	"time"
)

// NewHTTPClient builds the process-wide pooled HTTP client. Tuning is
// adapted from the teacher's core/client.go InitHTTPClient, narrowed to the
// cap spec.md §4.6 specifies (~200 total, ~20 per host) and without a
// response-header timeout — streaming responses must not be cut off, and
// the 120s non-streaming timeout is applied per-request via context instead
// of on the shared client so streaming requests can opt out of it.
func NewHTTPClient() *http.Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 300 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 20,
		IdleConnTimeout:     300 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Transport: transport}
}

// NonStreamingTimeout is applied as a context deadline for non-streaming
// forwards; streaming forwards get no deadline beyond the client's own
// disconnect (spec.md §4.6).
const NonStreamingTimeout = 120 * time.Second

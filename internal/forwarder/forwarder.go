package forwarder

import (
	"io"
	"net/http"
	"strings"
)

// hopByHop response headers are never mirrored to the downstream client.
var hopByHop = map[string]struct{}{
	"Connection":        {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
	"Upgrade":           {},
}

// RecordCap bounds the tee buffer kept for the recorder; beyond this the
// record is marked truncated but forwarding to the client is unaffected
// (spec.md §4.6).
const RecordCap = 16 * 1024 * 1024

// Forwarder issues upstream requests over a single pooled *http.Client.
type Forwarder struct {
	Client *http.Client
}

func New(client *http.Client) *Forwarder {
	return &Forwarder{Client: client}
}

// Do sends req and returns the raw upstream response. The caller owns
// resp.Body and must close it.
func (f *Forwarder) Do(req *http.Request) (*http.Response, error) {
	return f.Client.Do(req)
}

// MirrorHeaders copies resp's headers onto w except hop-by-hop ones, then
// writes the status code.
func MirrorHeaders(resp *http.Response, w http.ResponseWriter) {
	for k, vals := range resp.Header {
		canon := http.CanonicalHeaderKey(k)
		if _, blocked := hopByHop[canon]; blocked {
			continue
		}
		for _, v := range vals {
			w.Header().Add(canon, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
}

// IsEventStream reports whether resp's Content-Type is text/event-stream.
func IsEventStream(resp *http.Response) bool {
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream")
}

// boundedTee is an io.Writer that accumulates up to RecordCap bytes and
// silently discards (but still reports success for) anything past the cap,
// setting Truncated instead of failing the copy.
type boundedTee struct {
	buf       []byte
	cap       int
	Truncated bool
}

func newBoundedTee(cap int) *boundedTee {
	return &boundedTee{cap: cap}
}

func (t *boundedTee) Write(p []byte) (int, error) {
	if len(t.buf) >= t.cap {
		t.Truncated = true
		return len(p), nil
	}
	remaining := t.cap - len(t.buf)
	if len(p) > remaining {
		t.buf = append(t.buf, p[:remaining]...)
		t.Truncated = true
	} else {
		t.buf = append(t.buf, p...)
	}
	return len(p), nil
}

// RelayWhole copies resp.Body to w in full (non-streaming path) while
// teeing a bounded copy for the recorder.
func RelayWhole(resp *http.Response, w io.Writer) (body []byte, truncated bool, err error) {
	tee := newBoundedTee(RecordCap)
	_, err = io.Copy(io.MultiWriter(w, tee), resp.Body)
	return tee.buf, tee.Truncated, err
}

// Flusher is satisfied by gin's ResponseWriter and http.Flusher alike.
type Flusher interface {
	Flush()
}

// flushWriter flushes after every write that reaches the client, so an
// io.Copy still delivers SSE bytes to the client as they arrive instead of
// sitting in a buffer until the copy finishes.
type flushWriter struct {
	w io.Writer
	f Flusher
}

func (fw flushWriter) Write(p []byte) (int, error) {
	n, err := fw.w.Write(p)
	if err == nil {
		fw.f.Flush()
	}
	return n, err
}

// RelaySSE copies the upstream SSE body to w verbatim, byte for byte,
// flushing as data arrives, while teeing a bounded copy for the recorder.
// This is the byte-exact passthrough case spec.md §8 requires ("the
// sequence of bytes received by the client equals the concatenation of
// upstream SSE frames in order ... except when transcoding is active") —
// no frame reassembly happens here, matching the teacher's plain
// io.Copy(c.Writer, resp.Body) passthrough (core/proxy.go). Frame-level
// parsing is reserved for the transcoding path, which needs to rewrite each
// frame's JSON payload and cannot be a raw copy.
func RelaySSE(resp *http.Response, w io.Writer, flush Flusher) (raw []byte, truncated bool, err error) {
	tee := newBoundedTee(RecordCap)
	_, err = io.Copy(io.MultiWriter(flushWriter{w: w, f: flush}, tee), resp.Body)
	return tee.buf, tee.Truncated, err
}

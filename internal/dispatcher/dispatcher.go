// Package dispatcher binds the configuration loader, probe filter,
// registry, auth translator, transcoder, forwarder and recorder into the
// HTTP entry point described in spec.md §4.1 and §4.9.
package dispatcher

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"llmgw/internal/authtranslate"
	"llmgw/internal/forwarder"
	"llmgw/internal/probe"
	"llmgw/internal/recorder"
	"llmgw/internal/registry"
)

// MaxBodyBytes is the hard cap on inbound request bodies (spec.md §4.1).
const MaxBodyBytes = 8 * 1024 * 1024

// Dispatcher holds the process singletons wired at startup and exposes the
// gin route registration.
type Dispatcher struct {
	registry              *registry.Registry
	probe                 *probe.Filter
	rateLimiter           *probe.IPRateLimiter
	fwd                   *forwarder.Forwarder
	rec                   *recorder.Recorder
	defaultOpenAIUpstream string
	logger                *logrus.Logger
}

func New(
	reg *registry.Registry,
	pf *probe.Filter,
	rl *probe.IPRateLimiter,
	fwd *forwarder.Forwarder,
	rec *recorder.Recorder,
	defaultOpenAIUpstream string,
	logger *logrus.Logger,
) *Dispatcher {
	return &Dispatcher{
		registry:              reg,
		probe:                 pf,
		rateLimiter:           rl,
		fwd:                   fwd,
		rec:                   rec,
		defaultOpenAIUpstream: defaultOpenAIUpstream,
		logger:                logger,
	}
}

// Routes registers every HTTP entry point named in spec.md §6. Compat
// literal paths are ordinary gin routes; anything else falls through to
// NoRoute, which runs the path-prefixed dynamic-host dispatch — this keeps
// the two dispatch modes out of each other's way without fighting gin's
// route tree over the shared "/v1/..." prefix.
func (d *Dispatcher) Routes(engine *gin.Engine) {
	engine.Use(d.probeAndRateLimitMiddleware(), d.bodyLimitMiddleware())

	engine.GET("/health", d.handleHealth)
	engine.POST("/v1/chat/completions", d.handleCompatChat)
	engine.POST("/v1/embeddings", d.handleCompatEmbeddings)
	engine.NoRoute(d.handleDynamic)
}

func (d *Dispatcher) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// probeAndRateLimitMiddleware implements spec.md §4.2: a terse 403 for
// anything the filter matches, before any body is read.
func (d *Dispatcher) probeAndRateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		peer := clientIP(c.Request)
		if d.probe.Match(c.Request.Method, c.Request.URL.Path, c.Request.Header, peer) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if d.rateLimiter != nil && !d.rateLimiter.Allow(peer) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

// bodyLimitMiddleware enforces the 8 MiB cap (spec.md §4.1 step 2).
func (d *Dispatcher) bodyLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > MaxBodyBytes {
			clientError(c, http.StatusRequestEntityTooLarge, "request body exceeds 8MiB limit", "invalid_request_error")
			return
		}
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
		}
		c.Next()
	}
}

// clientIP is grounded in the teacher's core/proxy.go getClientIP: trust
// X-Forwarded-For, then X-Real-IP, then X-Forwarded, then fall back to the
// host part of the raw peer address (port stripped).
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	if xf := r.Header.Get("X-Forwarded"); xf != "" {
		return strings.TrimSpace(xf)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// splitHostAndPath implements the path-prefixed dispatch mode (spec.md
// §4.1): the first path segment, URL-decoded, is the upstream host; the
// remainder is the upstream path.
func splitHostAndPath(rawPath string) (host string, upstreamPath string, ok bool) {
	trimmed := strings.TrimPrefix(rawPath, "/")
	idx := strings.Index(trimmed, "/")
	var hostSeg string
	if idx == -1 {
		hostSeg = trimmed
		upstreamPath = "/"
	} else {
		hostSeg = trimmed[:idx]
		upstreamPath = trimmed[idx:]
	}
	decoded, err := url.PathUnescape(hostSeg)
	if err != nil || decoded == "" {
		return "", "", false
	}
	return decoded, upstreamPath, true
}

// resolveAuthScheme fills in an unpinned registry entry's scheme using the
// upstream path hint spec.md §4.1 names: "/anthropic/" or a "/v1/messages"
// suffix selects anthropic; otherwise openai. Google is never inferred —
// only ever selected by an explicit registry pin.
func resolveAuthScheme(pinned registry.AuthScheme, upstreamPath string) registry.AuthScheme {
	if pinned != "" {
		return pinned
	}
	if strings.Contains(upstreamPath, "/anthropic/") || strings.HasSuffix(upstreamPath, "/v1/messages") {
		return registry.AuthAnthropic
	}
	return registry.AuthOpenAI
}

// handleDynamic implements the path-prefixed dispatch mode and the shared
// forward+record tail end of the pipeline (spec.md §4.1 steps 3a, 5-9).
func (d *Dispatcher) handleDynamic(c *gin.Context) {
	host, upstreamPath, ok := splitHostAndPath(c.Request.URL.Path)
	if !ok {
		clientError(c, http.StatusBadRequest, "malformed request path", "invalid_request_error")
		return
	}

	upstream, found := d.registry.Lookup(host)
	if !found {
		clientError(c, http.StatusForbidden, "upstream not allowed", "policy_error")
		return
	}

	scheme := resolveAuthScheme(upstream.AuthScheme, upstreamPath)

	body, err := readBody(c)
	if err != nil {
		clientError(c, http.StatusRequestEntityTooLarge, "request body exceeds 8MiB limit", "invalid_request_error")
		return
	}

	token := authtranslate.ExtractToken(c.Request.Header)
	translated := authtranslate.Translate(scheme, token, c.Request.Header)

	reqURL := url.URL{
		Scheme:   upstream.Scheme(),
		Host:     upstream.Host,
		Path:     upstreamPath,
		RawQuery: mergeQuery(c.Request.URL.RawQuery, translated.QueryExtra),
	}

	isStreaming := gjson.GetBytes(body, "stream").Bool() || strings.Contains(upstreamPath, "streamGenerateContent")

	d.forwardAndRecord(c, forwardParams{
		method:         c.Request.Method,
		url:            reqURL.String(),
		header:         translated.Header,
		body:           body,
		isStreaming:    isStreaming,
		sourceProvider: upstream.Host,
		authScheme:     string(scheme),
		recordKind:     recordKindFor(scheme, upstreamPath, body),
	})
}

func recordKindFor(scheme registry.AuthScheme, upstreamPath string, body []byte) recordKind {
	if scheme == registry.AuthAnthropic {
		return recordKindAnthropic
	}
	if gjson.GetBytes(body, "messages").Exists() {
		return recordKindOpenAIChat
	}
	return recordKindNonChat
}

func readBody(c *gin.Context) ([]byte, error) {
	if c.Request.Body == nil {
		return nil, nil
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func mergeQuery(existing string, extra url.Values) string {
	if len(extra) == 0 {
		return existing
	}
	q, _ := url.ParseQuery(existing)
	if q == nil {
		q = url.Values{}
	}
	for k, vals := range extra {
		for _, v := range vals {
			q.Set(k, v)
		}
	}
	return q.Encode()
}

type recordKind int

const (
	recordKindNonChat recordKind = iota
	recordKindOpenAIChat
	recordKindAnthropic
)

type forwardParams struct {
	method         string
	url            string
	header         http.Header
	body           []byte
	isStreaming    bool
	sourceProvider string
	authScheme     string
	model          string
	recordKind     recordKind
}

// forwardAndRecord issues the upstream request, relays the response, and
// hands the completed exchange to the recorder — the shared tail of every
// dispatch path (spec.md §4.1 steps 8-9, §5's strict per-request order).
func (d *Dispatcher) forwardAndRecord(c *gin.Context, p forwardParams) {
	ctx := c.Request.Context()
	var cancel context.CancelFunc
	if !p.isStreaming {
		ctx, cancel = context.WithTimeout(ctx, forwarder.NonStreamingTimeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, p.method, p.url, newBodyReader(p.body))
	if err != nil {
		clientError(c, http.StatusBadRequest, "failed to build upstream request", "invalid_request_error")
		return
	}
	req.Header = p.header

	resp, err := d.fwd.Do(req)
	if err != nil {
		status := http.StatusBadGateway
		if ctx.Err() == context.DeadlineExceeded {
			status = http.StatusGatewayTimeout
		}
		c.JSON(status, errorBody(err.Error(), "upstream_error"))
		d.recordOutcome(p, status, errorBodyBytes(err.Error(), "upstream_error"), false)
		return
	}
	defer resp.Body.Close()

	if p.isStreaming && forwarder.IsEventStream(resp) {
		forwarder.MirrorHeaders(resp, c.Writer)
		raw, truncated, relayErr := forwarder.RelaySSE(resp, c.Writer, c.Writer)
		if relayErr != nil {
			d.logger.WithError(relayErr).Warn("dispatcher: sse relay interrupted")
			return
		}
		d.recordOutcome(p, resp.StatusCode, raw, truncated)
		return
	}

	forwarder.MirrorHeaders(resp, c.Writer)
	raw, truncated, relayErr := forwarder.RelayWhole(resp, c.Writer)
	if relayErr != nil {
		d.logger.WithError(relayErr).Warn("dispatcher: response relay interrupted")
		return
	}
	d.recordOutcome(p, resp.StatusCode, raw, truncated)
}

func newBodyReader(body []byte) io.Reader {
	if body == nil {
		return nil
	}
	return strings.NewReader(string(body))
}

func (d *Dispatcher) recordOutcome(p forwardParams, status int, rawResponse []byte, truncated bool) {
	obs := recorder.Observation{
		SourceProvider: p.sourceProvider,
		AuthScheme:     p.authScheme,
		Model:          modelFromBody(p.body, p.model),
		RawRequest:     p.body,
		RawResponse:    rawResponse,
		Truncated:      truncated,
	}
	switch p.recordKind {
	case recordKindOpenAIChat:
		d.rec.RecordOpenAIChat(obs)
	case recordKindAnthropic:
		d.rec.RecordAnthropicMessages(obs)
	default:
		d.rec.RecordNonChat(obs)
	}
}

func modelFromBody(body []byte, fallback string) string {
	if m := gjson.GetBytes(body, "model").String(); m != "" {
		return m
	}
	return fallback
}

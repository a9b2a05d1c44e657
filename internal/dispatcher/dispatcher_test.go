package dispatcher

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgw/internal/forwarder"
	"llmgw/internal/probe"
	"llmgw/internal/recorder"
	"llmgw/internal/registry"
	"llmgw/internal/store"
)

type fakeEnqueuer struct {
	records []*store.Record
}

func (f *fakeEnqueuer) Enqueue(r *store.Record) { f.records = append(f.records, r) }

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

func newTestEngine(t *testing.T, reg *registry.Registry, fe *fakeEnqueuer, defaultUpstream string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := recorder.New(fe)
	fwd := forwarder.New(forwarder.NewHTTPClient())
	d := New(reg, probe.New(probe.Rules{UserAgentSubstrings: []string{"CensysInspect"}}), nil, fwd, rec, defaultUpstream, testLogger())
	engine := gin.New()
	d.Routes(engine)
	return engine
}

func hostOf(t *testing.T, server *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return u.Host
}

// Scenario 1: dynamic dispatch with Bearer auth passthrough (spec.md §8.1).
func TestDynamicDispatch_BearerAuthPassthrough(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","choices":[{"message":{"role":"assistant","content":"hi back"}}]}`))
	}))
	defer upstream.Close()

	host := hostOf(t, upstream)
	reg := registry.New([]registry.Entry{{Host: host, AuthScheme: registry.AuthOpenAI, HTTPS: false}})
	fe := &fakeEnqueuer{}
	engine := newTestEngine(t, reg, fe, "")

	body := `{"model":"deepseek-chat","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/"+host+"/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer sk-test-123")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Bearer sk-test-123", gotAuth)
	require.Len(t, fe.records, 1, "exactly one record per successful chat request")
	assert.Equal(t, host, fe.records[0].SourceProvider)
}

// Scenario 2: path-based anthropic scheme inference for an unpinned registry
// entry (spec.md §8.2, §4.1).
func TestDynamicDispatch_PathBasedAnthropicScheme(t *testing.T) {
	var gotAPIKey, gotVersion string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		assert.Equal(t, "/anthropic/v1/messages", r.URL.Path)
		w.Write([]byte(`{"role":"assistant","content":[{"type":"text","text":"hi"}]}`))
	}))
	defer upstream.Close()

	host := hostOf(t, upstream)
	reg := registry.New([]registry.Entry{{Host: host, HTTPS: false}}) // unpinned scheme
	fe := &fakeEnqueuer{}
	engine := newTestEngine(t, reg, fe, "")

	body := `{"model":"claude-3-opus","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/"+host+"/anthropic/v1/messages", strings.NewReader(body))
	req.Header.Set("x-api-key", "sk-ant-456")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "sk-ant-456", gotAPIKey)
	assert.Equal(t, "2023-06-01", gotVersion)
	require.Len(t, fe.records, 1)
	assert.Equal(t, "anthropic", fe.records[0].AuthScheme)
}

// redirectTransport rewrites every outbound request to target, regardless
// of its original host — lets a test stand up one httptest.Server for the
// literal googleUpstreamHost constant without needing real DNS for
// generativelanguage.googleapis.com.
type redirectTransport struct{ target string }

func (t redirectTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.target
	return http.DefaultTransport.RoundTrip(req)
}

// Scenario 3: compat chat facade, non-streaming gemini-* model, transcoded
// both ways (spec.md §8.3).
func TestCompatChat_GeminiNonStreamingTranscoded(t *testing.T) {
	var gotPath string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		assert.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello from gemini"}]},"finishReason":"STOP"}]}`))
	}))
	defer upstream.Close()

	reg := registry.New([]registry.Entry{{Host: googleUpstreamHost, AuthScheme: registry.AuthGoogle, HTTPS: false}})
	fe := &fakeEnqueuer{}
	rec := recorder.New(fe)
	fwd := forwarder.New(&http.Client{Transport: redirectTransport{target: hostOf(t, upstream)}})
	d := New(reg, probe.New(probe.Rules{}), nil, fwd, rec, "", testLogger())
	engine := gin.New()
	d.Routes(engine)

	body := `{"model":"gemini-1.5-pro","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer test-key")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, gotPath, ":generateContent")

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	choices := resp["choices"].([]interface{})
	require.Len(t, choices, 1)
	msg := choices[0].(map[string]interface{})["message"].(map[string]interface{})
	assert.Equal(t, "hello from gemini", msg["content"])
	require.Len(t, fe.records, 1)
}

// Scenario 5: blocked user-agent -> 403 before any body is read (spec.md §8.5).
func TestProbeFilter_BlockedUserAgent(t *testing.T) {
	reg := registry.New(nil)
	fe := &fakeEnqueuer{}
	engine := newTestEngine(t, reg, fe, "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("User-Agent", "CensysInspect/1.1")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, fe.records)
}

// Scenario 6: unlisted host -> 403, no upstream connection attempted
// (spec.md §8.6, the SSRF boundary).
func TestDynamicDispatch_UnlistedHostRejected(t *testing.T) {
	reg := registry.New(nil) // nothing whitelisted
	fe := &fakeEnqueuer{}
	engine := newTestEngine(t, reg, fe, "")

	body := `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/evil.example.com/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Empty(t, fe.records, "a rejected host must never be recorded")
}

// Oversized body -> 413, no upstream connection attempted.
func TestBodyLimit_OversizedRequestRejected(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream must not be contacted for an oversized body")
	}))
	defer upstream.Close()

	host := hostOf(t, upstream)
	reg := registry.New([]registry.Entry{{Host: host, AuthScheme: registry.AuthOpenAI, HTTPS: false}})
	fe := &fakeEnqueuer{}
	engine := newTestEngine(t, reg, fe, "")

	req := httptest.NewRequest(http.MethodPost, "/"+host+"/v1/chat/completions", strings.NewReader("x"))
	req.ContentLength = MaxBodyBytes + 1
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Empty(t, fe.records)
}

package dispatcher

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"llmgw/internal/authtranslate"
	"llmgw/internal/forwarder"
	"llmgw/internal/registry"
	"llmgw/internal/transcoder"
)

// googleUpstreamHost is the conventional Google host the Gemini branch of
// the compatibility facade targets. It must still be present in the
// registry (an operator can remove it to disable the facade's Gemini leg
// entirely) — absence is a 400, the same policy spec.md §9 mandates for a
// missing default OpenAI upstream.
const googleUpstreamHost = "generativelanguage.googleapis.com"

// handleCompatChat implements the /v1/chat/completions leg of the
// OpenAI-compatible facade (spec.md §4.1 step 3, §6).
func (d *Dispatcher) handleCompatChat(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		clientError(c, http.StatusRequestEntityTooLarge, "request body exceeds 8MiB limit", "invalid_request_error")
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		clientError(c, http.StatusBadRequest, "missing required field: model", "invalid_request_error")
		return
	}

	if strings.HasPrefix(model, "gemini-") {
		d.dispatchGeminiChat(c, body, model)
		return
	}
	d.dispatchDefaultOpenAIChat(c, body, model, "/v1/chat/completions", recordKindOpenAIChat)
}

// handleCompatEmbeddings implements the /v1/embeddings leg. Google is not a
// documented transcoding target for embeddings (spec.md §4.5 only defines
// the chat-completions transcoder), so a gemini-* model here still routes
// to the Google upstream but without response reshaping — the raw
// embedContent reply is returned as-is and recorded as non-chat.
func (d *Dispatcher) handleCompatEmbeddings(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		clientError(c, http.StatusRequestEntityTooLarge, "request body exceeds 8MiB limit", "invalid_request_error")
		return
	}

	model := gjson.GetBytes(body, "model").String()
	if model == "" {
		clientError(c, http.StatusBadRequest, "missing required field: model", "invalid_request_error")
		return
	}

	if strings.HasPrefix(model, "gemini-") {
		d.dispatchRawGoogle(c, body, model, "embedContent")
		return
	}
	d.dispatchDefaultOpenAIChat(c, body, model, "/v1/embeddings", recordKindNonChat)
}

// dispatchDefaultOpenAIChat forwards verbatim to the configured default
// OpenAI-compatible upstream. Absence of a configured default is a hard
// 400, never a silent fall-through to OpenAI itself (spec.md §9).
func (d *Dispatcher) dispatchDefaultOpenAIChat(c *gin.Context, body []byte, model, path string, kind recordKind) {
	if d.defaultOpenAIUpstream == "" {
		clientError(c, http.StatusBadRequest, "no default upstream configured for non-Gemini model", "invalid_request_error")
		return
	}
	upstream, found := d.registry.Lookup(d.defaultOpenAIUpstream)
	if !found {
		clientError(c, http.StatusBadRequest, "configured default OpenAI upstream is not in the registry", "invalid_request_error")
		return
	}

	scheme := resolveAuthScheme(upstream.AuthScheme, path)
	token := authtranslate.ExtractToken(c.Request.Header)
	translated := authtranslate.Translate(scheme, token, c.Request.Header)

	reqURL := url.URL{Scheme: upstream.Scheme(), Host: upstream.Host, Path: path}
	isStreaming := gjson.GetBytes(body, "stream").Bool()

	d.forwardAndRecord(c, forwardParams{
		method:         http.MethodPost,
		url:            reqURL.String(),
		header:         translated.Header,
		body:           body,
		isStreaming:    isStreaming,
		sourceProvider: upstream.Host,
		authScheme:     string(scheme),
		model:          model,
		recordKind:     kind,
	})
}

// dispatchGeminiChat transcodes an OpenAI-shaped chat request to Google's
// generateContent form, forwards it, and transcodes the reply back
// (spec.md §4.5's request/response rules, §8 scenarios 3-4).
func (d *Dispatcher) dispatchGeminiChat(c *gin.Context, body []byte, model string) {
	upstream, found := d.registry.Lookup(googleUpstreamHost)
	if !found {
		clientError(c, http.StatusBadRequest, "no Google upstream configured", "invalid_request_error")
		return
	}

	var req transcoder.ChatCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		clientError(c, http.StatusBadRequest, "malformed chat completion request", "invalid_request_error")
		return
	}

	geminiReq := transcoder.ToGoogleRequest(req)
	path, isStream := transcoder.UpstreamPath(model, req.Stream)
	geminiBody, err := json.Marshal(geminiReq)
	if err != nil {
		clientError(c, http.StatusInternalServerError, "failed to build upstream request", "internal_error")
		return
	}

	token := authtranslate.ExtractToken(c.Request.Header)
	translated := authtranslate.Translate(registry.AuthGoogle, token, c.Request.Header)
	query := translated.QueryExtra
	if query == nil {
		query = url.Values{}
	}
	if isStream {
		query.Set("alt", "sse")
	}

	reqURL := url.URL{Scheme: upstream.Scheme(), Host: upstream.Host, Path: path, RawQuery: query.Encode()}

	httpReq, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, reqURL.String(), strings.NewReader(string(geminiBody)))
	if err != nil {
		clientError(c, http.StatusInternalServerError, "failed to build upstream request", "internal_error")
		return
	}
	httpReq.Header = translated.Header

	if isStream {
		d.relayGeminiStream(c, httpReq, body, model)
		return
	}
	d.relayGeminiOnce(c, httpReq, body, model)
}

func (d *Dispatcher) relayGeminiOnce(c *gin.Context, httpReq *http.Request, originalBody []byte, model string) {
	resp, err := d.fwd.Do(httpReq)
	if err != nil {
		status := http.StatusBadGateway
		c.JSON(status, errorBody(err.Error(), "upstream_error"))
		d.recordOutcome(forwardParams{body: originalBody, model: model, recordKind: recordKindOpenAIChat, sourceProvider: googleUpstreamHost, authScheme: string(registry.AuthGoogle)}, status, errorBodyBytes(err.Error(), "upstream_error"), false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _, _ := forwarder.RelayWhole(resp, discardWriter{})
		forwarder.MirrorHeaders(resp, c.Writer)
		c.Writer.Write(raw)
		d.recordOutcome(forwardParams{body: originalBody, model: model, recordKind: recordKindOpenAIChat, sourceProvider: googleUpstreamHost, authScheme: string(registry.AuthGoogle)}, resp.StatusCode, raw, false)
		return
	}

	raw, _, err := forwarder.RelayWhole(resp, discardWriter{})
	if err != nil {
		return
	}
	var gResp transcoder.GeminiResponse
	if err := json.Unmarshal(raw, &gResp); err != nil {
		clientError(c, http.StatusBadGateway, "malformed upstream response", "upstream_error")
		return
	}
	openaiResp := transcoder.ToOpenAIResponse(gResp, model)
	c.JSON(http.StatusOK, openaiResp)

	respJSON, _ := json.Marshal(openaiResp)
	d.recordOutcome(forwardParams{body: originalBody, model: model, recordKind: recordKindOpenAIChat, sourceProvider: googleUpstreamHost, authScheme: string(registry.AuthGoogle)}, http.StatusOK, respJSON, false)
}

func (d *Dispatcher) relayGeminiStream(c *gin.Context, httpReq *http.Request, originalBody []byte, model string) {
	resp, err := d.fwd.Do(httpReq)
	if err != nil {
		status := http.StatusBadGateway
		c.JSON(status, errorBody(err.Error(), "upstream_error"))
		d.recordOutcome(forwardParams{body: originalBody, model: model, recordKind: recordKindOpenAIChat, sourceProvider: googleUpstreamHost, authScheme: string(registry.AuthGoogle)}, status, errorBodyBytes(err.Error(), "upstream_error"), false)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _, _ := forwarder.RelayWhole(resp, discardWriter{})
		forwarder.MirrorHeaders(resp, c.Writer)
		c.Writer.Write(raw)
		d.recordOutcome(forwardParams{body: originalBody, model: model, recordKind: recordKindOpenAIChat, sourceProvider: googleUpstreamHost, authScheme: string(registry.AuthGoogle)}, resp.StatusCode, raw, false)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	scanner := transcoder.NewGeminiStreamScanner(resp.Body, model)
	var text strings.Builder
	var toolCalls []transcoder.ToolCall
	finish := ""

	for scanner.Scan() {
		frame := scanner.Bytes()
		if _, err := c.Writer.Write(frame); err != nil {
			return
		}
		c.Writer.Flush()

		var chunk transcoder.ChatCompletionResponse
		if json.Unmarshal(stripSSEPrefix(frame), &chunk) == nil && len(chunk.Choices) > 0 {
			if chunk.Choices[0].Delta != nil {
				text.WriteString(chunk.Choices[0].Delta.Content.StringContent())
				toolCalls = append(toolCalls, chunk.Choices[0].Delta.ToolCalls...)
			}
			if chunk.Choices[0].FinishReason != "" {
				finish = chunk.Choices[0].FinishReason
			}
		}
	}
	if err := scanner.Err(); err != nil {
		d.logger.WithError(err).Warn("dispatcher: gemini stream interrupted")
		return
	}
	c.Writer.Write([]byte(transcoder.DoneFrame))
	c.Writer.Flush()

	content := transcoder.TextContent(text.String())
	if len(toolCalls) > 0 {
		content = transcoder.NullContent()
	}
	final := transcoder.ChatCompletionResponse{
		Model: model,
		Choices: []transcoder.ChatCompletionChoice{{
			Index:        0,
			Message:      &transcoder.ChatMessage{Role: "assistant", Content: content, ToolCalls: toolCalls},
			FinishReason: finish,
		}},
	}
	respJSON, _ := json.Marshal(final)
	d.recordOutcome(forwardParams{body: originalBody, model: model, recordKind: recordKindOpenAIChat, sourceProvider: googleUpstreamHost, authScheme: string(registry.AuthGoogle)}, http.StatusOK, respJSON, false)
}

// dispatchRawGoogle forwards an embeddings-style request to Google without
// OpenAI<->Gemini transcoding, per handleCompatEmbeddings' documented
// narrower scope.
func (d *Dispatcher) dispatchRawGoogle(c *gin.Context, body []byte, model, operation string) {
	upstream, found := d.registry.Lookup(googleUpstreamHost)
	if !found {
		clientError(c, http.StatusBadRequest, "no Google upstream configured", "invalid_request_error")
		return
	}

	token := authtranslate.ExtractToken(c.Request.Header)
	translated := authtranslate.Translate(registry.AuthGoogle, token, c.Request.Header)

	path := "/v1beta/models/" + model + ":" + operation
	reqURL := url.URL{Scheme: upstream.Scheme(), Host: upstream.Host, Path: path, RawQuery: translated.QueryExtra.Encode()}

	d.forwardAndRecord(c, forwardParams{
		method:         http.MethodPost,
		url:            reqURL.String(),
		header:         translated.Header,
		body:           body,
		isStreaming:    false,
		sourceProvider: upstream.Host,
		authScheme:     string(registry.AuthGoogle),
		model:          model,
		recordKind:     recordKindNonChat,
	})
}

func stripSSEPrefix(frame []byte) []byte {
	s := strings.TrimPrefix(string(frame), "data: ")
	return []byte(strings.TrimSuffix(s, "\n\n"))
}

// discardWriter lets forwarder.RelayWhole tee the raw upstream bytes
// without writing them to the client — used when the response must be
// transcoded before anything reaches the caller.
type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

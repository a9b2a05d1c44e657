// Package recorder canonicalizes an observed (request, upstream-response)
// pair into the ShareGPT-form chat-log record and enqueues it for
// persistence (spec.md §4.7). It never blocks the forwarder path: building
// a Record is pure in-memory work, and Enqueue hands off to a bounded,
// non-blocking queue.
package recorder

import (
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	"llmgw/internal/store"
)

// Turn is one entry of a canonicalized conversation.
type Turn struct {
	From  string `json:"from"`
	Value string `json:"value"`
	Loss  *bool  `json:"loss,omitempty"`
}

// ToolCallRecord is a normalized function/tool invocation.
type ToolCallRecord struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Enqueuer is the persistence side of the recorder; store.Writer implements
// it, kept as an interface here so this package never imports gorm directly
// (it imports store only for the Record type).
type Enqueuer interface {
	Enqueue(r *store.Record)
}

// Recorder builds and enqueues canonical records.
type Recorder struct {
	enqueue Enqueuer
}

func New(enqueue Enqueuer) *Recorder {
	return &Recorder{enqueue: enqueue}
}

// Observation is everything the dispatcher has in hand once a request
// completes, in the shape the canonicalizers below need.
type Observation struct {
	SourceProvider string
	AuthScheme     string
	Model          string
	RawRequest     []byte
	RawResponse    []byte
	Truncated      bool
}

func falsePtr() *bool { f := false; return &f }

// RecordOpenAIChat canonicalizes an OpenAI-shaped chat request/response
// pair, per spec.md §4.7.
func (r *Recorder) RecordOpenAIChat(obs Observation) {
	req := gjson.ParseBytes(obs.RawRequest)
	resp := gjson.ParseBytes(obs.RawResponse)

	var conversations []Turn
	for _, m := range req.Get("messages").Array() {
		from := roleToFrom(m.Get("role").String())
		value := messageText(m)
		turn := Turn{From: from, Value: value}
		if from == "tool" {
			turn.From = "tool"
			turn.Loss = falsePtr()
		}
		conversations = append(conversations, turn)
	}

	assistantText := ""
	var toolCalls []ToolCallRecord
	msg := resp.Get("choices.0.message")
	if msg.Exists() {
		assistantText = msg.Get("content").String()
		for _, tc := range msg.Get("tool_calls").Array() {
			toolCalls = append(toolCalls, ToolCallRecord{
				Name:      tc.Get("function.name").String(),
				Arguments: tc.Get("function.arguments").String(),
			})
		}
	}
	conversations = append(conversations, Turn{From: "gpt", Value: assistantText})

	toolsJSON := ""
	if tools := req.Get("tools"); tools.Exists() {
		toolsJSON = tools.Raw
	}

	r.push(obs, conversations, toolsJSON, toolCalls)
}

// RecordAnthropicMessages canonicalizes an Anthropic /v1/messages
// request/response pair onto the same canonical shape, treating
// role:"assistant" as gpt and text content blocks as the turn value;
// tool_use blocks become tool_calls.
func (r *Recorder) RecordAnthropicMessages(obs Observation) {
	req := gjson.ParseBytes(obs.RawRequest)
	resp := gjson.ParseBytes(obs.RawResponse)

	var conversations []Turn
	if sys := req.Get("system"); sys.Exists() && sys.String() != "" {
		conversations = append(conversations, Turn{From: "system", Value: sys.String()})
	}
	for _, m := range req.Get("messages").Array() {
		from := roleToFrom(m.Get("role").String())
		conversations = append(conversations, Turn{From: from, Value: claudeContentText(m.Get("content"))})
	}

	var toolCalls []ToolCallRecord
	assistantText := ""
	for _, block := range resp.Get("content").Array() {
		switch block.Get("type").String() {
		case "text":
			assistantText += block.Get("text").String()
		case "tool_use":
			argsJSON, _ := json.Marshal(block.Get("input").Value())
			toolCalls = append(toolCalls, ToolCallRecord{
				Name:      block.Get("name").String(),
				Arguments: string(argsJSON),
			})
		}
	}
	conversations = append(conversations, Turn{From: "gpt", Value: assistantText})

	toolsJSON := ""
	if tools := req.Get("tools"); tools.Exists() {
		toolsJSON = tools.Raw
	}

	r.push(obs, conversations, toolsJSON, toolCalls)
}

// RecordNonChat handles embeddings/rerank and any other non-chat shape:
// conversations stays empty and only the raw blobs are preserved.
func (r *Recorder) RecordNonChat(obs Observation) {
	r.push(obs, nil, "", nil)
}

func (r *Recorder) push(obs Observation, conversations []Turn, toolsJSON string, toolCalls []ToolCallRecord) {
	convJSON, _ := json.Marshal(conversations)
	if conversations == nil {
		convJSON = []byte("[]")
	}
	toolCallsJSON, _ := json.Marshal(toolCalls)
	if toolCalls == nil {
		toolCallsJSON = []byte("[]")
	}

	rec := &store.Record{
		CreatedAt:      time.Now(),
		Model:          obs.Model,
		SourceProvider: obs.SourceProvider,
		AuthScheme:     obs.AuthScheme,
		Conversations:  string(convJSON),
		Tools:          toolsJSON,
		ToolCalls:      string(toolCallsJSON),
		RawRequest:     string(obs.RawRequest),
		RawResponse:    string(obs.RawResponse),
		Truncated:      obs.Truncated,
	}
	r.enqueue.Enqueue(rec)
}

func roleToFrom(role string) string {
	switch role {
	case "assistant":
		return "gpt"
	case "system":
		return "system"
	case "tool":
		return "tool"
	default:
		return "human"
	}
}

// messageText flattens an OpenAI message's content field (string or
// multimodal parts array) down to its text.
func messageText(m gjson.Result) string {
	content := m.Get("content")
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		out := ""
		for _, part := range content.Array() {
			if part.Get("type").String() == "text" {
				if out != "" {
					out += " "
				}
				out += part.Get("text").String()
			}
		}
		return out
	}
	return ""
}

// claudeContentText flattens an Anthropic message's content field (string
// or content-block array) down to its text, concatenating "text" blocks.
func claudeContentText(content gjson.Result) string {
	if content.Type == gjson.String {
		return content.String()
	}
	if content.IsArray() {
		out := ""
		for _, block := range content.Array() {
			if block.Get("type").String() == "text" {
				if out != "" {
					out += " "
				}
				out += block.Get("text").String()
			}
		}
		return out
	}
	return ""
}

// Package transcoder implements the bi-directional OpenAI chat-completions
// <-> Google generateContent translation described in spec.md §4.5, in both
// one-shot and streaming modes.
//
// Per spec.md §9's design note, message content is modeled as a tagged
// variant (Text or a list of Parts) rather than a bare interface{}, so
// decoding is tolerant of either OpenAI wire shape while staying
// statically typed.
package transcoder

import (
	"encoding/json"
	"fmt"
)

// ChatCompletionRequest is the inbound OpenAI-compatible request body.
type ChatCompletionRequest struct {
	Model         string         `json:"model"`
	Messages      []ChatMessage  `json:"messages"`
	Stream        bool           `json:"stream,omitempty"`
	Temperature   *float64       `json:"temperature,omitempty"`
	TopP          *float64       `json:"top_p,omitempty"`
	MaxTokens     *int           `json:"max_tokens,omitempty"`
	Stop          *StopSequences `json:"stop,omitempty"`
	Tools         []Tool         `json:"tools,omitempty"`
	StreamOptions *StreamOptions `json:"stream_options,omitempty"`
}

// StreamOptions mirrors OpenAI's stream_options object.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// StopSequences accepts either a single string or an array of strings, the
// two shapes OpenAI allows for "stop".
type StopSequences struct {
	values []string
}

func (s *StopSequences) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		s.values = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("stop: expected string or []string: %w", err)
	}
	s.values = many
	return nil
}

func (s *StopSequences) MarshalJSON() ([]byte, error) {
	if s == nil || len(s.values) == 0 {
		return []byte("null"), nil
	}
	if len(s.values) == 1 {
		return json.Marshal(s.values[0])
	}
	return json.Marshal(s.values)
}

// Values returns the stop sequences as a slice, nil-safe.
func (s *StopSequences) Values() []string {
	if s == nil {
		return nil
	}
	return s.values
}

// ChatMessage is one OpenAI chat message. Content is a tagged variant: either
// plain text or a list of multimodal Parts.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    Content    `json:"content"`
	Name       string     `json:"name,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}

// Content is ChatMessage's tagged-variant field: Text(str) | Parts(Part[]) |
// null. The null state is distinct from an empty string: spec.md §4.5
// requires a tool-calling assistant message to marshal "content" as JSON
// null, not "".
type Content struct {
	Text    string
	Parts   []Part
	isParts bool
	isNull  bool
}

func TextContent(s string) Content { return Content{Text: s} }

// NullContent returns a Content that marshals to JSON null — used for an
// assistant message whose reply is entirely tool calls (spec.md §4.5).
func NullContent() Content { return Content{isNull: true} }

func (c Content) IsParts() bool { return c.isParts }

// StringContent flattens Content down to plain text, concatenating the text
// parts of a multimodal message — grounded in the teacher's
// ChatMessage.StringContent helper.
func (c Content) StringContent() string {
	if c.isNull {
		return ""
	}
	if !c.isParts {
		return c.Text
	}
	out := ""
	for _, p := range c.Parts {
		if p.Type == "text" {
			if out != "" {
				out += " "
			}
			out += p.Text
		}
	}
	return out
}

func (c *Content) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*c = Content{isNull: true}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = s
		c.isParts = false
		return nil
	}
	var parts []Part
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("content: expected string, []part, or null: %w", err)
	}
	c.Parts = parts
	c.isParts = true
	return nil
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.isNull {
		return []byte("null"), nil
	}
	if !c.isParts {
		return json.Marshal(c.Text)
	}
	return json.Marshal(c.Parts)
}

// Part is one element of a multimodal message's content array.
type Part struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Tool is an OpenAI-style function tool declaration.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// ToolCall is an assistant-emitted function invocation.
type ToolCall struct {
	Index    *int         `json:"index,omitempty"`
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatCompletionResponse is the OpenAI-shaped response envelope, used both
// for the non-streaming response and the per-frame streaming chunk.
type ChatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []ChatCompletionChoice `json:"choices"`
	Usage   *ChatCompletionUsage   `json:"usage,omitempty"`
}

type ChatCompletionChoice struct {
	Index        int          `json:"index"`
	Message      *ChatMessage `json:"message,omitempty"`
	Delta        *ChatMessage `json:"delta,omitempty"`
	FinishReason string       `json:"finish_reason,omitempty"`
}

type ChatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

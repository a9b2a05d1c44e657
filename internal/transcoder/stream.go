package transcoder

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// GeminiStreamScanner reads one Google SSE frame (a "data: {...}" line) at a
// time and yields the equivalent OpenAI chat.completion.chunk SSE frame.
// Grounded in the teacher's core/adapter.GeminiStreamScanner, stripped of
// its grounding-metadata/search-citation handling (no longer in scope) and
// its package-global request-id minting (replaced with google/uuid).
type GeminiStreamScanner struct {
	scanner     *bufio.Scanner
	requestID   string
	created     int64
	model       string
	current     []byte
	err         error
	hasSentRole bool
	done        bool
}

func NewGeminiStreamScanner(r io.Reader, model string) *GeminiStreamScanner {
	return &GeminiStreamScanner{
		scanner:   bufio.NewScanner(r),
		requestID: "chatcmpl-" + uuid.NewString(),
		created:   time.Now().Unix(),
		model:     model,
	}
}

// Scan advances to the next convertible frame. It returns false once the
// upstream stream is exhausted or a terminal [DONE] line is seen; callers
// are responsible for appending their own terminal DONE frame (the Gemini
// wire format does not send one).
func (s *GeminiStreamScanner) Scan() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if strings.TrimSpace(payload) == "[DONE]" {
			s.done = true
			return false
		}

		var resp GeminiResponse
		if err := json.Unmarshal([]byte(payload), &resp); err != nil {
			continue
		}

		if frame, ok := s.convert(resp); ok {
			s.current = frame
			return true
		}
	}
	if err := s.scanner.Err(); err != nil {
		s.err = err
	}
	return false
}

func (s *GeminiStreamScanner) convert(resp GeminiResponse) ([]byte, bool) {
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		var text string
		var toolCalls []ToolCall
		for _, part := range cand.Content.Parts {
			text += part.Text
			if part.FunctionCall != nil {
				argsBytes, _ := json.Marshal(part.FunctionCall.Args)
				toolCalls = append(toolCalls, ToolCall{
					ID:   "call_" + uuid.NewString(),
					Type: "function",
					Function: ToolCallFunc{
						Name:      part.FunctionCall.Name,
						Arguments: string(argsBytes),
					},
				})
			}
		}

		if text != "" || len(toolCalls) > 0 {
			delta := &ChatMessage{Content: TextContent(text)}
			if !s.hasSentRole {
				delta.Role = "assistant"
				s.hasSentRole = true
			}
			if len(toolCalls) > 0 {
				delta.ToolCalls = toolCalls
			}
			chunk := ChatCompletionResponse{
				ID:      s.requestID,
				Object:  "chat.completion.chunk",
				Created: s.created,
				Model:   s.model,
				Choices: []ChatCompletionChoice{{Index: 0, Delta: delta}},
			}
			if reason := mapFinishReason(cand.FinishReason); reason != "" {
				chunk.Choices[0].FinishReason = reason
			}
			return encodeSSEFrame(chunk), true
		}
	}

	if resp.UsageMetadata != nil {
		chunk := ChatCompletionResponse{
			ID:      s.requestID,
			Object:  "chat.completion.chunk",
			Created: s.created,
			Model:   s.model,
			Choices: []ChatCompletionChoice{},
			Usage: &ChatCompletionUsage{
				PromptTokens:     resp.UsageMetadata.PromptTokenCount,
				CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
				TotalTokens:      resp.UsageMetadata.TotalTokenCount,
			},
		}
		return encodeSSEFrame(chunk), true
	}

	return nil, false
}

func (s *GeminiStreamScanner) Bytes() []byte { return s.current }
func (s *GeminiStreamScanner) Err() error    { return s.err }

func encodeSSEFrame(chunk ChatCompletionResponse) []byte {
	body, _ := json.Marshal(chunk)
	return append(append([]byte("data: "), body...), []byte("\n\n")...)
}

// DoneFrame is the terminal SSE line every OpenAI-compatible streaming
// response ends with.
const DoneFrame = "data: [DONE]\n\n"

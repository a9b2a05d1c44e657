package transcoder

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

var finishReasons = map[string]string{
	"STOP":        "stop",
	"MAX_TOKENS":  "length",
	"SAFETY":      "content_filter",
	"TOOL_USE":    "tool_calls",
}

func mapFinishReason(r string) string {
	if mapped, ok := finishReasons[r]; ok {
		return mapped
	}
	if r == "" {
		return ""
	}
	return "stop"
}

// ToOpenAIResponse wraps a non-streaming Gemini response into an OpenAI
// chat.completion envelope, per spec.md §4.5.
func ToOpenAIResponse(resp GeminiResponse, model string) ChatCompletionResponse {
	out := ChatCompletionResponse{
		ID:      "chatcmpl-" + uuid.NewString(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
	}

	if len(resp.Candidates) == 0 {
		out.Choices = []ChatCompletionChoice{}
		return out
	}

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

	msg := &ChatMessage{Role: "assistant", Content: TextContent(text)}
	finish := mapFinishReason(cand.FinishReason)
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
		msg.Content = NullContent()
		finish = "tool_calls"
	}

	out.Choices = []ChatCompletionChoice{{
		Index:        0,
		Message:      msg,
		FinishReason: finish,
	}}

	if resp.UsageMetadata != nil {
		out.Usage = &ChatCompletionUsage{
			PromptTokens:     resp.UsageMetadata.PromptTokenCount,
			CompletionTokens: resp.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      resp.UsageMetadata.TotalTokenCount,
		}
	}

	return out
}

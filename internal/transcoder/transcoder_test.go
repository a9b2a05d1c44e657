package transcoder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToGoogleRequest_SystemAndRoles(t *testing.T) {
	req := ChatCompletionRequest{
		Model: "gemini-2.0-flash-exp",
		Messages: []ChatMessage{
			{Role: "system", Content: TextContent("be terse")},
			{Role: "user", Content: TextContent("hi")},
			{Role: "assistant", Content: TextContent("hello")},
		},
	}

	out := ToGoogleRequest(req)

	require.NotNil(t, out.SystemInstruction)
	assert.Equal(t, "be terse", out.SystemInstruction.Parts[0].Text)
	require.Len(t, out.Contents, 2)
	assert.Equal(t, "user", out.Contents[0].Role)
	assert.Equal(t, "model", out.Contents[1].Role)
}

func TestToGoogleRequest_MultipleSystemMessagesJoined(t *testing.T) {
	req := ChatCompletionRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: TextContent("a")},
			{Role: "system", Content: TextContent("b")},
			{Role: "user", Content: TextContent("hi")},
		},
	}
	out := ToGoogleRequest(req)
	assert.Equal(t, "a\n\nb", out.SystemInstruction.Parts[0].Text)
}

func TestToGoogleRequest_ToolCallAndToolResponse(t *testing.T) {
	req := ChatCompletionRequest{
		Messages: []ChatMessage{
			{Role: "user", Content: TextContent("what's the weather")},
			{
				Role:    "assistant",
				Content: TextContent(""),
				ToolCalls: []ToolCall{{
					Type:     "function",
					Function: ToolCallFunc{Name: "get_weather", Arguments: `{"city":"nyc"}`},
				}},
			},
			{Role: "tool", Name: "get_weather", Content: TextContent(`{"temp":72}`)},
		},
	}

	out := ToGoogleRequest(req)
	require.Len(t, out.Contents, 3)

	assert.Equal(t, "model", out.Contents[1].Role)
	require.NotNil(t, out.Contents[1].Parts[0].FunctionCall)
	assert.Equal(t, "get_weather", out.Contents[1].Parts[0].FunctionCall.Name)
	assert.Equal(t, "nyc", out.Contents[1].Parts[0].FunctionCall.Args["city"])

	assert.Equal(t, "function", out.Contents[2].Role)
	require.NotNil(t, out.Contents[2].Parts[0].FunctionResponse)
	assert.Equal(t, "get_weather", out.Contents[2].Parts[0].FunctionResponse.Name)
}

func TestToGoogleRequest_SamplingParams(t *testing.T) {
	temp := 0.5
	topP := 0.9
	maxTok := 256
	req := ChatCompletionRequest{
		Messages:    []ChatMessage{{Role: "user", Content: TextContent("hi")}},
		Temperature: &temp,
		TopP:        &topP,
		MaxTokens:   &maxTok,
	}
	require.NoError(t, json.Unmarshal([]byte(`"bye"`), &req.Stop))

	out := ToGoogleRequest(req)
	require.NotNil(t, out.GenerationConfig)
	assert.Equal(t, 0.5, *out.GenerationConfig.Temperature)
	assert.Equal(t, 0.9, *out.GenerationConfig.TopP)
	assert.Equal(t, 256, *out.GenerationConfig.MaxOutputTokens)
	assert.Equal(t, []string{"bye"}, out.GenerationConfig.StopSequences)
}

func TestUpstreamPath(t *testing.T) {
	path, isStream := UpstreamPath("gemini-2.0-flash-exp", false)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash-exp:generateContent", path)
	assert.False(t, isStream)

	path, isStream = UpstreamPath("gemini-2.0-flash-exp", true)
	assert.Equal(t, "/v1beta/models/gemini-2.0-flash-exp:streamGenerateContent", path)
	assert.True(t, isStream)
}

// TestRoundTrip_TextOnly exercises spec.md §8's fidelity invariant: an
// OpenAI request transcoded forward, answered with a synthetic Google
// candidate, transcoded back, must reproduce the candidate text exactly.
func TestRoundTrip_TextOnly(t *testing.T) {
	req := ChatCompletionRequest{
		Model:    "gemini-2.0-flash-exp",
		Messages: []ChatMessage{{Role: "user", Content: TextContent("hi")}},
	}
	_ = ToGoogleRequest(req)

	const candidateText = "hello there, how can I help?"
	synthetic := GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content:      GeminiContent{Role: "model", Parts: []GeminiPart{{Text: candidateText}}},
			FinishReason: "STOP",
		}},
	}

	back := ToOpenAIResponse(synthetic, req.Model)
	require.Len(t, back.Choices, 1)
	require.NotNil(t, back.Choices[0].Message)
	assert.Equal(t, candidateText, back.Choices[0].Message.Content.StringContent())
	assert.Equal(t, "stop", back.Choices[0].FinishReason)
}

// TestRoundTrip_ToolCallArguments exercises spec.md §8's byte-identical
// tool-call-argument invariant.
func TestRoundTrip_ToolCallArguments(t *testing.T) {
	args := map[string]interface{}{"city": "nyc", "unit": "f"}
	synthetic := GeminiResponse{
		Candidates: []GeminiCandidate{{
			Content: GeminiContent{Parts: []GeminiPart{{
				FunctionCall: &GeminiFunctionCall{Name: "get_weather", Args: args},
			}}},
			FinishReason: "TOOL_USE",
		}},
	}

	back := ToOpenAIResponse(synthetic, "gemini-2.0-flash-exp")
	require.Len(t, back.Choices[0].Message.ToolCalls, 1)

	wantJSON, err := json.Marshal(args)
	require.NoError(t, err)

	assert.Equal(t, string(wantJSON), back.Choices[0].Message.ToolCalls[0].Function.Arguments)

	var gotArgs map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(back.Choices[0].Message.ToolCalls[0].Function.Arguments), &gotArgs))
	var wantArgs map[string]interface{}
	require.NoError(t, json.Unmarshal(wantJSON, &wantArgs))
	assert.Equal(t, wantArgs, gotArgs)
	assert.Equal(t, "tool_calls", back.Choices[0].FinishReason)
}

func TestSanitizeJSONSchema(t *testing.T) {
	schema := map[string]interface{}{
		"type":    []interface{}{"string", "null"},
		"default": "x",
		"title":   "Name",
		"properties": map[string]interface{}{
			"nested": map[string]interface{}{
				"type":      "string",
				"minLength": float64(1),
			},
		},
	}
	SanitizeJSONSchema(schema)

	assert.Equal(t, "string", schema["type"])
	_, hasDefault := schema["default"]
	assert.False(t, hasDefault)
	_, hasTitle := schema["title"]
	assert.False(t, hasTitle)

	nested := schema["properties"].(map[string]interface{})["nested"].(map[string]interface{})
	_, hasMinLength := nested["minLength"]
	assert.False(t, hasMinLength)
}

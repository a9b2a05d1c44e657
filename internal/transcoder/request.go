package transcoder

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ToGoogleRequest converts an OpenAI-shaped chat request into a Gemini
// generateContent body, per spec.md §4.5.
func ToGoogleRequest(req ChatCompletionRequest) *GeminiRequest {
	out := &GeminiRequest{Contents: make([]GeminiContent, 0, len(req.Messages))}

	var systemParts []string
	for _, msg := range req.Messages {
		if msg.Role == "system" {
			systemParts = append(systemParts, msg.Content.StringContent())
		}
	}
	if len(systemParts) > 0 {
		out.SystemInstruction = &GeminiContent{
			Parts: []GeminiPart{{Text: strings.Join(systemParts, "\n\n")}},
		}
	}

	for _, msg := range req.Messages {
		if msg.Role == "system" {
			continue
		}
		out.Contents = append(out.Contents, convertMessage(msg))
	}

	if len(req.Tools) > 0 {
		var decls []GeminiFunctionDeclaration
		for _, tool := range req.Tools {
			if tool.Type != "function" {
				continue
			}
			params := tool.Function.Parameters
			SanitizeJSONSchema(params)
			decls = append(decls, GeminiFunctionDeclaration{
				Name:        tool.Function.Name,
				Description: tool.Function.Description,
				Parameters:  params,
			})
		}
		if len(decls) > 0 {
			out.Tools = []GeminiTool{{FunctionDeclarations: decls}}
		}
	}

	cfg := &GeminiConfig{}
	hasCfg := false
	if req.Temperature != nil {
		cfg.Temperature = req.Temperature
		hasCfg = true
	}
	if req.TopP != nil {
		cfg.TopP = req.TopP
		hasCfg = true
	}
	if req.MaxTokens != nil {
		cfg.MaxOutputTokens = req.MaxTokens
		hasCfg = true
	}
	if stops := req.Stop.Values(); len(stops) > 0 {
		cfg.StopSequences = stops
		hasCfg = true
	}
	if hasCfg {
		out.GenerationConfig = cfg
	}

	return out
}

// convertMessage maps one OpenAI message onto its Gemini content entry.
// role mapping: user->user, assistant->model, tool->function.
func convertMessage(msg ChatMessage) GeminiContent {
	role := "user"
	switch msg.Role {
	case "assistant":
		role = "model"
	case "tool":
		role = "function"
	}

	content := GeminiContent{Role: role, Parts: make([]GeminiPart, 0, 1)}

	if msg.Role == "tool" {
		content.Parts = append(content.Parts, GeminiPart{
			FunctionResponse: &GeminiFunctionResponse{
				Name:     msg.Name,
				Response: map[string]interface{}{"result": msg.Content.StringContent()},
			},
		})
		return content
	}

	if !msg.Content.IsParts() {
		if msg.Content.Text != "" {
			content.Parts = append(content.Parts, GeminiPart{Text: msg.Content.Text})
		}
	} else {
		for _, p := range msg.Content.Parts {
			content.Parts = append(content.Parts, convertPart(p))
		}
	}

	for _, tc := range msg.ToolCalls {
		content.Parts = append(content.Parts, GeminiPart{
			FunctionCall: &GeminiFunctionCall{
				Name: tc.Function.Name,
				Args: decodeArgs(tc.Function.Arguments),
			},
		})
	}

	return content
}

func convertPart(p Part) GeminiPart {
	switch p.Type {
	case "text":
		return GeminiPart{Text: p.Text}
	case "image_url":
		if p.ImageURL == nil {
			return GeminiPart{}
		}
		if strings.HasPrefix(p.ImageURL.URL, "data:") {
			if mime, data, ok := splitDataURI(p.ImageURL.URL); ok {
				return GeminiPart{InlineData: &GeminiInlineData{MimeType: mime, Data: data}}
			}
		}
		return GeminiPart{FileData: &GeminiFileData{FileURI: p.ImageURL.URL}}
	default:
		return GeminiPart{Text: p.Text}
	}
}

// splitDataURI splits "data:<mime>;base64,<data>" into its mime type and
// payload.
func splitDataURI(uri string) (mime string, data string, ok bool) {
	rest := strings.TrimPrefix(uri, "data:")
	parts := strings.SplitN(rest, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	mime = strings.TrimSuffix(parts[0], ";base64")
	return mime, parts[1], true
}

func decodeArgs(raw string) map[string]interface{} {
	args := map[string]interface{}{}
	_ = json.Unmarshal([]byte(raw), &args)
	return args
}

// UpstreamPath returns the Gemini generateContent path for model, selecting
// the streaming variant when stream is true, per spec.md §4.5's URL
// selection rule.
func UpstreamPath(model string, stream bool) (path string, streamQuery bool) {
	if stream {
		return fmt.Sprintf("/v1beta/models/%s:streamGenerateContent", model), true
	}
	return fmt.Sprintf("/v1beta/models/%s:generateContent", model), false
}

package transform

import (
	"encoding/json"
	"fmt"
	"strings"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/gemini"
)

// claudeToGeminiRequest translates a Claude messages body into a Gemini
// generateContent body. The Gemini model goes into the URL, so it is returned
// separately.
func claudeToGeminiRequest(body []byte) ([]byte, string, error) {
	var req claude.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse claude request: %v", gateway.ErrTransform, err)
	}

	out := gemini.GenerateRequest{}
	if sys := claudeSystemText(req.System); sys != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: sys}}}
	}
	for _, m := range req.Messages {
		content, err := claudeMessageToGemini(m)
		if err != nil {
			return nil, "", err
		}
		out.Contents = append(out.Contents, content...)
	}

	gc := &gemini.GenerationConfig{
		Temperature:   req.Temperature,
		TopP:          req.TopP,
		TopK:          req.TopK,
		StopSequences: req.StopSequences,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		gc.MaxOutputTokens = &mt
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		budget := req.Thinking.BudgetTokens
		gc.ThinkingConfig = &gemini.ThinkingConfig{IncludeThoughts: true, ThinkingBudget: &budget}
	}
	out.GenerationConfig = gc

	if len(req.Tools) > 0 {
		decls := make([]gemini.FunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, gemini.FunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  sanitizeSchema(t.InputSchema),
			})
		}
		out.Tools = []gemini.Tool{{FunctionDeclarations: decls}}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize gemini request: %v", gateway.ErrTransform, err)
	}
	return b, strings.TrimPrefix(req.Model, "models/"), nil
}

// claudeSystemText flattens a Claude system prompt (string or block array)
// into plain text.
func claudeSystemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claude.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, b := range blocks {
		if b.Type == "text" {
			if sb.Len() > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// claudeMessageToGemini converts one message into Gemini contents. Tool
// results become function-response turns in the user role.
func claudeMessageToGemini(m claude.Message) ([]gemini.Content, error) {
	role := "user"
	if m.Role == "assistant" {
		role = "model"
	}

	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		return []gemini.Content{{Role: role, Parts: []gemini.Part{{Text: text}}}}, nil
	}

	var blocks []claude.ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("%w: parse claude content: %v", gateway.ErrTransform, err)
	}
	var parts []gemini.Part
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, gemini.Part{Text: b.Text})
		case "thinking":
			parts = append(parts, gemini.Part{Text: b.Thinking, Thought: true, ThoughtSignature: b.Signature})
		case "tool_use":
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{
				ID:   b.ID,
				Name: b.Name,
				Args: b.Input,
			}})
		case "tool_result":
			resp, _ := json.Marshal(map[string]json.RawMessage{"result": normalizeToolResult(b.Content)})
			parts = append(parts, gemini.Part{FunctionResponse: &gemini.FunctionResponse{
				ID:       b.ToolUseID,
				Name:     b.ToolUseID,
				Response: resp,
			}})
		case "image":
			if blob := imageSourceToBlob(b.Source); blob != nil {
				parts = append(parts, gemini.Part{InlineData: blob})
			}
		}
	}
	if len(parts) == 0 {
		parts = []gemini.Part{{Text: ""}}
	}
	return []gemini.Content{{Role: role, Parts: parts}}, nil
}

// normalizeToolResult reduces a tool_result content value (string or block
// array) to a JSON value suitable for a functionResponse payload.
func normalizeToolResult(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(`""`)
	}
	var blocks []claude.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			if b.Type == "text" {
				sb.WriteString(b.Text)
			}
		}
		q, _ := json.Marshal(sb.String())
		return q
	}
	return raw
}

// imageSourceToBlob converts a Claude base64 image source to inline data.
func imageSourceToBlob(raw json.RawMessage) *gemini.Blob {
	var src struct {
		Type      string `json:"type"`
		MediaType string `json:"media_type"`
		Data      string `json:"data"`
	}
	if err := json.Unmarshal(raw, &src); err != nil || src.Type != "base64" {
		return nil
	}
	return &gemini.Blob{MimeType: src.MediaType, Data: src.Data}
}

// sanitizeSchema strips JSON-schema fields Gemini rejects.
func sanitizeSchema(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return raw
	}
	delete(m, "$schema")
	delete(m, "additionalProperties")
	b, err := json.Marshal(m)
	if err != nil {
		return raw
	}
	return b
}

// geminiToClaudeResponse translates a Gemini generateContent response into a
// Claude messages response.
func geminiToClaudeResponse(reqModel string, body []byte) ([]byte, error) {
	var resp gemini.GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse gemini response: %v", gateway.ErrTransform, err)
	}

	out := claude.MessagesResponse{
		ID:    newMessageID(),
		Type:  "message",
		Role:  "assistant",
		Model: reqModel,
	}
	sawTool := false
	var finish string
	if len(resp.Candidates) > 0 {
		cand := resp.Candidates[0]
		finish = cand.FinishReason
		if cand.Content != nil {
			for _, p := range cand.Content.Parts {
				out.Content = append(out.Content, geminiPartToClaudeBlock(p, &sawTool))
			}
		}
	}
	if out.Content == nil {
		out.Content = []claude.ContentBlock{}
	}

	stop := mapGeminiFinish(finish, sawTool)
	out.StopReason = &stop

	if u := resp.UsageMetadata; u != nil {
		out.Usage = claude.Usage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
		}
		if u.CachedContentTokenCount > 0 {
			cached := u.CachedContentTokenCount
			out.Usage.CacheReadInputTokens = &cached
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize claude response: %v", gateway.ErrTransform, err)
	}
	return b, nil
}

func geminiPartToClaudeBlock(p gemini.Part, sawTool *bool) claude.ContentBlock {
	switch {
	case p.FunctionCall != nil:
		*sawTool = true
		id := p.FunctionCall.ID
		if id == "" {
			id = newToolID()
		}
		input := p.FunctionCall.Args
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return claude.ContentBlock{Type: "tool_use", ID: id, Name: p.FunctionCall.Name, Input: input}
	case p.Thought:
		return claude.ContentBlock{Type: "thinking", Thinking: p.Text, Signature: p.ThoughtSignature}
	default:
		return claude.ContentBlock{Type: "text", Text: p.Text}
	}
}

func mapGeminiFinish(reason string, sawTool bool) string {
	if sawTool {
		return "tool_use"
	}
	switch reason {
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION", "PROHIBITED_CONTENT", "BLOCKLIST":
		return "refusal"
	default:
		return "end_turn"
	}
}

// geminiToClaudeRequest translates a Gemini generateContent body into a
// Claude messages body. The model comes from the URL.
func geminiToClaudeRequest(model string, body []byte, stream bool) ([]byte, string, error) {
	var req gemini.GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse gemini request: %v", gateway.ErrTransform, err)
	}

	out := claude.MessagesRequest{
		Model:     strings.TrimPrefix(model, "models/"),
		MaxTokens: defaultMaxTokens,
		Stream:    stream,
	}
	if req.SystemInstruction != nil {
		var sb strings.Builder
		for _, p := range req.SystemInstruction.Parts {
			sb.WriteString(p.Text)
		}
		if sb.Len() > 0 {
			sys, _ := json.Marshal(sb.String())
			out.System = sys
		}
	}
	for _, c := range req.Contents {
		out.Messages = append(out.Messages, geminiContentToClaudeMessage(c))
	}
	if gc := req.GenerationConfig; gc != nil {
		out.Temperature = gc.Temperature
		out.TopP = gc.TopP
		out.TopK = gc.TopK
		out.StopSequences = gc.StopSequences
		if gc.MaxOutputTokens != nil {
			out.MaxTokens = *gc.MaxOutputTokens
		}
		if tc := gc.ThinkingConfig; tc != nil && tc.IncludeThoughts {
			out.Thinking = &claude.Thinking{Type: "enabled"}
			if tc.ThinkingBudget != nil {
				out.Thinking.BudgetTokens = *tc.ThinkingBudget
			}
		}
	}
	for _, t := range req.Tools {
		for _, d := range t.FunctionDeclarations {
			out.Tools = append(out.Tools, claude.Tool{
				Name:        d.Name,
				Description: d.Description,
				InputSchema: d.Parameters,
			})
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize claude request: %v", gateway.ErrTransform, err)
	}
	return b, out.Model, nil
}

const defaultMaxTokens = 4096

func geminiContentToClaudeMessage(c gemini.Content) claude.Message {
	role := "user"
	if c.Role == "model" {
		role = "assistant"
	}
	var blocks []claude.ContentBlock
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			id := p.FunctionCall.ID
			if id == "" {
				id = newToolID()
			}
			input := p.FunctionCall.Args
			if len(input) == 0 {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, claude.ContentBlock{Type: "tool_use", ID: id, Name: p.FunctionCall.Name, Input: input})
		case p.FunctionResponse != nil:
			blocks = append(blocks, claude.ContentBlock{
				Type:      "tool_result",
				ToolUseID: functionResponseID(p.FunctionResponse),
				Content:   p.FunctionResponse.Response,
			})
		case p.Thought:
			blocks = append(blocks, claude.ContentBlock{Type: "thinking", Thinking: p.Text, Signature: p.ThoughtSignature})
		case p.InlineData != nil:
			src, _ := json.Marshal(map[string]string{
				"type":       "base64",
				"media_type": p.InlineData.MimeType,
				"data":       p.InlineData.Data,
			})
			blocks = append(blocks, claude.ContentBlock{Type: "image", Source: src})
		default:
			blocks = append(blocks, claude.ContentBlock{Type: "text", Text: p.Text})
		}
	}
	content, _ := json.Marshal(blocks)
	return claude.Message{Role: role, Content: content}
}

func functionResponseID(fr *gemini.FunctionResponse) string {
	if fr.ID != "" {
		return fr.ID
	}
	return fr.Name
}

// claudeToGeminiResponse translates a Claude messages response into a Gemini
// generateContent response.
func claudeToGeminiResponse(body []byte) ([]byte, error) {
	var resp claude.MessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse claude response: %v", gateway.ErrTransform, err)
	}

	var parts []gemini.Part
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			parts = append(parts, gemini.Part{Text: b.Text})
		case "thinking":
			parts = append(parts, gemini.Part{Text: b.Thinking, Thought: true, ThoughtSignature: b.Signature})
		case "tool_use":
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{ID: b.ID, Name: b.Name, Args: b.Input}})
		}
	}

	out := gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: parts},
			FinishReason: mapClaudeStop(resp.StopReason),
		}},
		ModelVersion: resp.Model,
		ResponseID:   resp.ID,
		UsageMetadata: &gemini.UsageMetadata{
			PromptTokenCount:     resp.Usage.InputTokens,
			CandidatesTokenCount: resp.Usage.OutputTokens,
			TotalTokenCount:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}
	if resp.Usage.CacheReadInputTokens != nil {
		out.UsageMetadata.CachedContentTokenCount = *resp.Usage.CacheReadInputTokens
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize gemini response: %v", gateway.ErrTransform, err)
	}
	return b, nil
}

func mapClaudeStop(reason *string) string {
	if reason == nil {
		return "STOP"
	}
	switch *reason {
	case "max_tokens":
		return "MAX_TOKENS"
	case "refusal":
		return "SAFETY"
	default:
		// end_turn, tool_use, stop_sequence
		return "STOP"
	}
}

// --- count_tokens ---

// claudeToGeminiCountRequest translates a Claude count_tokens body into a
// Gemini countTokens body.
func claudeToGeminiCountRequest(body []byte) ([]byte, string, error) {
	var req claude.CountTokensRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse claude count request: %v", gateway.ErrTransform, err)
	}
	var contents []gemini.Content
	for _, m := range req.Messages {
		cs, err := claudeMessageToGemini(m)
		if err != nil {
			return nil, "", err
		}
		contents = append(contents, cs...)
	}
	if sys := claudeSystemText(req.System); sys != "" {
		contents = append([]gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: sys}}}}, contents...)
	}
	b, err := json.Marshal(gemini.CountTokensRequest{Contents: contents})
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize gemini count request: %v", gateway.ErrTransform, err)
	}
	return b, strings.TrimPrefix(req.Model, "models/"), nil
}

func geminiToClaudeCountResponse(body []byte) ([]byte, error) {
	var resp gemini.CountTokensResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse gemini count response: %v", gateway.ErrTransform, err)
	}
	return json.Marshal(claude.CountTokensResponse{InputTokens: resp.TotalTokens})
}

// geminiToClaudeCountRequest translates a Gemini countTokens body into a
// Claude count_tokens body.
func geminiToClaudeCountRequest(model string, body []byte) ([]byte, string, error) {
	var req gemini.CountTokensRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse gemini count request: %v", gateway.ErrTransform, err)
	}
	contents := req.Contents
	if req.GenerateContentRequest != nil {
		contents = req.GenerateContentRequest.Contents
	}
	out := claude.CountTokensRequest{Model: strings.TrimPrefix(model, "models/")}
	for _, c := range contents {
		out.Messages = append(out.Messages, geminiContentToClaudeMessage(c))
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize claude count request: %v", gateway.ErrTransform, err)
	}
	return b, out.Model, nil
}

func claudeToGeminiCountResponse(body []byte) ([]byte, error) {
	var resp claude.CountTokensResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse claude count response: %v", gateway.ErrTransform, err)
	}
	return json.Marshal(gemini.CountTokensResponse{TotalTokens: resp.InputTokens})
}

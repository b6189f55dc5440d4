package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
)

// geminiToResponsesRequest translates a Gemini generateContent body into an
// OpenAI responses body.
func geminiToResponsesRequest(model string, body []byte, stream bool) ([]byte, string, error) {
	var req gemini.GenerateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse gemini request: %v", gateway.ErrTransform, err)
	}

	out := openai.ResponsesRequest{
		Model:  strings.TrimPrefix(model, "models/"),
		Stream: stream,
	}
	if req.SystemInstruction != nil {
		var sb strings.Builder
		for _, p := range req.SystemInstruction.Parts {
			sb.WriteString(p.Text)
		}
		out.Instructions = sb.String()
	}
	if gc := req.GenerationConfig; gc != nil {
		out.Temperature = gc.Temperature
		out.TopP = gc.TopP
		out.MaxOutputTokens = gc.MaxOutputTokens
	}

	var items []openai.InputItem
	for _, c := range req.Contents {
		items = append(items, geminiContentToInputItems(c)...)
	}
	input, err := json.Marshal(items)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize responses input: %v", gateway.ErrTransform, err)
	}
	out.Input = input

	var decls []map[string]any
	for _, t := range req.Tools {
		for _, d := range t.FunctionDeclarations {
			decls = append(decls, map[string]any{
				"type":        "function",
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.Parameters,
			})
		}
	}
	if len(decls) > 0 {
		raw, _ := json.Marshal(decls)
		out.Tools = raw
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize responses request: %v", gateway.ErrTransform, err)
	}
	return b, out.Model, nil
}

func geminiContentToInputItems(c gemini.Content) []openai.InputItem {
	role := "user"
	partType := "input_text"
	if c.Role == "model" {
		role = "assistant"
		partType = "output_text"
	}

	var items []openai.InputItem
	var parts []openai.ContentPart
	flush := func() {
		if len(parts) == 0 {
			return
		}
		raw, _ := json.Marshal(parts)
		items = append(items, openai.InputItem{Type: "message", Role: role, Content: raw})
		parts = nil
	}
	for _, p := range c.Parts {
		switch {
		case p.FunctionCall != nil:
			flush()
			callID := p.FunctionCall.ID
			if callID == "" {
				callID = newCallID()
			}
			items = append(items, openai.InputItem{
				Type:      "function_call",
				CallID:    callID,
				Name:      p.FunctionCall.Name,
				Arguments: string(p.FunctionCall.Args),
			})
		case p.FunctionResponse != nil:
			flush()
			items = append(items, openai.InputItem{
				Type:   "function_call_output",
				CallID: functionResponseID(p.FunctionResponse),
				Output: string(p.FunctionResponse.Response),
			})
		case p.Thought:
			// Thought text is not replayable through the responses input.
		default:
			parts = append(parts, openai.ContentPart{Type: partType, Text: p.Text})
		}
	}
	flush()
	return items
}

// responsesToGeminiResponse translates a unary responses result into a Gemini
// generateContent response.
func responsesToGeminiResponse(body []byte) ([]byte, error) {
	var resp openai.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse responses result: %v", gateway.ErrTransform, err)
	}

	var parts []gemini.Part
	for _, item := range resp.Output {
		switch item.Type {
		case "reasoning":
			for _, s := range item.Summary {
				parts = append(parts, gemini.Part{Text: s.Text, Thought: true})
			}
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					parts = append(parts, gemini.Part{Text: c.Text})
				}
			}
		case "function_call":
			parts = append(parts, gemini.Part{FunctionCall: &gemini.FunctionCall{
				ID:   item.CallID,
				Name: item.Name,
				Args: json.RawMessage(item.Arguments),
			}})
		}
	}

	finish := "STOP"
	if resp.Status == "incomplete" {
		finish = "MAX_TOKENS"
	}
	out := gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: parts},
			FinishReason: finish,
		}},
		ModelVersion: resp.Model,
		ResponseID:   resp.ID,
	}
	if u := resp.Usage; u != nil {
		out.UsageMetadata = &gemini.UsageMetadata{
			PromptTokenCount:     u.InputTokens,
			CandidatesTokenCount: u.OutputTokens,
			TotalTokenCount:      u.TotalTokens,
		}
		if u.InputTokensDetails != nil {
			out.UsageMetadata.CachedContentTokenCount = u.InputTokensDetails.CachedTokens
		}
		if u.OutputTokensDetails != nil {
			out.UsageMetadata.ThoughtsTokenCount = u.OutputTokensDetails.ReasoningTokens
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize gemini response: %v", gateway.ErrTransform, err)
	}
	return b, nil
}

// responsesToGeminiRequest translates an OpenAI responses body into a Gemini
// generateContent body.
func responsesToGeminiRequest(body []byte) ([]byte, string, error) {
	var req openai.ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse responses request: %v", gateway.ErrTransform, err)
	}

	out := gemini.GenerateRequest{}
	if req.Instructions != "" {
		out.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: req.Instructions}}}
	}
	gc := &gemini.GenerationConfig{
		Temperature:     req.Temperature,
		TopP:            req.TopP,
		MaxOutputTokens: req.MaxOutputTokens,
	}
	out.GenerationConfig = gc

	if len(req.Input) > 0 {
		var text string
		if err := json.Unmarshal(req.Input, &text); err == nil {
			out.Contents = []gemini.Content{{Role: "user", Parts: []gemini.Part{{Text: text}}}}
		} else {
			var items []openai.InputItem
			if err := json.Unmarshal(req.Input, &items); err != nil {
				return nil, "", fmt.Errorf("%w: parse responses input: %v", gateway.ErrTransform, err)
			}
			for _, item := range items {
				out.Contents = append(out.Contents, inputItemToGeminiContent(item))
			}
		}
	}

	if len(req.Tools) > 0 {
		var tools []struct {
			Type        string          `json:"type"`
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal(req.Tools, &tools); err == nil {
			var decls []gemini.FunctionDeclaration
			for _, t := range tools {
				if t.Type != "function" {
					continue
				}
				decls = append(decls, gemini.FunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
			}
			if len(decls) > 0 {
				out.Tools = []gemini.Tool{{FunctionDeclarations: decls}}
			}
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize gemini request: %v", gateway.ErrTransform, err)
	}
	return b, strings.TrimPrefix(req.Model, "models/"), nil
}

func inputItemToGeminiContent(item openai.InputItem) gemini.Content {
	switch item.Type {
	case "function_call":
		return gemini.Content{Role: "model", Parts: []gemini.Part{{FunctionCall: &gemini.FunctionCall{
			ID:   item.CallID,
			Name: item.Name,
			Args: json.RawMessage(item.Arguments),
		}}}}
	case "function_call_output":
		resp, _ := json.Marshal(map[string]string{"result": item.Output})
		return gemini.Content{Role: "user", Parts: []gemini.Part{{FunctionResponse: &gemini.FunctionResponse{
			ID:       item.CallID,
			Name:     item.CallID,
			Response: resp,
		}}}}
	}
	role := "user"
	if item.Role == "assistant" {
		role = "model"
	}
	return gemini.Content{Role: role, Parts: []gemini.Part{{Text: inputContentText(item.Content)}}}
}

// geminiToResponsesResponse translates a Gemini generateContent response into
// a unary responses result.
func geminiToResponsesResponse(reqModel string, body []byte) ([]byte, error) {
	var resp gemini.GenerateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse gemini response: %v", gateway.ErrTransform, err)
	}

	out := openai.Response{
		ID:        newResponseID(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     strings.TrimPrefix(reqModel, "models/"),
	}
	var msgParts []openai.ContentPart
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		cand := resp.Candidates[0]
		if cand.FinishReason == "MAX_TOKENS" {
			out.Status = "incomplete"
		}
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				callID := p.FunctionCall.ID
				if callID == "" {
					callID = newCallID()
				}
				out.Output = append(out.Output, openai.OutputItem{
					Type:      "function_call",
					ID:        newItemID(),
					Status:    "completed",
					CallID:    callID,
					Name:      p.FunctionCall.Name,
					Arguments: string(p.FunctionCall.Args),
				})
			case p.Thought:
				out.Output = append(out.Output, openai.OutputItem{
					Type:    "reasoning",
					ID:      newItemID(),
					Summary: []openai.SummaryPart{{Type: "summary_text", Text: p.Text}},
				})
			default:
				msgParts = append(msgParts, openai.ContentPart{Type: "output_text", Text: p.Text})
			}
		}
	}
	if len(msgParts) > 0 {
		out.Output = append(out.Output, openai.OutputItem{
			Type:    "message",
			ID:      newItemID(),
			Status:  "completed",
			Role:    "assistant",
			Content: msgParts,
		})
	}
	if out.Output == nil {
		out.Output = []openai.OutputItem{}
	}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &openai.ResponsesUsage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
		if u.CachedContentTokenCount > 0 {
			out.Usage.InputTokensDetails = &openai.TokenDetails{CachedTokens: u.CachedContentTokenCount}
		}
		if u.ThoughtsTokenCount > 0 {
			out.Usage.OutputTokensDetails = &openai.TokenDetails{ReasoningTokens: u.ThoughtsTokenCount}
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize responses result: %v", gateway.ErrTransform, err)
	}
	return b, nil
}

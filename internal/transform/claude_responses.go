package transform

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/openai"
)

// claudeToResponsesRequest translates a Claude messages body into an OpenAI
// responses body.
func claudeToResponsesRequest(body []byte, stream bool) ([]byte, string, error) {
	var req claude.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse claude request: %v", gateway.ErrTransform, err)
	}

	out := openai.ResponsesRequest{
		Model:        req.Model,
		Stream:       stream,
		Instructions: claudeSystemText(req.System),
		Temperature:  req.Temperature,
		TopP:         req.TopP,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxOutputTokens = &mt
	}
	if req.Thinking != nil && req.Thinking.Type == "enabled" {
		out.Reasoning = &openai.Reasoning{Effort: "medium", Summary: "auto"}
	}

	var items []openai.InputItem
	for _, m := range req.Messages {
		is, err := claudeMessageToInputItems(m)
		if err != nil {
			return nil, "", err
		}
		items = append(items, is...)
	}
	input, err := json.Marshal(items)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize responses input: %v", gateway.ErrTransform, err)
	}
	out.Input = input

	if len(req.Tools) > 0 {
		tools := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, map[string]any{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.InputSchema,
			})
		}
		raw, _ := json.Marshal(tools)
		out.Tools = raw
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize responses request: %v", gateway.ErrTransform, err)
	}
	return b, req.Model, nil
}

// claudeMessageToInputItems converts one Claude message into responses input
// items. Tool uses and results become dedicated function_call items.
func claudeMessageToInputItems(m claude.Message) ([]openai.InputItem, error) {
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		raw, _ := json.Marshal(text)
		return []openai.InputItem{{Type: "message", Role: m.Role, Content: raw}}, nil
	}

	var blocks []claude.ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("%w: parse claude content: %v", gateway.ErrTransform, err)
	}

	partType := "input_text"
	if m.Role == "assistant" {
		partType = "output_text"
	}

	var items []openai.InputItem
	var parts []openai.ContentPart
	flush := func() {
		if len(parts) == 0 {
			return
		}
		raw, _ := json.Marshal(parts)
		items = append(items, openai.InputItem{Type: "message", Role: m.Role, Content: raw})
		parts = nil
	}
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, openai.ContentPart{Type: partType, Text: b.Text})
		case "tool_use":
			flush()
			items = append(items, openai.InputItem{
				Type:      "function_call",
				CallID:    b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
		case "tool_result":
			flush()
			items = append(items, openai.InputItem{
				Type:   "function_call_output",
				CallID: b.ToolUseID,
				Output: rawToText(b.Content),
			})
		}
	}
	flush()
	return items, nil
}

// rawToText flattens a string-or-blocks value to plain text.
func rawToText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []claude.ContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var sb strings.Builder
		for _, b := range blocks {
			sb.WriteString(b.Text)
		}
		return sb.String()
	}
	return string(raw)
}

// responsesToClaudeResponse translates a unary responses result into a
// Claude messages response.
func responsesToClaudeResponse(reqModel string, body []byte) ([]byte, error) {
	var resp openai.Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse responses result: %v", gateway.ErrTransform, err)
	}

	out := claude.MessagesResponse{
		ID:    newMessageID(),
		Type:  "message",
		Role:  "assistant",
		Model: reqModel,
	}
	sawTool := false
	for _, item := range resp.Output {
		switch item.Type {
		case "reasoning":
			var sb strings.Builder
			for _, s := range item.Summary {
				sb.WriteString(s.Text)
			}
			out.Content = append(out.Content, claude.ContentBlock{Type: "thinking", Thinking: sb.String()})
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					out.Content = append(out.Content, claude.ContentBlock{Type: "text", Text: c.Text})
				}
			}
		case "function_call":
			sawTool = true
			input := json.RawMessage(item.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			out.Content = append(out.Content, claude.ContentBlock{Type: "tool_use", ID: item.CallID, Name: item.Name, Input: input})
		}
	}
	if out.Content == nil {
		out.Content = []claude.ContentBlock{}
	}

	stop := "end_turn"
	switch {
	case sawTool:
		stop = "tool_use"
	case resp.Status == "incomplete":
		stop = "max_tokens"
	}
	out.StopReason = &stop

	if u := resp.Usage; u != nil {
		out.Usage = claude.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
		if u.InputTokensDetails != nil && u.InputTokensDetails.CachedTokens > 0 {
			cached := u.InputTokensDetails.CachedTokens
			out.Usage.CacheReadInputTokens = &cached
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize claude response: %v", gateway.ErrTransform, err)
	}
	return b, nil
}

// responsesToClaudeRequest translates an OpenAI responses body into a Claude
// messages body.
func responsesToClaudeRequest(body []byte, stream bool) ([]byte, string, error) {
	var req openai.ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse responses request: %v", gateway.ErrTransform, err)
	}

	out := claude.MessagesRequest{
		Model:       req.Model,
		MaxTokens:   defaultMaxTokens,
		Stream:      stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if req.MaxOutputTokens != nil {
		out.MaxTokens = *req.MaxOutputTokens
	}
	if req.Instructions != "" {
		sys, _ := json.Marshal(req.Instructions)
		out.System = sys
	}

	msgs, err := responsesInputToClaudeMessages(req.Input)
	if err != nil {
		return nil, "", err
	}
	out.Messages = msgs

	if len(req.Tools) > 0 {
		var tools []struct {
			Type        string          `json:"type"`
			Name        string          `json:"name"`
			Description string          `json:"description"`
			Parameters  json.RawMessage `json:"parameters"`
		}
		if err := json.Unmarshal(req.Tools, &tools); err == nil {
			for _, t := range tools {
				if t.Type != "function" {
					continue
				}
				out.Tools = append(out.Tools, claude.Tool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
			}
		}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize claude request: %v", gateway.ErrTransform, err)
	}
	return b, req.Model, nil
}

// responsesInputToClaudeMessages converts a responses input (string or item
// array) into Claude messages.
func responsesInputToClaudeMessages(input json.RawMessage) ([]claude.Message, error) {
	if len(input) == 0 {
		return nil, nil
	}
	var text string
	if err := json.Unmarshal(input, &text); err == nil {
		content, _ := json.Marshal(text)
		return []claude.Message{{Role: "user", Content: content}}, nil
	}

	var items []openai.InputItem
	if err := json.Unmarshal(input, &items); err != nil {
		return nil, fmt.Errorf("%w: parse responses input: %v", gateway.ErrTransform, err)
	}
	var msgs []claude.Message
	appendBlocks := func(role string, blocks ...claude.ContentBlock) {
		content, _ := json.Marshal(blocks)
		msgs = append(msgs, claude.Message{Role: role, Content: content})
	}
	for _, item := range items {
		switch item.Type {
		case "", "message":
			role := item.Role
			if role == "" {
				role = "user"
			}
			if role == "system" || role == "developer" {
				role = "user"
			}
			appendBlocks(role, claude.ContentBlock{Type: "text", Text: inputContentText(item.Content)})
		case "function_call":
			input := json.RawMessage(item.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			appendBlocks("assistant", claude.ContentBlock{Type: "tool_use", ID: item.CallID, Name: item.Name, Input: input})
		case "function_call_output":
			outRaw, _ := json.Marshal(item.Output)
			appendBlocks("user", claude.ContentBlock{Type: "tool_result", ToolUseID: item.CallID, Content: outRaw})
		}
	}
	return msgs, nil
}

// inputContentText flattens a message content value (string or part array).
func inputContentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openai.ContentPart
	if err := json.Unmarshal(raw, &parts); err == nil {
		var sb strings.Builder
		for _, p := range parts {
			sb.WriteString(p.Text)
		}
		return sb.String()
	}
	return ""
}

// claudeToResponsesResponse translates a Claude messages response into a
// unary responses result.
func claudeToResponsesResponse(reqModel string, body []byte) ([]byte, error) {
	var resp claude.MessagesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse claude response: %v", gateway.ErrTransform, err)
	}

	out := openai.Response{
		ID:        newResponseID(),
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    "completed",
		Model:     reqModel,
	}
	var msgParts []openai.ContentPart
	for _, b := range resp.Content {
		switch b.Type {
		case "text":
			msgParts = append(msgParts, openai.ContentPart{Type: "output_text", Text: b.Text})
		case "thinking":
			out.Output = append(out.Output, openai.OutputItem{
				Type:    "reasoning",
				ID:      newItemID(),
				Summary: []openai.SummaryPart{{Type: "summary_text", Text: b.Thinking}},
			})
		case "tool_use":
			out.Output = append(out.Output, openai.OutputItem{
				Type:      "function_call",
				ID:        newItemID(),
				Status:    "completed",
				CallID:    b.ID,
				Name:      b.Name,
				Arguments: string(b.Input),
			})
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
	if resp.StopReason != nil && *resp.StopReason == "max_tokens" {
		out.Status = "incomplete"
	}

	out.Usage = &openai.ResponsesUsage{
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if resp.Usage.CacheReadInputTokens != nil {
		out.Usage.InputTokensDetails = &openai.TokenDetails{CachedTokens: *resp.Usage.CacheReadInputTokens}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize responses result: %v", gateway.ErrTransform, err)
	}
	return b, nil
}

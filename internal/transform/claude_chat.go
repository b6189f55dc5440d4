package transform

import (
	"encoding/json"
	"fmt"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/openai"
)

// claudeToChatRequest translates a Claude messages body into an OpenAI chat
// completions body.
func claudeToChatRequest(body []byte, stream bool) ([]byte, string, error) {
	var req claude.MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, "", fmt.Errorf("%w: parse claude request: %v", gateway.ErrTransform, err)
	}

	out := openai.ChatRequest{
		Model:       req.Model,
		Stream:      stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
	if stream {
		// Ask for the final usage chunk so the recorder sees token counts.
		out.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		out.MaxCompletionTokens = &mt
	}
	if len(req.StopSequences) > 0 {
		stop, _ := json.Marshal(req.StopSequences)
		out.Stop = stop
	}
	if sys := claudeSystemText(req.System); sys != "" {
		content, _ := json.Marshal(sys)
		out.Messages = append(out.Messages, openai.ChatMessage{Role: "system", Content: content})
	}
	for _, m := range req.Messages {
		msgs, err := claudeMessageToChat(m)
		if err != nil {
			return nil, "", err
		}
		out.Messages = append(out.Messages, msgs...)
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, openai.ChatTool{
			Type:     "function",
			Function: openai.ChatFunction{Name: t.Name, Description: t.Description, Parameters: t.InputSchema},
		})
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, "", fmt.Errorf("%w: serialize chat request: %v", gateway.ErrTransform, err)
	}
	return b, req.Model, nil
}

// claudeMessageToChat converts one Claude message into chat messages. Tool
// results become dedicated role=tool messages.
func claudeMessageToChat(m claude.Message) ([]openai.ChatMessage, error) {
	var text string
	if err := json.Unmarshal(m.Content, &text); err == nil {
		content, _ := json.Marshal(text)
		return []openai.ChatMessage{{Role: m.Role, Content: content}}, nil
	}

	var blocks []claude.ContentBlock
	if err := json.Unmarshal(m.Content, &blocks); err != nil {
		return nil, fmt.Errorf("%w: parse claude content: %v", gateway.ErrTransform, err)
	}

	var msgs []openai.ChatMessage
	var textAcc string
	var toolCalls []openai.ToolCall
	for _, b := range blocks {
		switch b.Type {
		case "text":
			textAcc += b.Text
		case "tool_use":
			toolCalls = append(toolCalls, openai.ToolCall{
				ID:       b.ID,
				Type:     "function",
				Function: openai.FunctionCall{Name: b.Name, Arguments: string(b.Input)},
			})
		case "tool_result":
			content, _ := json.Marshal(rawToText(b.Content))
			msgs = append(msgs, openai.ChatMessage{Role: "tool", Content: content, ToolCallID: b.ToolUseID})
		}
	}
	if textAcc != "" || len(toolCalls) > 0 {
		msg := openai.ChatMessage{Role: m.Role, ToolCalls: toolCalls}
		if textAcc != "" {
			content, _ := json.Marshal(textAcc)
			msg.Content = content
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// chatToClaudeResponse translates a unary chat completion into a Claude
// messages response.
func chatToClaudeResponse(reqModel string, body []byte) ([]byte, error) {
	var resp openai.ChatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: parse chat response: %v", gateway.ErrTransform, err)
	}

	out := claude.MessagesResponse{
		ID:    newMessageID(),
		Type:  "message",
		Role:  "assistant",
		Model: reqModel,
	}
	stop := "end_turn"
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if text := inputContentText(choice.Message.Content); text != "" {
			out.Content = append(out.Content, claude.ContentBlock{Type: "text", Text: text})
		}
		for _, tc := range choice.Message.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			out.Content = append(out.Content, claude.ContentBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
		}
		switch choice.FinishReason {
		case "length":
			stop = "max_tokens"
		case "tool_calls":
			stop = "tool_use"
		case "content_filter":
			stop = "refusal"
		}
	}
	if out.Content == nil {
		out.Content = []claude.ContentBlock{}
	}
	out.StopReason = &stop

	if u := resp.Usage; u != nil {
		out.Usage = claude.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
	}

	b, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("%w: serialize claude response: %v", gateway.ErrTransform, err)
	}
	return b, nil
}

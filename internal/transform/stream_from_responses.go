package transform

import (
	"encoding/json"

	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
	"github.com/eugener/bifrost/internal/protocol/sse"
)

// --- OpenAI responses upstream -> Claude downstream ---

type responsesToClaude struct {
	model     string
	started   bool
	blockOpen bool
	blockKind string
	index     int
	sawTool   bool
	status    string
	usage     *openai.ResponsesUsage
}

func newResponsesToClaude(model string) *responsesToClaude {
	return &responsesToClaude{model: model}
}

func (t *responsesToClaude) start() []sse.Frame {
	if t.started {
		return nil
	}
	t.started = true
	return []sse.Frame{claudeEvent(claude.StreamEvent{
		Type: claude.EventMessageStart,
		Message: &claude.MessagesResponse{
			ID:      newMessageID(),
			Type:    "message",
			Role:    "assistant",
			Model:   t.model,
			Content: []claude.ContentBlock{},
		},
	})}
}

func (t *responsesToClaude) Push(f sse.Frame) []sse.Frame {
	var ev openai.StreamEvent
	if !parseFrame(f, &ev) {
		return nil
	}

	switch ev.Type {
	case openai.EventResponseCreated:
		return t.start()

	case openai.EventOutputItemAdded:
		if ev.Item == nil || ev.Item.Type != "function_call" {
			return nil
		}
		t.sawTool = true
		out := t.start()
		out = append(out, t.closeBlock()...)
		id := ev.Item.CallID
		if id == "" {
			id = newToolID()
		}
		t.blockOpen = true
		t.blockKind = "tool_use"
		out = append(out, claudeEvent(claude.StreamEvent{
			Type:  claude.EventContentBlockStart,
			Index: t.index,
			ContentBlock: &claude.ContentBlock{
				Type: "tool_use", ID: id, Name: ev.Item.Name,
				Input: json.RawMessage(`{}`),
			},
		}))
		return out

	case openai.EventFunctionArgsDelta:
		out := t.start()
		out = append(out, claudeEvent(claude.StreamEvent{
			Type:  claude.EventContentBlockDelta,
			Index: t.index,
			Delta: &claude.Delta{Type: "input_json_delta", PartialJSON: ev.Delta},
		}))
		return out

	case openai.EventOutputItemDone:
		if ev.Item != nil && ev.Item.Type == "function_call" && t.blockKind == "tool_use" {
			return t.closeBlock()
		}

	case openai.EventOutputTextDelta:
		out := t.start()
		out = append(out, t.ensureBlock("text")...)
		out = append(out, claudeEvent(claude.StreamEvent{
			Type:  claude.EventContentBlockDelta,
			Index: t.index,
			Delta: &claude.Delta{Type: "text_delta", Text: ev.Delta},
		}))
		return out

	case openai.EventReasoningDelta:
		out := t.start()
		out = append(out, t.ensureBlock("thinking")...)
		out = append(out, claudeEvent(claude.StreamEvent{
			Type:  claude.EventContentBlockDelta,
			Index: t.index,
			Delta: &claude.Delta{Type: "thinking_delta", Thinking: ev.Delta},
		}))
		return out

	case openai.EventResponseCompleted, openai.EventResponseFailed:
		if ev.Response != nil {
			t.status = ev.Response.Status
			if ev.Response.Usage != nil {
				t.usage = ev.Response.Usage
			}
		}
	}
	return nil
}

func (t *responsesToClaude) ensureBlock(kind string) []sse.Frame {
	if t.blockOpen && t.blockKind == kind {
		return nil
	}
	out := t.closeBlock()
	t.blockOpen = true
	t.blockKind = kind
	out = append(out, claudeEvent(claude.StreamEvent{
		Type:         claude.EventContentBlockStart,
		Index:        t.index,
		ContentBlock: &claude.ContentBlock{Type: kind},
	}))
	return out
}

func (t *responsesToClaude) closeBlock() []sse.Frame {
	if !t.blockOpen {
		return nil
	}
	t.blockOpen = false
	t.blockKind = ""
	f := claudeEvent(claude.StreamEvent{Type: claude.EventContentBlockStop, Index: t.index})
	t.index++
	return []sse.Frame{f}
}

func (t *responsesToClaude) Finalize() []sse.Frame {
	if !t.started {
		return nil
	}
	out := t.closeBlock()

	stop := "end_turn"
	switch {
	case t.status == "incomplete":
		stop = "max_tokens"
	case t.sawTool:
		stop = "tool_use"
	}
	ev := claude.StreamEvent{
		Type:  claude.EventMessageDelta,
		Delta: &claude.Delta{StopReason: &stop},
	}
	if u := t.usage; u != nil {
		ev.Usage = &claude.Usage{InputTokens: u.InputTokens, OutputTokens: u.OutputTokens}
	}
	out = append(out, claudeEvent(ev))
	out = append(out, claudeEvent(claude.StreamEvent{Type: claude.EventMessageStop}))
	return out
}

// --- OpenAI responses upstream -> Gemini downstream ---

type responsesToGemini struct {
	model string
	done  bool
	usage *openai.ResponsesUsage
}

func newResponsesToGemini(model string) *responsesToGemini {
	return &responsesToGemini{model: model}
}

func (t *responsesToGemini) chunk(parts ...gemini.Part) sse.Frame {
	return dataFrame(gemini.GenerateResponse{
		Candidates:   []gemini.Candidate{{Content: &gemini.Content{Role: "model", Parts: parts}}},
		ModelVersion: t.model,
	})
}

func (t *responsesToGemini) Push(f sse.Frame) []sse.Frame {
	var ev openai.StreamEvent
	if !parseFrame(f, &ev) {
		return nil
	}

	switch ev.Type {
	case openai.EventOutputTextDelta:
		return []sse.Frame{t.chunk(gemini.Part{Text: ev.Delta})}

	case openai.EventReasoningDelta:
		return []sse.Frame{t.chunk(gemini.Part{Text: ev.Delta, Thought: true})}

	case openai.EventOutputItemDone:
		if ev.Item == nil || ev.Item.Type != "function_call" {
			return nil
		}
		args := json.RawMessage(ev.Item.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage(`{}`)
		}
		return []sse.Frame{t.chunk(gemini.Part{FunctionCall: &gemini.FunctionCall{
			ID: ev.Item.CallID, Name: ev.Item.Name, Args: args,
		}})}

	case openai.EventResponseCompleted, openai.EventResponseFailed:
		if ev.Response != nil && ev.Response.Usage != nil {
			t.usage = ev.Response.Usage
		}
		t.done = true
		return []sse.Frame{t.finalChunk(ev.Response)}
	}
	return nil
}

func (t *responsesToGemini) finalChunk(resp *openai.Response) sse.Frame {
	finish := "STOP"
	if resp != nil && resp.Status == "incomplete" {
		finish = "MAX_TOKENS"
	}
	out := gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: []gemini.Part{}},
			FinishReason: finish,
		}},
		ModelVersion: t.model,
	}
	if u := t.usage; u != nil {
		out.UsageMetadata = &gemini.UsageMetadata{
			PromptTokenCount:     u.InputTokens,
			CandidatesTokenCount: u.OutputTokens,
			TotalTokenCount:      u.TotalTokens,
		}
		if u.OutputTokensDetails != nil {
			out.UsageMetadata.ThoughtsTokenCount = u.OutputTokensDetails.ReasoningTokens
		}
	}
	return dataFrame(out)
}

func (t *responsesToGemini) Finalize() []sse.Frame {
	if t.done {
		return nil
	}
	return []sse.Frame{t.finalChunk(nil)}
}

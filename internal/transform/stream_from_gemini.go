package transform

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
	"github.com/eugener/bifrost/internal/protocol/sse"
)

// claudeEvent encodes a Claude stream event as an SSE frame with its event
// name, the way the messages API emits them.
func claudeEvent(ev claude.StreamEvent) sse.Frame {
	data, _ := json.Marshal(ev)
	return sse.Frame{Event: ev.Type, Data: data}
}

// dataFrame encodes a bare data frame (Gemini and chat streams carry no
// event name).
func dataFrame(v any) sse.Frame {
	data, _ := json.Marshal(v)
	return sse.Frame{Data: data}
}

// parseFrame unmarshals a frame payload, logging and skipping malformed JSON
// rather than aborting the stream.
func parseFrame(f sse.Frame, v any) bool {
	if f.Done || len(f.Data) == 0 {
		return false
	}
	if err := json.Unmarshal(f.Data, v); err != nil {
		slog.Warn("skipping malformed stream frame", "error", err)
		return false
	}
	return true
}

// --- Gemini upstream -> Claude downstream ---

type geminiToClaude struct {
	model     string
	started   bool
	blockOpen bool
	blockKind string
	index     int
	sawTool   bool
	finish    string
	usage     *gemini.UsageMetadata
}

func newGeminiToClaude(model string) *geminiToClaude {
	return &geminiToClaude{model: model}
}

func (t *geminiToClaude) Push(f sse.Frame) []sse.Frame {
	var chunk gemini.GenerateResponse
	if !parseFrame(f, &chunk) {
		return nil
	}

	var out []sse.Frame
	if !t.started {
		t.started = true
		out = append(out, claudeEvent(claude.StreamEvent{
			Type: claude.EventMessageStart,
			Message: &claude.MessagesResponse{
				ID:      newMessageID(),
				Type:    "message",
				Role:    "assistant",
				Model:   t.model,
				Content: []claude.ContentBlock{},
			},
		}))
	}
	if u := chunk.UsageMetadata; u != nil {
		t.usage = u
	}
	if len(chunk.Candidates) == 0 {
		return out
	}
	cand := chunk.Candidates[0]
	if cand.FinishReason != "" {
		t.finish = cand.FinishReason
	}
	if cand.Content == nil {
		return out
	}

	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			t.sawTool = true
			out = append(out, t.closeBlock()...)
			id := p.FunctionCall.ID
			if id == "" {
				id = newToolID()
			}
			out = append(out,
				claudeEvent(claude.StreamEvent{
					Type:  claude.EventContentBlockStart,
					Index: t.index,
					ContentBlock: &claude.ContentBlock{
						Type: "tool_use", ID: id, Name: p.FunctionCall.Name,
						Input: json.RawMessage(`{}`),
					},
				}),
				claudeEvent(claude.StreamEvent{
					Type:  claude.EventContentBlockDelta,
					Index: t.index,
					Delta: &claude.Delta{Type: "input_json_delta", PartialJSON: string(p.FunctionCall.Args)},
				}),
				claudeEvent(claude.StreamEvent{Type: claude.EventContentBlockStop, Index: t.index}),
			)
			t.index++
		case p.Thought:
			out = append(out, t.ensureBlock("thinking")...)
			out = append(out, claudeEvent(claude.StreamEvent{
				Type:  claude.EventContentBlockDelta,
				Index: t.index,
				Delta: &claude.Delta{Type: "thinking_delta", Thinking: p.Text},
			}))
		default:
			out = append(out, t.ensureBlock("text")...)
			out = append(out, claudeEvent(claude.StreamEvent{
				Type:  claude.EventContentBlockDelta,
				Index: t.index,
				Delta: &claude.Delta{Type: "text_delta", Text: p.Text},
			}))
		}
	}
	return out
}

func (t *geminiToClaude) ensureBlock(kind string) []sse.Frame {
	if t.blockOpen && t.blockKind == kind {
		return nil
	}
	out := t.closeBlock()
	t.blockOpen = true
	t.blockKind = kind
	block := &claude.ContentBlock{Type: kind}
	out = append(out, claudeEvent(claude.StreamEvent{
		Type:         claude.EventContentBlockStart,
		Index:        t.index,
		ContentBlock: block,
	}))
	return out
}

func (t *geminiToClaude) closeBlock() []sse.Frame {
	if !t.blockOpen {
		return nil
	}
	t.blockOpen = false
	f := claudeEvent(claude.StreamEvent{Type: claude.EventContentBlockStop, Index: t.index})
	t.index++
	return []sse.Frame{f}
}

func (t *geminiToClaude) Finalize() []sse.Frame {
	if !t.started {
		return nil
	}
	out := t.closeBlock()

	stop := mapGeminiFinish(t.finish, t.sawTool)
	ev := claude.StreamEvent{
		Type:  claude.EventMessageDelta,
		Delta: &claude.Delta{StopReason: &stop},
	}
	if u := t.usage; u != nil {
		ev.Usage = &claude.Usage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
		}
	}
	out = append(out, claudeEvent(ev))
	out = append(out, claudeEvent(claude.StreamEvent{Type: claude.EventMessageStop}))
	return out
}

// --- Gemini upstream -> OpenAI responses downstream ---

type geminiToResponses struct {
	model      string
	responseID string
	started    bool
	seq        int64

	textItemID string
	textAcc    []byte
	outIndex   int

	finish string
	usage  *gemini.UsageMetadata
}

func newGeminiToResponses(model string) *geminiToResponses {
	return &geminiToResponses{model: model, responseID: newResponseID()}
}

func (t *geminiToResponses) event(ev openai.StreamEvent) sse.Frame {
	t.seq++
	ev.SequenceNumber = t.seq
	data, _ := json.Marshal(ev)
	return sse.Frame{Event: ev.Type, Data: data}
}

func (t *geminiToResponses) Push(f sse.Frame) []sse.Frame {
	var chunk gemini.GenerateResponse
	if !parseFrame(f, &chunk) {
		return nil
	}

	var out []sse.Frame
	if !t.started {
		t.started = true
		out = append(out, t.event(openai.StreamEvent{
			Type: openai.EventResponseCreated,
			Response: &openai.Response{
				ID:        t.responseID,
				Object:    "response",
				CreatedAt: time.Now().Unix(),
				Status:    "in_progress",
				Model:     t.model,
				Output:    []openai.OutputItem{},
			},
		}))
	}
	if u := chunk.UsageMetadata; u != nil {
		t.usage = u
	}
	if len(chunk.Candidates) == 0 {
		return out
	}
	cand := chunk.Candidates[0]
	if cand.FinishReason != "" {
		t.finish = cand.FinishReason
	}
	if cand.Content == nil {
		return out
	}

	for _, p := range cand.Content.Parts {
		switch {
		case p.FunctionCall != nil:
			out = append(out, t.closeTextItem()...)
			callID := p.FunctionCall.ID
			if callID == "" {
				callID = newCallID()
			}
			item := openai.OutputItem{
				Type:   "function_call",
				ID:     newItemID(),
				Status: "in_progress",
				CallID: callID,
				Name:   p.FunctionCall.Name,
			}
			idx := t.outIndex
			out = append(out, t.event(openai.StreamEvent{
				Type: openai.EventOutputItemAdded, OutputIndex: &idx, Item: &item,
			}))
			out = append(out, t.event(openai.StreamEvent{
				Type: openai.EventFunctionArgsDelta, OutputIndex: &idx,
				ItemID: item.ID, Delta: string(p.FunctionCall.Args),
			}))
			done := item
			done.Status = "completed"
			done.Arguments = string(p.FunctionCall.Args)
			out = append(out, t.event(openai.StreamEvent{
				Type: openai.EventOutputItemDone, OutputIndex: &idx, Item: &done,
			}))
			t.outIndex++
		case p.Thought:
			idx := t.outIndex
			out = append(out, t.event(openai.StreamEvent{
				Type: openai.EventReasoningDelta, OutputIndex: &idx, Delta: p.Text,
			}))
		default:
			out = append(out, t.textDelta(p.Text)...)
		}
	}
	return out
}

func (t *geminiToResponses) textDelta(text string) []sse.Frame {
	var out []sse.Frame
	if t.textItemID == "" {
		t.textItemID = newItemID()
		idx := t.outIndex
		out = append(out, t.event(openai.StreamEvent{
			Type:        openai.EventOutputItemAdded,
			OutputIndex: &idx,
			Item: &openai.OutputItem{
				Type: "message", ID: t.textItemID, Status: "in_progress", Role: "assistant",
			},
		}))
	}
	t.textAcc = append(t.textAcc, text...)
	idx := t.outIndex
	ci := 0
	out = append(out, t.event(openai.StreamEvent{
		Type:         openai.EventOutputTextDelta,
		OutputIndex:  &idx,
		ContentIndex: &ci,
		ItemID:       t.textItemID,
		Delta:        text,
	}))
	return out
}

func (t *geminiToResponses) closeTextItem() []sse.Frame {
	if t.textItemID == "" {
		return nil
	}
	idx := t.outIndex
	item := &openai.OutputItem{
		Type: "message", ID: t.textItemID, Status: "completed", Role: "assistant",
		Content: []openai.ContentPart{{Type: "output_text", Text: string(t.textAcc)}},
	}
	t.textItemID = ""
	t.textAcc = nil
	t.outIndex++
	return []sse.Frame{t.event(openai.StreamEvent{
		Type: openai.EventOutputItemDone, OutputIndex: &idx, Item: item,
	})}
}

func (t *geminiToResponses) Finalize() []sse.Frame {
	if !t.started {
		return nil
	}
	out := t.closeTextItem()

	status := "completed"
	if t.finish == "MAX_TOKENS" {
		status = "incomplete"
	}
	resp := &openai.Response{
		ID:        t.responseID,
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Status:    status,
		Model:     t.model,
		Output:    []openai.OutputItem{},
	}
	if u := t.usage; u != nil {
		resp.Usage = &openai.ResponsesUsage{
			InputTokens:  u.PromptTokenCount,
			OutputTokens: u.CandidatesTokenCount + u.ThoughtsTokenCount,
			TotalTokens:  u.TotalTokenCount,
		}
	}
	out = append(out, t.event(openai.StreamEvent{Type: openai.EventResponseCompleted, Response: resp}))
	return out
}

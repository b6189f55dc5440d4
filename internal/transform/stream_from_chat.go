package transform

import (
	"encoding/json"

	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/openai"
	"github.com/eugener/bifrost/internal/protocol/sse"
)

// --- OpenAI chat upstream -> Claude downstream ---

type chatToClaude struct {
	model     string
	started   bool
	blockOpen bool
	blockKind string
	index     int
	toolIdx   int
	finish    string
	usage     *openai.ChatUsage
}

func newChatToClaude(model string) *chatToClaude {
	return &chatToClaude{model: model, toolIdx: -1}
}

func (t *chatToClaude) Push(f sse.Frame) []sse.Frame {
	var chunk openai.ChatChunk
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
	if chunk.Usage != nil {
		t.usage = chunk.Usage
	}
	if len(chunk.Choices) == 0 {
		return out
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		t.finish = *choice.FinishReason
	}

	if choice.Delta.Content != "" {
		out = append(out, t.ensureBlock("text")...)
		out = append(out, claudeEvent(claude.StreamEvent{
			Type:  claude.EventContentBlockDelta,
			Index: t.index,
			Delta: &claude.Delta{Type: "text_delta", Text: choice.Delta.Content},
		}))
	}
	for _, tc := range choice.Delta.ToolCalls {
		// A new index opens a fresh tool_use block; later deltas for the
		// same index carry only argument fragments.
		if tc.Index != nil && *tc.Index != t.toolIdx {
			out = append(out, t.closeBlock()...)
			t.toolIdx = *tc.Index
			t.blockOpen = true
			t.blockKind = "tool_use"
			id := tc.ID
			if id == "" {
				id = newToolID()
			}
			out = append(out, claudeEvent(claude.StreamEvent{
				Type:  claude.EventContentBlockStart,
				Index: t.index,
				ContentBlock: &claude.ContentBlock{
					Type: "tool_use", ID: id, Name: tc.Function.Name,
					Input: json.RawMessage(`{}`),
				},
			}))
		}
		if tc.Function.Arguments != "" {
			out = append(out, claudeEvent(claude.StreamEvent{
				Type:  claude.EventContentBlockDelta,
				Index: t.index,
				Delta: &claude.Delta{Type: "input_json_delta", PartialJSON: tc.Function.Arguments},
			}))
		}
	}
	return out
}

func (t *chatToClaude) ensureBlock(kind string) []sse.Frame {
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

func (t *chatToClaude) closeBlock() []sse.Frame {
	if !t.blockOpen {
		return nil
	}
	t.blockOpen = false
	t.blockKind = ""
	f := claudeEvent(claude.StreamEvent{Type: claude.EventContentBlockStop, Index: t.index})
	t.index++
	return []sse.Frame{f}
}

func (t *chatToClaude) Finalize() []sse.Frame {
	if !t.started {
		return nil
	}
	out := t.closeBlock()

	stop := "end_turn"
	switch t.finish {
	case "length":
		stop = "max_tokens"
	case "tool_calls":
		stop = "tool_use"
	case "content_filter":
		stop = "refusal"
	}
	ev := claude.StreamEvent{
		Type:  claude.EventMessageDelta,
		Delta: &claude.Delta{StopReason: &stop},
	}
	if u := t.usage; u != nil {
		ev.Usage = &claude.Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens}
	}
	out = append(out, claudeEvent(ev))
	out = append(out, claudeEvent(claude.StreamEvent{Type: claude.EventMessageStop}))
	return out
}

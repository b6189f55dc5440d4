package transform

import (
	"encoding/json"
	"time"

	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
	"github.com/eugener/bifrost/internal/protocol/sse"
)

// --- Claude upstream -> Gemini downstream ---

type claudeToGemini struct {
	model    string
	usageIn  int64
	usageOut int64
	stop     string
	done     bool

	curKind  string
	toolID   string
	toolName string
	argsBuf  []byte
}

func newClaudeToGemini(model string) *claudeToGemini {
	return &claudeToGemini{model: model}
}

func (t *claudeToGemini) chunk(parts ...gemini.Part) sse.Frame {
	return dataFrame(gemini.GenerateResponse{
		Candidates:   []gemini.Candidate{{Content: &gemini.Content{Role: "model", Parts: parts}}},
		ModelVersion: t.model,
	})
}

func (t *claudeToGemini) Push(f sse.Frame) []sse.Frame {
	var ev claude.StreamEvent
	if !parseFrame(f, &ev) {
		return nil
	}

	switch ev.Type {
	case claude.EventMessageStart:
		if ev.Message != nil {
			t.usageIn = ev.Message.Usage.InputTokens
		}

	case claude.EventContentBlockStart:
		if ev.ContentBlock == nil {
			return nil
		}
		t.curKind = ev.ContentBlock.Type
		if t.curKind == "tool_use" {
			t.toolID = ev.ContentBlock.ID
			t.toolName = ev.ContentBlock.Name
			t.argsBuf = t.argsBuf[:0]
		}

	case claude.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			return []sse.Frame{t.chunk(gemini.Part{Text: ev.Delta.Text})}
		case "thinking_delta":
			return []sse.Frame{t.chunk(gemini.Part{Text: ev.Delta.Thinking, Thought: true})}
		case "signature_delta":
			return []sse.Frame{t.chunk(gemini.Part{Thought: true, ThoughtSignature: ev.Delta.Signature})}
		case "input_json_delta":
			t.argsBuf = append(t.argsBuf, ev.Delta.PartialJSON...)
		}

	case claude.EventContentBlockStop:
		if t.curKind == "tool_use" {
			args := json.RawMessage(t.argsBuf)
			if !json.Valid(args) {
				args = json.RawMessage(`{}`)
			}
			t.curKind = ""
			t.stop = "tool_use"
			return []sse.Frame{t.chunk(gemini.Part{FunctionCall: &gemini.FunctionCall{
				ID: t.toolID, Name: t.toolName, Args: args,
			}})}
		}
		t.curKind = ""

	case claude.EventMessageDelta:
		if ev.Usage != nil {
			t.usageOut = ev.Usage.OutputTokens
		}
		if ev.Delta != nil && ev.Delta.StopReason != nil {
			t.stop = *ev.Delta.StopReason
		}

	case claude.EventMessageStop:
		t.done = true
		return []sse.Frame{t.finalChunk()}
	}
	return nil
}

func (t *claudeToGemini) finalChunk() sse.Frame {
	finish := "STOP"
	if t.stop == "max_tokens" {
		finish = "MAX_TOKENS"
	}
	return dataFrame(gemini.GenerateResponse{
		Candidates: []gemini.Candidate{{
			Content:      &gemini.Content{Role: "model", Parts: []gemini.Part{}},
			FinishReason: finish,
		}},
		ModelVersion: t.model,
		UsageMetadata: &gemini.UsageMetadata{
			PromptTokenCount:     t.usageIn,
			CandidatesTokenCount: t.usageOut,
			TotalTokenCount:      t.usageIn + t.usageOut,
		},
	})
}

func (t *claudeToGemini) Finalize() []sse.Frame {
	if t.done {
		return nil
	}
	// Upstream ended without message_stop; still close the stream with the
	// accumulated usage.
	return []sse.Frame{t.finalChunk()}
}

// --- Claude upstream -> OpenAI responses downstream ---

type claudeToResponses struct {
	model      string
	responseID string
	started    bool
	seq        int64
	outIndex   int

	curKind    string
	textItemID string
	textAcc    []byte
	funcItemID string
	funcCallID string
	funcName   string
	argsBuf    []byte

	usageIn  int64
	usageOut int64
	stop     string
}

func newClaudeToResponses(model string) *claudeToResponses {
	return &claudeToResponses{model: model, responseID: newResponseID()}
}

func (t *claudeToResponses) event(ev openai.StreamEvent) sse.Frame {
	t.seq++
	ev.SequenceNumber = t.seq
	data, _ := json.Marshal(ev)
	return sse.Frame{Event: ev.Type, Data: data}
}

func (t *claudeToResponses) Push(f sse.Frame) []sse.Frame {
	var ev claude.StreamEvent
	if !parseFrame(f, &ev) {
		return nil
	}

	switch ev.Type {
	case claude.EventMessageStart:
		if ev.Message != nil {
			t.usageIn = ev.Message.Usage.InputTokens
		}
		if t.started {
			return nil
		}
		t.started = true
		return []sse.Frame{t.event(openai.StreamEvent{
			Type: openai.EventResponseCreated,
			Response: &openai.Response{
				ID:        t.responseID,
				Object:    "response",
				CreatedAt: time.Now().Unix(),
				Status:    "in_progress",
				Model:     t.model,
				Output:    []openai.OutputItem{},
			},
		})}

	case claude.EventContentBlockStart:
		if ev.ContentBlock == nil {
			return nil
		}
		t.curKind = ev.ContentBlock.Type
		switch t.curKind {
		case "text":
			if t.textItemID != "" {
				return nil
			}
			t.textItemID = newItemID()
			idx := t.outIndex
			return []sse.Frame{t.event(openai.StreamEvent{
				Type:        openai.EventOutputItemAdded,
				OutputIndex: &idx,
				Item: &openai.OutputItem{
					Type: "message", ID: t.textItemID, Status: "in_progress", Role: "assistant",
				},
			})}
		case "tool_use":
			var out []sse.Frame
			out = append(out, t.closeTextItem()...)
			t.funcItemID = newItemID()
			t.funcCallID = ev.ContentBlock.ID
			t.funcName = ev.ContentBlock.Name
			t.argsBuf = t.argsBuf[:0]
			idx := t.outIndex
			out = append(out, t.event(openai.StreamEvent{
				Type:        openai.EventOutputItemAdded,
				OutputIndex: &idx,
				Item: &openai.OutputItem{
					Type: "function_call", ID: t.funcItemID, Status: "in_progress",
					CallID: t.funcCallID, Name: t.funcName,
				},
			}))
			return out
		}

	case claude.EventContentBlockDelta:
		if ev.Delta == nil {
			return nil
		}
		switch ev.Delta.Type {
		case "text_delta":
			t.textAcc = append(t.textAcc, ev.Delta.Text...)
			idx, ci := t.outIndex, 0
			return []sse.Frame{t.event(openai.StreamEvent{
				Type:         openai.EventOutputTextDelta,
				OutputIndex:  &idx,
				ContentIndex: &ci,
				ItemID:       t.textItemID,
				Delta:        ev.Delta.Text,
			})}
		case "thinking_delta":
			idx := t.outIndex
			return []sse.Frame{t.event(openai.StreamEvent{
				Type: openai.EventReasoningDelta, OutputIndex: &idx, Delta: ev.Delta.Thinking,
			})}
		case "input_json_delta":
			t.argsBuf = append(t.argsBuf, ev.Delta.PartialJSON...)
			idx := t.outIndex
			return []sse.Frame{t.event(openai.StreamEvent{
				Type: openai.EventFunctionArgsDelta, OutputIndex: &idx,
				ItemID: t.funcItemID, Delta: ev.Delta.PartialJSON,
			})}
		}

	case claude.EventContentBlockStop:
		if t.curKind == "tool_use" {
			t.curKind = ""
			t.stop = "tool_use"
			idx := t.outIndex
			t.outIndex++
			args := string(t.argsBuf)
			return []sse.Frame{t.event(openai.StreamEvent{
				Type:        openai.EventOutputItemDone,
				OutputIndex: &idx,
				Item: &openai.OutputItem{
					Type: "function_call", ID: t.funcItemID, Status: "completed",
					CallID: t.funcCallID, Name: t.funcName, Arguments: args,
				},
			})}
		}
		t.curKind = ""

	case claude.EventMessageDelta:
		if ev.Usage != nil {
			t.usageOut = ev.Usage.OutputTokens
		}
		if ev.Delta != nil && ev.Delta.StopReason != nil && t.stop == "" {
			t.stop = *ev.Delta.StopReason
		}
	}
	return nil
}

func (t *claudeToResponses) closeTextItem() []sse.Frame {
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

func (t *claudeToResponses) Finalize() []sse.Frame {
	if !t.started {
		return nil
	}
	out := t.closeTextItem()

	status := "completed"
	if t.stop == "max_tokens" {
		status = "incomplete"
	}
	out = append(out, t.event(openai.StreamEvent{
		Type: openai.EventResponseCompleted,
		Response: &openai.Response{
			ID:        t.responseID,
			Object:    "response",
			CreatedAt: time.Now().Unix(),
			Status:    status,
			Model:     t.model,
			Output:    []openai.OutputItem{},
			Usage: &openai.ResponsesUsage{
				InputTokens:  t.usageIn,
				OutputTokens: t.usageOut,
				TotalTokens:  t.usageIn + t.usageOut,
			},
		},
	}))
	return out
}

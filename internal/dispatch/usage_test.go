package dispatch

import (
	"testing"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/sse"
)

func i64v(p *int64) int64 {
	if p == nil {
		return -1
	}
	return *p
}

func TestExtractUsage(t *testing.T) {
	t.Parallel()

	t.Run("claude", func(t *testing.T) {
		t.Parallel()
		u := ExtractUsage(gateway.UsageClaude, []byte(`{"usage":{"input_tokens":10,"output_tokens":20,"cache_read_input_tokens":5}}`))
		if i64v(u.ClaudeInputTokens) != 10 || i64v(u.ClaudeOutputTokens) != 20 {
			t.Errorf("in/out = %d/%d", i64v(u.ClaudeInputTokens), i64v(u.ClaudeOutputTokens))
		}
		if i64v(u.ClaudeCacheReadTokens) != 5 {
			t.Errorf("cache read = %d", i64v(u.ClaudeCacheReadTokens))
		}
		if u.ClaudeCacheCreationTokens != nil {
			t.Error("absent field should stay nil")
		}
	})

	t.Run("gemini", func(t *testing.T) {
		t.Parallel()
		u := ExtractUsage(gateway.UsageGemini, []byte(`{"usageMetadata":{"promptTokenCount":7,"candidatesTokenCount":3,"totalTokenCount":10}}`))
		if i64v(u.GeminiPromptTokens) != 7 || i64v(u.GeminiCandidatesTokens) != 3 || i64v(u.GeminiTotalTokens) != 10 {
			t.Errorf("got %+v", u)
		}
	})

	t.Run("zero is not missing", func(t *testing.T) {
		t.Parallel()
		u := ExtractUsage(gateway.UsageOpenAIChat, []byte(`{"usage":{"prompt_tokens":0,"completion_tokens":0}}`))
		if u.ChatPromptTokens == nil || *u.ChatPromptTokens != 0 {
			t.Error("explicit zero must extract as 0, not nil")
		}
	})

	t.Run("responses nested details", func(t *testing.T) {
		t.Parallel()
		u := ExtractUsage(gateway.UsageOpenAIResponses, []byte(`{"usage":{"input_tokens":100,"output_tokens":50,"input_tokens_details":{"cached_tokens":80},"output_tokens_details":{"reasoning_tokens":30}}}`))
		if i64v(u.ResponsesCachedTokens) != 80 || i64v(u.ResponsesReasoningTokens) != 30 {
			t.Errorf("got %+v", u)
		}
	})

	t.Run("none", func(t *testing.T) {
		t.Parallel()
		u := ExtractUsage(gateway.UsageNone, []byte(`{"usage":{"input_tokens":1}}`))
		if !u.Empty() {
			t.Errorf("got %+v, want empty", u)
		}
	})
}

func TestUsageAccumulatorClaudeSplit(t *testing.T) {
	t.Parallel()

	// Claude streams scatter counters: input arrives in message_start (nested
	// under "message"), output in the final message_delta.
	a := NewUsageAccumulator(gateway.UsageClaude)
	a.Feed(sse.Frame{Event: "message_start", Data: []byte(`{"type":"message_start","message":{"usage":{"input_tokens":25,"output_tokens":1}}}`)})
	a.Feed(sse.Frame{Event: "content_block_delta", Data: []byte(`{"type":"content_block_delta","delta":{"text":"x"}}`)})
	a.Feed(sse.Frame{Event: "message_delta", Data: []byte(`{"type":"message_delta","usage":{"output_tokens":17}}`)})

	u := a.Usage()
	if i64v(u.ClaudeInputTokens) != 25 {
		t.Errorf("input = %d, want 25", i64v(u.ClaudeInputTokens))
	}
	if i64v(u.ClaudeOutputTokens) != 17 {
		t.Errorf("output = %d, want 17 (last write wins)", i64v(u.ClaudeOutputTokens))
	}
}

func TestUsageAccumulatorGeminiSnapshot(t *testing.T) {
	t.Parallel()

	// Gemini repeats a cumulative snapshot per chunk; the last one wins.
	a := NewUsageAccumulator(gateway.UsageGemini)
	a.Feed(sse.Frame{Data: []byte(`{"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":1,"totalTokenCount":6}}`)})
	a.Feed(sse.Frame{Data: []byte(`{"usageMetadata":{"promptTokenCount":5,"candidatesTokenCount":9,"totalTokenCount":14}}`)})

	u := a.Usage()
	if i64v(u.GeminiCandidatesTokens) != 9 || i64v(u.GeminiTotalTokens) != 14 {
		t.Errorf("got %+v", u)
	}
}

func TestUsageAccumulatorResponsesCompleted(t *testing.T) {
	t.Parallel()

	a := NewUsageAccumulator(gateway.UsageOpenAIResponses)
	a.Feed(sse.Frame{Event: "response.output_text.delta", Data: []byte(`{"delta":"x"}`)})
	a.Feed(sse.Frame{Event: "response.completed", Data: []byte(`{"response":{"usage":{"input_tokens":11,"output_tokens":22}}}`)})

	u := a.Usage()
	if i64v(u.ResponsesInputTokens) != 11 || i64v(u.ResponsesOutputTokens) != 22 {
		t.Errorf("got %+v", u)
	}
}

func TestUsageAccumulatorIgnoresSentinel(t *testing.T) {
	t.Parallel()

	a := NewUsageAccumulator(gateway.UsageOpenAIChat)
	a.Feed(sse.Frame{Data: []byte(`{"usage":{"prompt_tokens":3,"completion_tokens":4}}`)})
	a.Feed(sse.Frame{Data: []byte(`[DONE]`), Done: true})

	u := a.Usage()
	if i64v(u.ChatPromptTokens) != 3 || i64v(u.ChatCompletionTokens) != 4 {
		t.Errorf("got %+v", u)
	}
}

func TestProjectUsage(t *testing.T) {
	t.Parallel()

	in, out, cached := int64(100), int64(40), int64(25)
	src := gateway.TrafficUsage{
		GeminiPromptTokens:     &in,
		GeminiCandidatesTokens: &out,
		GeminiCachedTokens:     &cached,
	}

	got := ProjectUsage(src, gateway.UsageClaude)
	if i64v(got.ClaudeInputTokens) != 100 || i64v(got.ClaudeOutputTokens) != 40 {
		t.Errorf("claude projection = %+v", got)
	}
	if i64v(got.ClaudeCacheReadTokens) != 25 {
		t.Errorf("cached projection = %d", i64v(got.ClaudeCacheReadTokens))
	}

	got = ProjectUsage(src, gateway.UsageGemini)
	if i64v(got.GeminiTotalTokens) != 140 {
		t.Errorf("total = %d, want synthesized 140", i64v(got.GeminiTotalTokens))
	}

	got = ProjectUsage(src, gateway.UsageOpenAIChat)
	if i64v(got.ChatPromptTokens) != 100 || i64v(got.ChatCompletionTokens) != 40 {
		t.Errorf("chat projection = %+v", got)
	}

	// Empty source projects to empty.
	if got := ProjectUsage(gateway.TrafficUsage{}, gateway.UsageClaude); !got.Empty() {
		t.Errorf("empty projection = %+v", got)
	}
}

func TestPlanFor(t *testing.T) {
	t.Parallel()

	p, err := For(gateway.DialectClaude, gateway.DialectClaude, gateway.OpGenerate)
	if err != nil || !p.Native {
		t.Fatalf("same-dialect plan = %+v, %v; want native", p, err)
	}

	p, err = For(gateway.DialectClaude, gateway.DialectGemini, gateway.OpGenerate)
	if err != nil || p.Native {
		t.Fatalf("cross-dialect plan = %+v, %v", p, err)
	}

	if _, err = For(gateway.DialectOpenAIChat, gateway.DialectGemini, gateway.OpGenerate); err == nil {
		t.Fatal("chat downstream on gemini upstream should have no route")
	}
	if _, err = For(gateway.DialectClaude, gateway.DialectOpenAIChat, gateway.OpCountTokens); err == nil {
		t.Fatal("count_tokens has no chat translation")
	}
}

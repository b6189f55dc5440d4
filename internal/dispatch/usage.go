package dispatch

import (
	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/sse"
	"github.com/tidwall/gjson"
)

// ExtractUsage pulls the token counters for one dialect out of a unary
// response body. Absent fields stay nil so zero and missing are distinct.
func ExtractUsage(kind gateway.UsageKind, body []byte) gateway.TrafficUsage {
	var u gateway.TrafficUsage
	switch kind {
	case gateway.UsageClaude:
		u.ClaudeInputTokens = i64(gjson.GetBytes(body, "usage.input_tokens"))
		u.ClaudeOutputTokens = i64(gjson.GetBytes(body, "usage.output_tokens"))
		u.ClaudeCacheCreationTokens = i64(gjson.GetBytes(body, "usage.cache_creation_input_tokens"))
		u.ClaudeCacheReadTokens = i64(gjson.GetBytes(body, "usage.cache_read_input_tokens"))
	case gateway.UsageGemini:
		u.GeminiPromptTokens = i64(gjson.GetBytes(body, "usageMetadata.promptTokenCount"))
		u.GeminiCandidatesTokens = i64(gjson.GetBytes(body, "usageMetadata.candidatesTokenCount"))
		u.GeminiCachedTokens = i64(gjson.GetBytes(body, "usageMetadata.cachedContentTokenCount"))
		u.GeminiTotalTokens = i64(gjson.GetBytes(body, "usageMetadata.totalTokenCount"))
	case gateway.UsageOpenAIChat:
		u.ChatPromptTokens = i64(gjson.GetBytes(body, "usage.prompt_tokens"))
		u.ChatCompletionTokens = i64(gjson.GetBytes(body, "usage.completion_tokens"))
	case gateway.UsageOpenAIResponses:
		u.ResponsesInputTokens = i64(gjson.GetBytes(body, "usage.input_tokens"))
		u.ResponsesOutputTokens = i64(gjson.GetBytes(body, "usage.output_tokens"))
		u.ResponsesCachedTokens = i64(gjson.GetBytes(body, "usage.input_tokens_details.cached_tokens"))
		u.ResponsesReasoningTokens = i64(gjson.GetBytes(body, "usage.output_tokens_details.reasoning_tokens"))
	}
	return u
}

func i64(r gjson.Result) *int64 {
	if !r.Exists() {
		return nil
	}
	v := r.Int()
	return &v
}

// UsageAccumulator folds the usage fields of a frame sequence. Each dialect
// scatters counters differently across its stream: Claude splits them between
// message_start and message_delta, Gemini repeats a snapshot per chunk, chat
// ships one final chunk, responses nests them under response.completed.
type UsageAccumulator struct {
	kind gateway.UsageKind
	u    gateway.TrafficUsage
}

func NewUsageAccumulator(kind gateway.UsageKind) *UsageAccumulator {
	return &UsageAccumulator{kind: kind}
}

// Feed inspects one frame. Malformed or sentinel frames are ignored.
func (a *UsageAccumulator) Feed(f sse.Frame) {
	if a.kind == gateway.UsageNone || f.Done || len(f.Data) == 0 {
		return
	}
	switch a.kind {
	case gateway.UsageClaude:
		a.merge(ExtractUsage(a.kind, f.Data))
		if m := gjson.GetBytes(f.Data, "message"); m.Exists() {
			a.merge(ExtractUsage(a.kind, []byte(m.Raw)))
		}
	case gateway.UsageOpenAIResponses:
		if r := gjson.GetBytes(f.Data, "response"); r.Exists() {
			a.merge(ExtractUsage(a.kind, []byte(r.Raw)))
		} else {
			a.merge(ExtractUsage(a.kind, f.Data))
		}
	default:
		a.merge(ExtractUsage(a.kind, f.Data))
	}
}

// Usage returns the counters accumulated so far.
func (a *UsageAccumulator) Usage() gateway.TrafficUsage { return a.u }

func (a *UsageAccumulator) merge(src gateway.TrafficUsage) {
	for _, p := range [][2]**int64{
		{&a.u.ClaudeInputTokens, &src.ClaudeInputTokens},
		{&a.u.ClaudeOutputTokens, &src.ClaudeOutputTokens},
		{&a.u.ClaudeCacheCreationTokens, &src.ClaudeCacheCreationTokens},
		{&a.u.ClaudeCacheReadTokens, &src.ClaudeCacheReadTokens},
		{&a.u.GeminiPromptTokens, &src.GeminiPromptTokens},
		{&a.u.GeminiCandidatesTokens, &src.GeminiCandidatesTokens},
		{&a.u.GeminiCachedTokens, &src.GeminiCachedTokens},
		{&a.u.GeminiTotalTokens, &src.GeminiTotalTokens},
		{&a.u.ChatPromptTokens, &src.ChatPromptTokens},
		{&a.u.ChatCompletionTokens, &src.ChatCompletionTokens},
		{&a.u.ResponsesInputTokens, &src.ResponsesInputTokens},
		{&a.u.ResponsesOutputTokens, &src.ResponsesOutputTokens},
		{&a.u.ResponsesCachedTokens, &src.ResponsesCachedTokens},
		{&a.u.ResponsesReasoningTokens, &src.ResponsesReasoningTokens},
	} {
		if *p[1] != nil {
			*p[0] = *p[1]
		}
	}
}

// ProjectUsage maps counters recorded in one dialect onto another, for the
// downstream record of a transformed call. Input maps to prompt, output to
// candidates/completion; dialect-specific extras carry over where a slot
// exists and are dropped where none does.
func ProjectUsage(src gateway.TrafficUsage, to gateway.UsageKind) gateway.TrafficUsage {
	in, out, cached, reasoning := canonical(src)
	var u gateway.TrafficUsage
	switch to {
	case gateway.UsageClaude:
		u.ClaudeInputTokens = in
		u.ClaudeOutputTokens = out
		u.ClaudeCacheReadTokens = cached
	case gateway.UsageGemini:
		u.GeminiPromptTokens = in
		u.GeminiCandidatesTokens = out
		u.GeminiCachedTokens = cached
		if in != nil && out != nil {
			total := *in + *out
			u.GeminiTotalTokens = &total
		}
	case gateway.UsageOpenAIChat:
		u.ChatPromptTokens = in
		u.ChatCompletionTokens = out
	case gateway.UsageOpenAIResponses:
		u.ResponsesInputTokens = in
		u.ResponsesOutputTokens = out
		u.ResponsesCachedTokens = cached
		u.ResponsesReasoningTokens = reasoning
	}
	return u
}

func canonical(u gateway.TrafficUsage) (in, out, cached, reasoning *int64) {
	switch {
	case u.ClaudeInputTokens != nil || u.ClaudeOutputTokens != nil:
		return u.ClaudeInputTokens, u.ClaudeOutputTokens, u.ClaudeCacheReadTokens, nil
	case u.GeminiPromptTokens != nil || u.GeminiCandidatesTokens != nil:
		return u.GeminiPromptTokens, u.GeminiCandidatesTokens, u.GeminiCachedTokens, nil
	case u.ChatPromptTokens != nil || u.ChatCompletionTokens != nil:
		return u.ChatPromptTokens, u.ChatCompletionTokens, nil, nil
	case u.ResponsesInputTokens != nil || u.ResponsesOutputTokens != nil:
		return u.ResponsesInputTokens, u.ResponsesOutputTokens, u.ResponsesCachedTokens, u.ResponsesReasoningTokens
	}
	return nil, nil, nil, nil
}

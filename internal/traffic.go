package gateway

import (
	"net/http"
	"time"
)

// TrafficUsage is a flat bag of optional token counters, one group per
// dialect. Only the group matching the extractor's UsageKind is filled.
type TrafficUsage struct {
	// Claude
	ClaudeInputTokens         *int64 `json:"claude_input_tokens,omitempty"`
	ClaudeOutputTokens        *int64 `json:"claude_output_tokens,omitempty"`
	ClaudeCacheCreationTokens *int64 `json:"claude_cache_creation_tokens,omitempty"`
	ClaudeCacheReadTokens     *int64 `json:"claude_cache_read_tokens,omitempty"`

	// Gemini
	GeminiPromptTokens     *int64 `json:"gemini_prompt_tokens,omitempty"`
	GeminiCandidatesTokens *int64 `json:"gemini_candidates_tokens,omitempty"`
	GeminiCachedTokens     *int64 `json:"gemini_cached_tokens,omitempty"`
	GeminiTotalTokens      *int64 `json:"gemini_total_tokens,omitempty"`

	// OpenAI chat
	ChatPromptTokens     *int64 `json:"chat_prompt_tokens,omitempty"`
	ChatCompletionTokens *int64 `json:"chat_completion_tokens,omitempty"`

	// OpenAI responses
	ResponsesInputTokens     *int64 `json:"responses_input_tokens,omitempty"`
	ResponsesOutputTokens    *int64 `json:"responses_output_tokens,omitempty"`
	ResponsesCachedTokens    *int64 `json:"responses_cached_tokens,omitempty"`
	ResponsesReasoningTokens *int64 `json:"responses_reasoning_tokens,omitempty"`
}

// Empty reports whether no counter is set.
func (u *TrafficUsage) Empty() bool {
	return u.ClaudeInputTokens == nil && u.ClaudeOutputTokens == nil &&
		u.ClaudeCacheCreationTokens == nil && u.ClaudeCacheReadTokens == nil &&
		u.GeminiPromptTokens == nil && u.GeminiCandidatesTokens == nil &&
		u.GeminiCachedTokens == nil && u.GeminiTotalTokens == nil &&
		u.ChatPromptTokens == nil && u.ChatCompletionTokens == nil &&
		u.ResponsesInputTokens == nil && u.ResponsesOutputTokens == nil &&
		u.ResponsesCachedTokens == nil && u.ResponsesReasoningTokens == nil
}

// UpstreamRecordMeta is the request-side envelope captured before an upstream
// call is sent.
type UpstreamRecordMeta struct {
	Provider     string
	CredentialID int64
	Operation    string // e.g. "gemini.stream_generate"
	Model        string
	Method       string
	URL          string
	Header       http.Header
	Body         []byte
	UserID       int64
	KeyID        int64
	TraceID      string
}

// DownstreamRecordMeta is the envelope of the downstream request as the
// client sent it.
type DownstreamRecordMeta struct {
	Provider  string
	Operation string
	Model     string
	Method    string
	Path      string
	Query     string
	Header    http.Header
	Body      []byte
	UserID    int64
	KeyID     int64
	TraceID   string
}

// UpstreamTrafficEvent is one completed upstream exchange.
type UpstreamTrafficEvent struct {
	Meta       UpstreamRecordMeta
	Status     int
	RespHeader http.Header
	RespBody   []byte
	Usage      TrafficUsage
	DurationMs int64
	At         time.Time
}

// DownstreamTrafficEvent is one completed downstream exchange.
type DownstreamTrafficEvent struct {
	Meta       DownstreamRecordMeta
	Status     int
	RespBody   []byte
	Usage      TrafficUsage
	DurationMs int64
	At         time.Time
}

// TrafficSink receives traffic records. Implementations must never block the
// request path: on backpressure the oldest buffered record is dropped.
type TrafficSink interface {
	RecordUpstream(ev UpstreamTrafficEvent)
	RecordDownstream(ev DownstreamTrafficEvent)
}

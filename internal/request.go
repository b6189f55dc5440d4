package gateway

import "net/url"

// Dialect identifies one downstream wire format + operation set.
type Dialect int

const (
	DialectClaude Dialect = iota
	DialectGemini
	DialectOpenAIChat
	DialectOpenAIResponses
)

// String returns the canonical dialect name.
func (d Dialect) String() string {
	switch d {
	case DialectClaude:
		return "claude"
	case DialectGemini:
		return "gemini"
	case DialectOpenAIChat:
		return "openai_chat"
	case DialectOpenAIResponses:
		return "openai_responses"
	}
	return "unknown"
}

// GeminiVersion selects the Gemini API surface.
type GeminiVersion int

const (
	GeminiV1 GeminiVersion = iota
	GeminiV1Beta
)

func (v GeminiVersion) String() string {
	if v == GeminiV1Beta {
		return "v1beta"
	}
	return "v1"
}

// Operation is the dialect-independent operation class.
type Operation int

const (
	OpGenerate Operation = iota
	OpGenerateStream
	OpCountTokens
	OpModelsList
	OpModelsGet
	OpUsage // provider account usage, OAuth providers only
)

func (o Operation) String() string {
	switch o {
	case OpGenerate:
		return "generate"
	case OpGenerateStream:
		return "stream_generate"
	case OpCountTokens:
		return "count_tokens"
	case OpModelsList:
		return "models_list"
	case OpModelsGet:
		return "models_get"
	case OpUsage:
		return "usage"
	}
	return "unknown"
}

// ProxyRequest is a classified downstream request: one (dialect, operation)
// cell of the cross-product, plus the raw body and the path-derived model.
type ProxyRequest struct {
	Dialect Dialect
	Op      Operation
	Version GeminiVersion // Gemini dialect only
	Model   string        // path model for Gemini ops and models-get
	Body    []byte        // raw JSON, nil for GET operations
	Query   url.Values
}

// Stream reports whether the operation produces an SSE stream.
func (r *ProxyRequest) Stream() bool { return r.Op == OpGenerateStream }

// OperationTag returns the traffic-record operation label, e.g.
// "gemini.stream_generate".
func (r *ProxyRequest) OperationTag() string {
	return r.Dialect.String() + "." + r.Op.String()
}

// UsageKind selects which dialect's usage fields a recorder extracts.
type UsageKind int

const (
	UsageNone UsageKind = iota
	UsageClaude
	UsageGemini
	UsageOpenAIChat
	UsageOpenAIResponses
)

// UsageKindFor maps a dialect and operation to the usage extractor to run.
// Only generate operations carry token usage.
func UsageKindFor(d Dialect, op Operation) UsageKind {
	if op != OpGenerate && op != OpGenerateStream {
		return UsageNone
	}
	switch d {
	case DialectClaude:
		return UsageClaude
	case DialectGemini:
		return UsageGemini
	case DialectOpenAIChat:
		return UsageOpenAIChat
	case DialectOpenAIResponses:
		return UsageOpenAIResponses
	}
	return UsageNone
}

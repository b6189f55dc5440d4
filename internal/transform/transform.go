// Package transform implements the pure translation layer between dialects:
// unary request/response pairs and the per-direction stream state machines.
// Nothing in this package performs I/O.
package transform

import (
	"fmt"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/sse"
)

// Pair names a transform direction as downstream-dialect to upstream-dialect:
// Claude2Gemini serves a Claude-dialect request against a Gemini-native
// upstream.
type Pair int

const (
	Claude2Gemini Pair = iota
	Gemini2Claude
	Claude2OpenAIResponses
	OpenAIResponses2Claude
	Gemini2OpenAIResponses
	OpenAIResponses2Gemini
	Claude2OpenAIChat
)

func (p Pair) String() string {
	switch p {
	case Claude2Gemini:
		return "claude2gemini"
	case Gemini2Claude:
		return "gemini2claude"
	case Claude2OpenAIResponses:
		return "claude2openai_responses"
	case OpenAIResponses2Claude:
		return "openai_responses2claude"
	case Gemini2OpenAIResponses:
		return "gemini2openai_responses"
	case OpenAIResponses2Gemini:
		return "openai_responses2gemini"
	case Claude2OpenAIChat:
		return "claude2openai_chat"
	}
	return "unknown"
}

// Upstream returns the dialect sent on the wire for this pair.
func (p Pair) Upstream() gateway.Dialect {
	switch p {
	case Claude2Gemini, OpenAIResponses2Gemini:
		return gateway.DialectGemini
	case Gemini2Claude, OpenAIResponses2Claude:
		return gateway.DialectClaude
	case Claude2OpenAIResponses, Gemini2OpenAIResponses:
		return gateway.DialectOpenAIResponses
	case Claude2OpenAIChat:
		return gateway.DialectOpenAIChat
	}
	return gateway.DialectClaude
}

// Downstream returns the dialect the client spoke.
func (p Pair) Downstream() gateway.Dialect {
	switch p {
	case Claude2Gemini, Claude2OpenAIResponses, Claude2OpenAIChat:
		return gateway.DialectClaude
	case Gemini2Claude, Gemini2OpenAIResponses:
		return gateway.DialectGemini
	case OpenAIResponses2Claude, OpenAIResponses2Gemini:
		return gateway.DialectOpenAIResponses
	}
	return gateway.DialectClaude
}

// PairFor returns the transform pair serving dialect d against an upstream
// speaking native, or ok=false when no translation exists.
func PairFor(d, native gateway.Dialect) (Pair, bool) {
	switch {
	case d == gateway.DialectClaude && native == gateway.DialectGemini:
		return Claude2Gemini, true
	case d == gateway.DialectGemini && native == gateway.DialectClaude:
		return Gemini2Claude, true
	case d == gateway.DialectClaude && native == gateway.DialectOpenAIResponses:
		return Claude2OpenAIResponses, true
	case d == gateway.DialectOpenAIResponses && native == gateway.DialectClaude:
		return OpenAIResponses2Claude, true
	case d == gateway.DialectGemini && native == gateway.DialectOpenAIResponses:
		return Gemini2OpenAIResponses, true
	case d == gateway.DialectOpenAIResponses && native == gateway.DialectGemini:
		return OpenAIResponses2Gemini, true
	case d == gateway.DialectClaude && native == gateway.DialectOpenAIChat:
		return Claude2OpenAIChat, true
	}
	return 0, false
}

// Supports reports whether the pair can translate the operation. Count-tokens
// exists only between Claude and Gemini; usage is never translated.
func Supports(p Pair, op gateway.Operation) bool {
	switch op {
	case gateway.OpGenerate, gateway.OpGenerateStream, gateway.OpModelsList, gateway.OpModelsGet:
		return true
	case gateway.OpCountTokens:
		return p == Claude2Gemini || p == Gemini2Claude
	}
	return false
}

// Request translates a downstream request into the pair's upstream dialect.
// The returned request keeps the operation class and the model.
func Request(p Pair, req *gateway.ProxyRequest) (*gateway.ProxyRequest, error) {
	switch req.Op {
	case gateway.OpGenerate, gateway.OpGenerateStream:
		return generateRequest(p, req)
	case gateway.OpCountTokens:
		return countTokensRequest(p, req)
	case gateway.OpModelsList, gateway.OpModelsGet:
		// Models operations carry no body; only the dialect changes.
		out := *req
		out.Dialect = p.Upstream()
		out.Body = nil
		return &out, nil
	}
	return nil, fmt.Errorf("%w: %s has no %s translation", gateway.ErrTransform, p, req.Op)
}

// Response translates a unary upstream response body back into the
// downstream dialect. reqModel is the model the client asked for.
func Response(p Pair, op gateway.Operation, reqModel string, body []byte) ([]byte, error) {
	switch op {
	case gateway.OpGenerate:
		return generateResponse(p, reqModel, body)
	case gateway.OpCountTokens:
		return countTokensResponse(p, body)
	case gateway.OpModelsList:
		return modelsListResponse(p, body)
	case gateway.OpModelsGet:
		return modelsGetResponse(p, body)
	}
	return nil, fmt.Errorf("%w: %s has no %s response translation", gateway.ErrTransform, p, op)
}

// Stream is a per-request stream state machine consuming upstream SSE frames
// and producing downstream-dialect frames. Push and Finalize may each return
// zero or more frames; Finalize is called exactly once at end of stream.
type Stream interface {
	Push(f sse.Frame) []sse.Frame
	Finalize() []sse.Frame
}

// NewStream creates the stream machine for a pair. reqModel is echoed into
// synthesized downstream envelopes.
func NewStream(p Pair, reqModel string) (Stream, error) {
	switch p {
	case Claude2Gemini:
		return newGeminiToClaude(reqModel), nil
	case Gemini2Claude:
		return newClaudeToGemini(reqModel), nil
	case Claude2OpenAIResponses:
		return newResponsesToClaude(reqModel), nil
	case OpenAIResponses2Claude:
		return newClaudeToResponses(reqModel), nil
	case Gemini2OpenAIResponses:
		return newResponsesToGemini(reqModel), nil
	case OpenAIResponses2Gemini:
		return newGeminiToResponses(reqModel), nil
	case Claude2OpenAIChat:
		return newChatToClaude(reqModel), nil
	}
	return nil, fmt.Errorf("%w: no stream machine for %s", gateway.ErrTransform, p)
}

func generateRequest(p Pair, req *gateway.ProxyRequest) (*gateway.ProxyRequest, error) {
	var body []byte
	var model string
	var err error
	switch p {
	case Claude2Gemini:
		body, model, err = claudeToGeminiRequest(req.Body)
	case Gemini2Claude:
		body, model, err = geminiToClaudeRequest(req.Model, req.Body, req.Stream())
	case Claude2OpenAIResponses:
		body, model, err = claudeToResponsesRequest(req.Body, req.Stream())
	case OpenAIResponses2Claude:
		body, model, err = responsesToClaudeRequest(req.Body, req.Stream())
	case Gemini2OpenAIResponses:
		body, model, err = geminiToResponsesRequest(req.Model, req.Body, req.Stream())
	case OpenAIResponses2Gemini:
		body, model, err = responsesToGeminiRequest(req.Body)
	case Claude2OpenAIChat:
		body, model, err = claudeToChatRequest(req.Body, req.Stream())
	default:
		err = fmt.Errorf("%w: no request translation for %s", gateway.ErrTransform, p)
	}
	if err != nil {
		return nil, err
	}
	out := *req
	out.Dialect = p.Upstream()
	out.Body = body
	if model != "" {
		out.Model = model
	}
	if out.Dialect == gateway.DialectGemini {
		// Translated Gemini calls always use the richer v1beta surface.
		out.Version = gateway.GeminiV1Beta
	}
	return &out, nil
}

func generateResponse(p Pair, reqModel string, body []byte) ([]byte, error) {
	switch p {
	case Claude2Gemini:
		return geminiToClaudeResponse(reqModel, body)
	case Gemini2Claude:
		return claudeToGeminiResponse(body)
	case Claude2OpenAIResponses:
		return responsesToClaudeResponse(reqModel, body)
	case OpenAIResponses2Claude:
		return claudeToResponsesResponse(reqModel, body)
	case Gemini2OpenAIResponses:
		return responsesToGeminiResponse(body)
	case OpenAIResponses2Gemini:
		return geminiToResponsesResponse(reqModel, body)
	case Claude2OpenAIChat:
		return chatToClaudeResponse(reqModel, body)
	}
	return nil, fmt.Errorf("%w: no response translation for %s", gateway.ErrTransform, p)
}

func countTokensRequest(p Pair, req *gateway.ProxyRequest) (*gateway.ProxyRequest, error) {
	var body []byte
	var model string
	var err error
	switch p {
	case Claude2Gemini:
		body, model, err = claudeToGeminiCountRequest(req.Body)
	case Gemini2Claude:
		body, model, err = geminiToClaudeCountRequest(req.Model, req.Body)
	default:
		return nil, fmt.Errorf("%w: %s has no count_tokens translation", gateway.ErrTransform, p)
	}
	if err != nil {
		return nil, err
	}
	out := *req
	out.Dialect = p.Upstream()
	out.Body = body
	if model != "" {
		out.Model = model
	}
	if out.Dialect == gateway.DialectGemini {
		// Translated Gemini calls always use the richer v1beta surface.
		out.Version = gateway.GeminiV1Beta
	}
	return &out, nil
}

func countTokensResponse(p Pair, body []byte) ([]byte, error) {
	switch p {
	case Claude2Gemini:
		return geminiToClaudeCountResponse(body)
	case Gemini2Claude:
		return claudeToGeminiCountResponse(body)
	}
	return nil, fmt.Errorf("%w: %s has no count_tokens response translation", gateway.ErrTransform, p)
}

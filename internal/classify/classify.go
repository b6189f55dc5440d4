// Package classify parses downstream HTTP requests into typed ProxyRequest
// values. It is the only place that understands dialect URL shapes.
package classify

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
)

// Classify maps (method, provider-relative path, query, headers, body) to a
// ProxyRequest. Unrecognized shapes and unparseable bodies return
// gateway.ErrBadRequest.
func Classify(method, path string, query url.Values, header http.Header, body []byte) (*gateway.ProxyRequest, error) {
	path = strings.Trim(path, "/")

	switch {
	case method == http.MethodPost && path == "v1/messages":
		return claudeMessages(query, header, body)

	case method == http.MethodPost && path == "v1/messages/count_tokens":
		if err := decodeBody(body, &claude.CountTokensRequest{}); err != nil {
			return nil, err
		}
		return &gateway.ProxyRequest{Dialect: gateway.DialectClaude, Op: gateway.OpCountTokens, Body: body, Query: query}, nil

	case method == http.MethodGet && path == "v1/models":
		// Shared between the Claude and OpenAI dialects; the anthropic-version
		// header picks Claude.
		d := gateway.DialectOpenAIChat
		if header.Get("Anthropic-Version") != "" {
			d = gateway.DialectClaude
		}
		return &gateway.ProxyRequest{Dialect: d, Op: gateway.OpModelsList, Query: query}, nil

	case method == http.MethodGet && strings.HasPrefix(path, "v1/models/"):
		d := gateway.DialectOpenAIChat
		if header.Get("Anthropic-Version") != "" {
			d = gateway.DialectClaude
		}
		return &gateway.ProxyRequest{Dialect: d, Op: gateway.OpModelsGet, Model: path[len("v1/models/"):], Query: query}, nil

	case method == http.MethodPost && path == "v1/chat/completions":
		var req openai.ChatRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		op := gateway.OpGenerate
		if req.Stream || gjson.GetBytes(body, "stream").Bool() {
			op = gateway.OpGenerateStream
		}
		return &gateway.ProxyRequest{Dialect: gateway.DialectOpenAIChat, Op: op, Model: req.Model, Body: body, Query: query}, nil

	case method == http.MethodPost && path == "v1/responses":
		var req openai.ResponsesRequest
		if err := decodeBody(body, &req); err != nil {
			return nil, err
		}
		op := gateway.OpGenerate
		if req.Stream {
			op = gateway.OpGenerateStream
		}
		return &gateway.ProxyRequest{Dialect: gateway.DialectOpenAIResponses, Op: op, Model: req.Model, Body: body, Query: query}, nil

	case method == http.MethodPost && path == "v1/responses/input_tokens":
		if err := decodeBody(body, &openai.InputTokensRequest{}); err != nil {
			return nil, err
		}
		return &gateway.ProxyRequest{Dialect: gateway.DialectOpenAIResponses, Op: gateway.OpCountTokens, Body: body, Query: query}, nil

	case method == http.MethodGet && path == "usage":
		return &gateway.ProxyRequest{Dialect: gateway.DialectOpenAIResponses, Op: gateway.OpUsage, Query: query}, nil
	}

	if req, ok, err := geminiPath(method, path, query, body); ok {
		return req, err
	}

	return nil, fmt.Errorf("%w: unrecognized path %q", gateway.ErrBadRequest, path)
}

// claudeMessages classifies POST v1/messages, deciding stream vs unary from
// the body flag or the Accept header.
func claudeMessages(query url.Values, header http.Header, body []byte) (*gateway.ProxyRequest, error) {
	var req claude.MessagesRequest
	if err := decodeBody(body, &req); err != nil {
		return nil, err
	}
	op := gateway.OpGenerate
	if req.Stream || strings.Contains(header.Get("Accept"), "text/event-stream") {
		op = gateway.OpGenerateStream
	}
	return &gateway.ProxyRequest{Dialect: gateway.DialectClaude, Op: op, Model: req.Model, Body: body, Query: query}, nil
}

// geminiPath classifies v1/v1beta Gemini shapes. Returns ok=false when the
// path is not Gemini-shaped at all.
func geminiPath(method, path string, query url.Values, body []byte) (*gateway.ProxyRequest, bool, error) {
	var version gateway.GeminiVersion
	var rest string
	switch {
	case strings.HasPrefix(path, "v1beta/"):
		version, rest = gateway.GeminiV1Beta, path[len("v1beta/"):]
	case strings.HasPrefix(path, "v1/"):
		version, rest = gateway.GeminiV1, path[len("v1/"):]
	default:
		return nil, false, nil
	}

	if method == http.MethodGet && rest == "models" {
		return &gateway.ProxyRequest{Dialect: gateway.DialectGemini, Op: gateway.OpModelsList, Version: version, Query: query}, true, nil
	}

	if !strings.HasPrefix(rest, "models/") {
		return nil, false, nil
	}
	rest = rest[len("models/"):]

	model, action, found := strings.Cut(rest, ":")
	if !found {
		if method == http.MethodGet && model != "" {
			return &gateway.ProxyRequest{Dialect: gateway.DialectGemini, Op: gateway.OpModelsGet, Version: version, Model: model, Query: query}, true, nil
		}
		return nil, false, nil
	}
	if method != http.MethodPost || model == "" {
		return nil, false, nil
	}

	var op gateway.Operation
	switch action {
	case "generateContent":
		op = gateway.OpGenerate
		// alt=sse turns the unary endpoint into a stream.
		if query.Get("alt") == "sse" {
			op = gateway.OpGenerateStream
		}
	case "streamGenerateContent":
		op = gateway.OpGenerateStream
	case "countTokens":
		op = gateway.OpCountTokens
	default:
		return nil, false, nil
	}

	probe := &gemini.GenerateRequest{}
	if op == gateway.OpCountTokens {
		if err := decodeBody(body, &gemini.CountTokensRequest{}); err != nil {
			return nil, true, err
		}
	} else if err := decodeBody(body, probe); err != nil {
		return nil, true, err
	}
	return &gateway.ProxyRequest{Dialect: gateway.DialectGemini, Op: op, Version: version, Model: model, Body: body, Query: query}, true, nil
}

// decodeBody validates that the body parses as the dialect's documented shape.
func decodeBody(body []byte, v any) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body", gateway.ErrBadRequest)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", gateway.ErrBadRequest, err)
	}
	return nil
}

package classify

import (
	"errors"
	"net/http"
	"net/url"
	"testing"

	gateway "github.com/eugener/bifrost/internal"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		method  string
		path    string
		query   string
		header  http.Header
		body    string
		want    gateway.Dialect
		wantOp  gateway.Operation
		model   string
		version gateway.GeminiVersion
	}{
		{
			name: "claude messages unary", method: "POST", path: "/v1/messages",
			body: `{"model":"claude-sonnet-4-5","max_tokens":100,"messages":[]}`,
			want: gateway.DialectClaude, wantOp: gateway.OpGenerate, model: "claude-sonnet-4-5",
		},
		{
			name: "claude messages stream flag", method: "POST", path: "/v1/messages",
			body: `{"model":"claude-sonnet-4-5","stream":true,"messages":[]}`,
			want: gateway.DialectClaude, wantOp: gateway.OpGenerateStream, model: "claude-sonnet-4-5",
		},
		{
			name: "claude messages accept header", method: "POST", path: "/v1/messages",
			header: http.Header{"Accept": []string{"text/event-stream"}},
			body:   `{"model":"m","messages":[]}`,
			want:   gateway.DialectClaude, wantOp: gateway.OpGenerateStream, model: "m",
		},
		{
			name: "claude count tokens", method: "POST", path: "/v1/messages/count_tokens",
			body: `{"model":"m","messages":[]}`,
			want: gateway.DialectClaude, wantOp: gateway.OpCountTokens,
		},
		{
			name: "models list openai", method: "GET", path: "/v1/models",
			want: gateway.DialectOpenAIChat, wantOp: gateway.OpModelsList,
		},
		{
			name: "models list claude via version header", method: "GET", path: "/v1/models",
			header: http.Header{"Anthropic-Version": []string{"2023-06-01"}},
			want:   gateway.DialectClaude, wantOp: gateway.OpModelsList,
		},
		{
			name: "models get", method: "GET", path: "/v1/models/gpt-4o",
			want: gateway.DialectOpenAIChat, wantOp: gateway.OpModelsGet, model: "gpt-4o",
		},
		{
			name: "chat completions", method: "POST", path: "/v1/chat/completions",
			body: `{"model":"gpt-4o","messages":[]}`,
			want: gateway.DialectOpenAIChat, wantOp: gateway.OpGenerate, model: "gpt-4o",
		},
		{
			name: "chat completions stream", method: "POST", path: "/v1/chat/completions",
			body: `{"model":"gpt-4o","stream":true,"messages":[]}`,
			want: gateway.DialectOpenAIChat, wantOp: gateway.OpGenerateStream, model: "gpt-4o",
		},
		{
			name: "responses", method: "POST", path: "/v1/responses",
			body: `{"model":"gpt-5","input":[]}`,
			want: gateway.DialectOpenAIResponses, wantOp: gateway.OpGenerate, model: "gpt-5",
		},
		{
			name: "responses stream", method: "POST", path: "/v1/responses",
			body: `{"model":"gpt-5","stream":true,"input":[]}`,
			want: gateway.DialectOpenAIResponses, wantOp: gateway.OpGenerateStream, model: "gpt-5",
		},
		{
			name: "responses input tokens", method: "POST", path: "/v1/responses/input_tokens",
			body: `{"model":"gpt-5","input":[]}`,
			want: gateway.DialectOpenAIResponses, wantOp: gateway.OpCountTokens,
		},
		{
			name: "account usage", method: "GET", path: "/usage",
			want: gateway.DialectOpenAIResponses, wantOp: gateway.OpUsage,
		},
		{
			name: "gemini generate v1beta", method: "POST", path: "/v1beta/models/gemini-2.5-pro:generateContent",
			body: `{"contents":[]}`,
			want: gateway.DialectGemini, wantOp: gateway.OpGenerate, model: "gemini-2.5-pro", version: gateway.GeminiV1Beta,
		},
		{
			name: "gemini generate alt sse", method: "POST", path: "/v1beta/models/gemini-2.5-pro:generateContent",
			query: "alt=sse", body: `{"contents":[]}`,
			want: gateway.DialectGemini, wantOp: gateway.OpGenerateStream, model: "gemini-2.5-pro", version: gateway.GeminiV1Beta,
		},
		{
			name: "gemini stream v1", method: "POST", path: "/v1/models/gemini-2.5-flash:streamGenerateContent",
			body: `{"contents":[]}`,
			want: gateway.DialectGemini, wantOp: gateway.OpGenerateStream, model: "gemini-2.5-flash", version: gateway.GeminiV1,
		},
		{
			name: "gemini count tokens", method: "POST", path: "/v1beta/models/gemini-2.5-pro:countTokens",
			body: `{"contents":[]}`,
			want: gateway.DialectGemini, wantOp: gateway.OpCountTokens, model: "gemini-2.5-pro", version: gateway.GeminiV1Beta,
		},
		{
			name: "gemini models list", method: "GET", path: "/v1beta/models",
			want: gateway.DialectGemini, wantOp: gateway.OpModelsList, version: gateway.GeminiV1Beta,
		},
		{
			name: "gemini models get", method: "GET", path: "/v1beta/models/gemini-2.5-pro",
			want: gateway.DialectGemini, wantOp: gateway.OpModelsGet, model: "gemini-2.5-pro", version: gateway.GeminiV1Beta,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, _ := url.ParseQuery(tt.query)
			h := tt.header
			if h == nil {
				h = http.Header{}
			}
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			got, err := Classify(tt.method, tt.path, q, h, body)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Dialect != tt.want {
				t.Errorf("dialect = %v, want %v", got.Dialect, tt.want)
			}
			if got.Op != tt.wantOp {
				t.Errorf("op = %v, want %v", got.Op, tt.wantOp)
			}
			if got.Model != tt.model {
				t.Errorf("model = %q, want %q", got.Model, tt.model)
			}
			if got.Version != tt.version {
				t.Errorf("version = %v, want %v", got.Version, tt.version)
			}
		})
	}
}

func TestClassifyRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"unknown path", "GET", "/v2/frobnicate", ""},
		{"wrong method", "GET", "/v1/messages", ""},
		{"empty body", "POST", "/v1/messages", ""},
		{"malformed json", "POST", "/v1/chat/completions", `{"model":`},
		{"gemini bad json", "POST", "/v1beta/models/m:generateContent", `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var body []byte
			if tt.body != "" {
				body = []byte(tt.body)
			}
			_, err := Classify(tt.method, tt.path, url.Values{}, http.Header{}, body)
			if !errors.Is(err, gateway.ErrBadRequest) {
				t.Fatalf("err = %v, want ErrBadRequest", err)
			}
		})
	}
}

func TestClassifyUnknownGeminiAction(t *testing.T) {
	t.Parallel()

	_, err := Classify("POST", "/v1beta/models/m:embedContent", url.Values{}, http.Header{}, []byte(`{}`))
	if !errors.Is(err, gateway.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

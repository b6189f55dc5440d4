package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tidwall/gjson"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/pool"
	"github.com/eugener/bifrost/internal/testutil"
)

// testHandle returns the named handle with its pool pointed at creds.
func testHandle(t *testing.T, name string, sink gateway.StateSink, creds ...*gateway.Credential) *Handle {
	t.Helper()
	r, err := NewRegistry(sink)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	h, ok := r.Handle(name)
	if !ok {
		t.Fatalf("no handle %q", name)
	}
	h.pool.Replace(pool.NewSnapshot(creds, nil))
	return h
}

// apiKeyCred builds a static-key credential pointed at base.
func apiKeyCred(id int64, weight int, base string) *gateway.Credential {
	return &gateway.Credential{
		ID:      id,
		Weight:  weight,
		Enabled: true,
		Secret:  json.RawMessage(`{"api_key":"sk-test"}`),
		Meta:    json.RawMessage(fmt.Sprintf(`{"base_url":%q}`, base)),
	}
}

func TestRegistryCatalog(t *testing.T) {
	t.Parallel()

	r, err := NewRegistry(nil)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	for _, name := range []string{"openai", "nvidia", "deepseek", "claude", "claudecode",
		"aistudio", "vertex", "vertexexpress", "geminicli", "antigravity", "codex"} {
		if _, err := r.Get(name); err != nil {
			t.Errorf("Get(%q): %v", name, err)
		}
	}
	if _, err := r.Get("nope"); !errors.Is(err, gateway.ErrNotFound) {
		t.Errorf("unknown provider err = %v, want ErrNotFound", err)
	}
	if len(r.Names()) != len(Specs) {
		t.Errorf("Names() = %d entries, want %d", len(r.Names()), len(Specs))
	}
}

func TestCallNativeUnary(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-api-key"); got != "sk-test" {
			t.Errorf("x-api-key = %q", got)
		}
		if got := r.Header.Get("anthropic-version"); got == "" {
			t.Error("anthropic-version header missing")
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"msg_1","type":"message","role":"assistant","model":"claude-sonnet-4-5",
			"content":[{"type":"text","text":"hi"}],"stop_reason":"end_turn",
			"usage":{"input_tokens":12,"output_tokens":3}}`)
	}))
	defer srv.Close()

	sink := &testutil.Sink{}
	h := testHandle(t, "claude", sink, apiKeyCred(1, 1, srv.URL))

	req := &gateway.ProxyRequest{
		Dialect: gateway.DialectClaude, Op: gateway.OpGenerate, Model: "claude-sonnet-4-5",
		Body: []byte(`{"model":"claude-sonnet-4-5","max_tokens":10,"messages":[{"role":"user","content":"hey"}]}`),
	}
	cc := &gateway.CallContext{Traffic: sink, Downstream: &gateway.DownstreamRecordMeta{Provider: "claude"}}
	resp, err := h.Call(t.Context(), req, cc)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Status != 200 || resp.IsStream() {
		t.Fatalf("resp = %+v", resp)
	}
	if got := gjson.GetBytes(resp.Body, "content.0.text").String(); got != "hi" {
		t.Errorf("body text = %q", got)
	}

	ups := sink.Upstream()
	if len(ups) != 1 {
		t.Fatalf("upstream records = %d, want 1", len(ups))
	}
	if ups[0].Meta.CredentialID != 1 || ups[0].Status != 200 {
		t.Errorf("upstream record = %+v", ups[0])
	}
	if ups[0].Usage.ClaudeInputTokens == nil || *ups[0].Usage.ClaudeInputTokens != 12 {
		t.Errorf("upstream usage = %+v", ups[0].Usage)
	}
	downs := sink.Downstream()
	if len(downs) != 1 {
		t.Fatalf("downstream records = %d, want 1", len(downs))
	}
	if downs[0].Usage.ClaudeOutputTokens == nil || *downs[0].Usage.ClaudeOutputTokens != 3 {
		t.Errorf("downstream usage = %+v", downs[0].Usage)
	}
}

func TestCallFailover(t *testing.T) {
	t.Parallel()

	limited := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"type":"error","error":{"type":"rate_limit_error"}}`)
	}))
	defer limited.Close()
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"id":"msg_2","type":"message","content":[],"usage":{"input_tokens":1,"output_tokens":1}}`)
	}))
	defer healthy.Close()

	sink := &testutil.Sink{}
	h := testHandle(t, "claude", sink,
		apiKeyCred(1, 10, limited.URL),
		apiKeyCred(2, 5, healthy.URL),
	)

	req := &gateway.ProxyRequest{
		Dialect: gateway.DialectClaude, Op: gateway.OpGenerate, Model: "m",
		Body: []byte(`{"model":"m","messages":[]}`),
	}
	resp, err := h.Call(t.Context(), req, &gateway.CallContext{Traffic: sink})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if resp.Status != 200 {
		t.Errorf("status = %d", resp.Status)
	}

	// The 429 left a cooldown on credential 1 at the model scope.
	e, ok := h.pool.Snapshot().Disallow[pool.Key{CredentialID: 1, Scope: gateway.ScopeModel("m")}]
	if !ok {
		t.Fatal("no cooldown entry for credential 1")
	}
	if e.Level != gateway.LevelCooldown || e.Until == nil {
		t.Errorf("entry = %+v, want cooldown with until", e)
	}
	if e.Reason != "rate_limit" {
		t.Errorf("reason = %q", e.Reason)
	}

	// The failed attempt was still recorded.
	ups := sink.Upstream()
	if len(ups) != 2 {
		t.Fatalf("upstream records = %d, want 2", len(ups))
	}
	if ups[0].Status != 429 || ups[1].Status != 200 {
		t.Errorf("statuses = %d, %d", ups[0].Status, ups[1].Status)
	}
}

func TestCallAuthErrorSurfacesPassthrough(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error","message":"bad key"}}`)
	}))
	defer srv.Close()

	sink := &testutil.Sink{}
	h := testHandle(t, "claude", sink, apiKeyCred(1, 1, srv.URL))

	req := &gateway.ProxyRequest{
		Dialect: gateway.DialectClaude, Op: gateway.OpGenerate, Model: "m",
		Body: []byte(`{"model":"m","messages":[]}`),
	}
	_, err := h.Call(t.Context(), req, &gateway.CallContext{})
	var pe *gateway.PassthroughError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want PassthroughError", err)
	}
	if pe.Status != 401 {
		t.Errorf("status = %d", pe.Status)
	}
	if got := gjson.GetBytes(pe.Body, "error.message").String(); got != "bad key" {
		t.Errorf("body = %q", pe.Body)
	}

	e, ok := h.pool.Snapshot().Disallow[pool.Key{CredentialID: 1, Scope: gateway.ScopeAllModels()}]
	if !ok || e.Level != gateway.LevelDead {
		t.Fatalf("entry = %+v, %v; want dead at all models", e, ok)
	}
	states := sink.States()
	if len(states) != 1 || states[0].Level != gateway.LevelDead {
		t.Errorf("states = %+v", states)
	}
}

func TestCallStreamPassthrough(t *testing.T) {
	t.Parallel()

	upstream := "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":4}}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, upstream)
	}))
	defer srv.Close()

	sink := &testutil.Sink{}
	h := testHandle(t, "claude", sink, apiKeyCred(1, 1, srv.URL))

	req := &gateway.ProxyRequest{
		Dialect: gateway.DialectClaude, Op: gateway.OpGenerateStream, Model: "m",
		Body: []byte(`{"model":"m","stream":true,"messages":[]}`),
	}
	resp, err := h.Call(t.Context(), req, &gateway.CallContext{Traffic: sink, Downstream: &gateway.DownstreamRecordMeta{}})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !resp.IsStream() {
		t.Fatal("expected a stream response")
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	got, err := io.ReadAll(resp.Stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(got) != upstream {
		t.Errorf("stream bytes altered:\ngot  %q\nwant %q", got, upstream)
	}
	resp.Stream.Close()

	ups := sink.Upstream()
	if len(ups) != 1 {
		t.Fatalf("upstream records = %d, want 1", len(ups))
	}
	if ups[0].Usage.ClaudeInputTokens == nil || *ups[0].Usage.ClaudeInputTokens != 4 {
		t.Errorf("stream usage = %+v", ups[0].Usage)
	}

	// Stream records persist the concatenated frame payloads, not an empty
	// body.
	wantBody := "{\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":4}}}\n" +
		"{\"type\":\"message_stop\"}\n"
	if string(ups[0].RespBody) != wantBody {
		t.Errorf("upstream record body:\ngot  %q\nwant %q", ups[0].RespBody, wantBody)
	}
	downs := sink.Downstream()
	if len(downs) != 1 {
		t.Fatalf("downstream records = %d, want 1", len(downs))
	}
	if string(downs[0].RespBody) != wantBody {
		t.Errorf("downstream record body:\ngot  %q\nwant %q", downs[0].RespBody, wantBody)
	}
}

func TestCallTransformedGenerate(t *testing.T) {
	t.Parallel()

	// Claude dialect served by a Gemini-native backend: the upstream sees a
	// translated generateContent call, the client gets a Claude envelope back.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-2.5-pro:generateContent" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "sk-test" {
			t.Errorf("x-goog-api-key = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if got := gjson.GetBytes(body, "contents.0.parts.0.text").String(); got != "hello" {
			t.Errorf("translated body = %s", body)
		}
		io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"world"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":2,"candidatesTokenCount":1,"totalTokenCount":3}}`)
	}))
	defer srv.Close()

	sink := &testutil.Sink{}
	h := testHandle(t, "aistudio", sink, apiKeyCred(1, 1, srv.URL))

	req := &gateway.ProxyRequest{
		Dialect: gateway.DialectClaude, Op: gateway.OpGenerate, Model: "gemini-2.5-pro",
		Body: []byte(`{"model":"gemini-2.5-pro","max_tokens":10,"messages":[{"role":"user","content":"hello"}]}`),
	}
	cc := &gateway.CallContext{Traffic: sink, Downstream: &gateway.DownstreamRecordMeta{Provider: "aistudio"}}
	resp, err := h.Call(t.Context(), req, cc)
	if err != nil {
		t.Fatalf("Call: %v", err)
	}

	out := string(resp.Body)
	if got := gjson.Get(out, "type").String(); got != "message" {
		t.Errorf("type = %q", got)
	}
	if got := gjson.Get(out, "content.0.text").String(); got != "world" {
		t.Errorf("text = %q", got)
	}
	if got := gjson.Get(out, "stop_reason").String(); got != "end_turn" {
		t.Errorf("stop_reason = %q", got)
	}

	// Upstream recorded in Gemini terms, downstream projected to Claude.
	ups := sink.Upstream()
	if len(ups) != 1 || i64(ups[0].Usage.GeminiPromptTokens) != 2 {
		t.Fatalf("upstream records = %+v", ups)
	}
	downs := sink.Downstream()
	if len(downs) != 1 || i64(downs[0].Usage.ClaudeInputTokens) != 2 || i64(downs[0].Usage.ClaudeOutputTokens) != 1 {
		t.Fatalf("downstream records = %+v", downs)
	}
}

func i64(p *int64) int64 {
	if p == nil {
		return -1
	}
	return *p
}

func TestCallNoRouteIsBadRequest(t *testing.T) {
	t.Parallel()

	h := testHandle(t, "aistudio", nil, apiKeyCred(1, 1, "http://127.0.0.1:0"))
	req := &gateway.ProxyRequest{Dialect: gateway.DialectOpenAIChat, Op: gateway.OpGenerate, Model: "m", Body: []byte(`{}`)}
	_, err := h.Call(t.Context(), req, &gateway.CallContext{})
	if !errors.Is(err, gateway.ErrBadRequest) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestCallEmptyPool(t *testing.T) {
	t.Parallel()

	h := testHandle(t, "claude", nil)
	req := &gateway.ProxyRequest{
		Dialect: gateway.DialectClaude, Op: gateway.OpGenerate, Model: "m",
		Body: []byte(`{"model":"m","messages":[]}`),
	}
	_, err := h.Call(t.Context(), req, &gateway.CallContext{})
	if !errors.Is(err, gateway.ErrPoolEmpty) {
		t.Fatalf("err = %v, want ErrPoolEmpty", err)
	}
}

func TestLocalCount(t *testing.T) {
	t.Parallel()

	h := testHandle(t, "openai", nil)
	req := &gateway.ProxyRequest{
		Dialect: gateway.DialectClaude, Op: gateway.OpCountTokens,
		Body: []byte(`{"model":"m","messages":[{"role":"user","content":"count these tokens please"}]}`),
	}
	resp, err := h.Call(t.Context(), req, &gateway.CallContext{})
	if err != nil {
		t.Fatalf("Call: %v", err)
	}
	if got := gjson.GetBytes(resp.Body, "input_tokens").Int(); got < 1 {
		t.Errorf("input_tokens = %d, want a positive estimate", got)
	}
}

func TestStaticModels(t *testing.T) {
	t.Parallel()

	h := testHandle(t, "vertexexpress", nil)

	list, err := h.Call(t.Context(), &gateway.ProxyRequest{
		Dialect: gateway.DialectGemini, Op: gateway.OpModelsList, Version: gateway.GeminiV1Beta,
	}, &gateway.CallContext{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if n := gjson.GetBytes(list.Body, "models.#").Int(); n == 0 {
		t.Error("empty static model list")
	}

	get, err := h.Call(t.Context(), &gateway.ProxyRequest{
		Dialect: gateway.DialectGemini, Op: gateway.OpModelsGet, Model: "gemini-2.5-pro",
	}, &gateway.CallContext{})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got := gjson.GetBytes(get.Body, "name").String(); got != "models/gemini-2.5-pro" {
		t.Errorf("name = %q", got)
	}

	_, err = h.Call(t.Context(), &gateway.ProxyRequest{
		Dialect: gateway.DialectGemini, Op: gateway.OpModelsGet, Model: "made-up",
	}, &gateway.CallContext{})
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("unknown model err = %v, want ErrNotFound", err)
	}
}

func TestAccountUsageUnsupported(t *testing.T) {
	t.Parallel()

	h := testHandle(t, "openai", nil, apiKeyCred(1, 1, "http://127.0.0.1:0"))
	_, err := h.Call(t.Context(), &gateway.ProxyRequest{
		Dialect: gateway.DialectOpenAIResponses, Op: gateway.OpUsage,
	}, &gateway.CallContext{})
	if !errors.Is(err, gateway.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

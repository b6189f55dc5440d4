package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tidwall/gjson"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/app"
	"github.com/eugener/bifrost/internal/auth"
	"github.com/eugener/bifrost/internal/provider"
	"github.com/eugener/bifrost/internal/storage"
	"github.com/eugener/bifrost/internal/storage/sqlite"
	"github.com/eugener/bifrost/internal/telemetry"
)

const (
	testAdminKey = "admin-secret"
	testAPIKey   = "bf_test"
)

type stack struct {
	ts    *httptest.Server
	store storage.Store
}

// newStack boots the full gateway behind an httptest listener: sqlite store,
// storage bus, registry, auth, app, and the chi handler.
func newStack(t *testing.T) *stack {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "gateway.db")
	store, err := sqlite.New(dsn)
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	bus := storage.NewBus(store, slog.Default(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	busDone := make(chan struct{})
	go func() {
		defer close(busDone)
		if err := bus.Run(ctx); err != nil {
			t.Errorf("bus run: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-busDone:
		case <-time.After(5 * time.Second):
			t.Error("bus did not drain on shutdown")
		}
	})

	registry, err := provider.NewRegistry(bus)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	authn := auth.New()
	cfg := &gateway.Config{Host: "127.0.0.1", Port: 8081, AdminKey: testAdminKey, DSN: dsn}
	application := app.New(bus, registry, authn, cfg, slog.Default())
	if err := application.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}

	handler := New(Deps{
		Auth:     authn,
		Registry: registry,
		App:      application,
		Sink:     bus,
		Metrics:  metrics,
		MetricsH: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	return &stack{ts: ts, store: store}
}

func (s *stack) do(t *testing.T, method, path string, header map[string]string, body string) (int, []byte) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, b
}

func asAdmin() map[string]string { return map[string]string{"x-admin-key": testAdminKey} }

func asBearer(key string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + key}
}

// seedTenant creates a user and an enabled API key through the admin API so
// the handlers drive their own snapshot reload.
func (s *stack) seedTenant(t *testing.T) {
	t.Helper()
	status, body := s.do(t, "POST", "/admin/users", asAdmin(), `{"name":"alice"}`)
	if status != http.StatusCreated {
		t.Fatalf("create user: %d %s", status, body)
	}
	userID := gjson.GetBytes(body, "id").Int()
	status, body = s.do(t, "POST", "/admin/keys", asAdmin(),
		`{"user_id":`+gjson.GetBytes(body, "id").Raw+`,"key":"`+testAPIKey+`","enabled":true}`)
	if status != http.StatusCreated {
		t.Fatalf("create key for user %d: %d %s", userID, status, body)
	}
}

// seedProvider creates a provider row and one weighted credential whose
// base_url points at the given upstream. Returns the credential id.
func (s *stack) seedProvider(t *testing.T, name, baseURL string) int64 {
	t.Helper()
	status, body := s.do(t, "POST", "/admin/providers", asAdmin(),
		`{"name":"`+name+`","enabled":true}`)
	if status != http.StatusCreated {
		t.Fatalf("create provider: %d %s", status, body)
	}
	pid := gjson.GetBytes(body, "id").Raw
	status, body = s.do(t, "POST", "/admin/credentials", asAdmin(),
		`{"provider_id":`+pid+`,"secret":{"api_key":"sk-upstream"},"meta":{"base_url":"`+baseURL+`"},"weight":10,"enabled":true}`)
	if status != http.StatusCreated {
		t.Fatalf("create credential: %d %s", status, body)
	}
	return gjson.GetBytes(body, "id").Int()
}

func TestSystemEndpoints(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	if status, body := s.do(t, "GET", "/healthz", nil, ""); status != http.StatusOK || string(body) != "ok" {
		t.Errorf("healthz = %d %q", status, body)
	}
	if status, _ := s.do(t, "GET", "/readyz", nil, ""); status != http.StatusOK {
		t.Errorf("readyz = %d", status)
	}
}

func TestProxyRequiresAPIKey(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	status, body := s.do(t, "POST", "/claude/v1/messages", nil, `{"model":"m","messages":[]}`)
	if status != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", status)
	}
	if typ := gjson.GetBytes(body, "error.type").String(); typ != "authentication_error" {
		t.Errorf("error type = %q", typ)
	}
}

func TestAdminRequiresAdminKey(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	if status, _ := s.do(t, "GET", "/admin/users", nil, ""); status != http.StatusUnauthorized {
		t.Errorf("no key: status = %d, want 401", status)
	}
	if status, _ := s.do(t, "GET", "/admin/users", map[string]string{"x-admin-key": "wrong"}, ""); status != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d, want 401", status)
	}
	if status, _ := s.do(t, "GET", "/admin/users", asAdmin(), ""); status != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", status)
	}
}

func TestProxyUnknownProvider(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	s.seedTenant(t)
	status, body := s.do(t, "POST", "/nonesuch/v1/messages", asBearer(testAPIKey), `{"model":"m","messages":[]}`)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404: %s", status, body)
	}
}

func TestProxyNoCredentials(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	s.seedTenant(t)
	status, body := s.do(t, "POST", "/admin/providers", asAdmin(), `{"name":"openai","enabled":true}`)
	if status != http.StatusCreated {
		t.Fatalf("create provider: %d %s", status, body)
	}

	status, body = s.do(t, "POST", "/openai/v1/chat/completions", asBearer(testAPIKey),
		`{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503: %s", status, body)
	}
	if typ := gjson.GetBytes(body, "error.type").String(); typ != "no_credentials_available" {
		t.Errorf("error type = %q", typ)
	}
}

func TestProxyEndToEnd(t *testing.T) {
	t.Parallel()

	var gotPath, gotKey, gotVersion string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant",` +
			`"content":[{"type":"text","text":"hello"}],` +
			`"usage":{"input_tokens":3,"output_tokens":5}}`))
	}))
	defer upstream.Close()

	s := newStack(t)
	s.seedTenant(t)
	s.seedProvider(t, "claude", upstream.URL)

	status, body := s.do(t, "POST", "/claude/v1/messages", asBearer(testAPIKey),
		`{"model":"claude-sonnet-4","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d: %s", status, body)
	}
	if gotPath != "/v1/messages" {
		t.Errorf("upstream path = %q", gotPath)
	}
	if gotKey != "sk-upstream" {
		t.Errorf("upstream x-api-key = %q", gotKey)
	}
	if gotVersion == "" {
		t.Error("anthropic-version header missing")
	}
	if text := gjson.GetBytes(body, "content.0.text").String(); text != "hello" {
		t.Errorf("body = %s", body)
	}

	// The registry catalog is reported alongside traffic stats.
	status, body = s.do(t, "GET", "/admin/stats", asAdmin(), "")
	if status != http.StatusOK {
		t.Fatalf("stats: %d %s", status, body)
	}
	found := false
	for _, name := range gjson.GetBytes(body, "providers").Array() {
		if name.String() == "claude" {
			found = true
		}
	}
	if !found {
		t.Errorf("stats providers missing claude: %s", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"msg_1","type":"message","role":"assistant",` +
			`"content":[{"type":"text","text":"ok"}],` +
			`"usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer upstream.Close()

	s := newStack(t)
	s.seedTenant(t)
	s.seedProvider(t, "claude", upstream.URL)

	// Drive a proxy request first so the ingress collectors have samples.
	status, body := s.do(t, "POST", "/claude/v1/messages", asBearer(testAPIKey),
		`{"model":"claude-sonnet-4","max_tokens":64,"messages":[{"role":"user","content":"hi"}]}`)
	if status != http.StatusOK {
		t.Fatalf("proxy: %d %s", status, body)
	}

	status, body = s.do(t, "GET", "/admin/metrics", asAdmin(), "")
	if status != http.StatusOK {
		t.Fatalf("metrics: %d %s", status, body)
	}
	exposition := string(body)
	if !strings.Contains(exposition, "bifrost_requests_total") {
		t.Error("exposition missing bifrost_requests_total")
	}
	if !strings.Contains(exposition, `provider="claude"`) {
		t.Error("ingress counter missing provider label for proxied route")
	}
	if !strings.Contains(exposition, `route="/{provider}/*"`) {
		t.Error("ingress counter missing chi route pattern label")
	}
}

func TestProxyStreamEndToEnd(t *testing.T) {
	t.Parallel()

	const sse = "event: message_start\ndata: {\"type\":\"message_start\",\"message\":{\"usage\":{\"input_tokens\":4}}}\n\n" +
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n"

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(sse))
	}))
	defer upstream.Close()

	s := newStack(t)
	s.seedTenant(t)
	s.seedProvider(t, "claude", upstream.URL)

	req, err := http.NewRequest("POST", s.ts.URL+"/claude/v1/messages",
		strings.NewReader(`{"model":"claude-sonnet-4","max_tokens":64,"stream":true,"messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	resp, err := s.ts.Client().Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("content type = %q", ct)
	}
	got, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(got) != sse {
		t.Errorf("stream altered:\n%q\nwant\n%q", got, sse)
	}
}

func TestAdminValidation(t *testing.T) {
	t.Parallel()

	s := newStack(t)

	tests := []struct {
		name string
		path string
		body string
		want string
	}{
		{name: "user without name", path: "/admin/users", body: `{}`, want: "name is required"},
		{name: "key without user", path: "/admin/keys", body: `{"key":"k"}`, want: "user_id and key are required"},
		{name: "unknown provider name", path: "/admin/providers", body: `{"name":"wat","enabled":true}`, want: "unknown provider name"},
		{name: "credential without provider", path: "/admin/credentials", body: `{"weight":1}`, want: "provider_id is required"},
		{name: "malformed body", path: "/admin/users", body: `{`, want: "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, "POST", tt.path, asAdmin(), tt.body)
			if status != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", status, body)
			}
			if msg := gjson.GetBytes(body, "error.message").String(); msg != tt.want {
				t.Errorf("message = %q, want %q", msg, tt.want)
			}
		})
	}

	if status, body := s.do(t, "GET", "/admin/users/abc", asAdmin(), ""); status != http.StatusBadRequest {
		t.Errorf("garbage id: %d %s", status, body)
	}
	if status, _ := s.do(t, "GET", "/admin/users/99", asAdmin(), ""); status != http.StatusNotFound {
		t.Errorf("missing user: status = %d, want 404", status)
	}
}

func TestDisallowAdmin(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	credID := s.seedProvider(t, "aistudio", "http://127.0.0.1:1")
	id := strconv.FormatInt(credID, 10)

	status, body := s.do(t, "POST", "/admin/disallow", asAdmin(),
		`{"credential_id":`+id+`,"level":"frozen"}`)
	if status != http.StatusBadRequest {
		t.Errorf("bad level: %d %s", status, body)
	}

	status, body = s.do(t, "POST", "/admin/disallow", asAdmin(),
		`{"credential_id":`+id+`,"level":"cooldown"}`)
	if status != http.StatusBadRequest {
		t.Errorf("cooldown without until: %d %s", status, body)
	}

	status, body = s.do(t, "POST", "/admin/disallow", asAdmin(),
		`{"credential_id":`+id+`,"level":"dead","reason":"manual"}`)
	if status != http.StatusCreated {
		t.Fatalf("dead mark: %d %s", status, body)
	}

	status, body = s.do(t, "GET", "/admin/disallow", asAdmin(), "")
	if status != http.StatusOK || len(gjson.GetBytes(body, "@this").Array()) != 1 {
		t.Fatalf("list: %d %s", status, body)
	}
	rowID := gjson.GetBytes(body, "0.id").Raw

	if status, body = s.do(t, "DELETE", "/admin/disallow/"+rowID, asAdmin(), ""); status != http.StatusNoContent {
		t.Errorf("delete: %d %s", status, body)
	}
}

func TestCreateCredentialByProviderName(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	status, body := s.do(t, "POST", "/admin/providers", asAdmin(), `{"name":"deepseek","enabled":true}`)
	if status != http.StatusCreated {
		t.Fatalf("create provider: %d %s", status, body)
	}
	pid := gjson.GetBytes(body, "id").Int()

	status, body = s.do(t, "POST", "/admin/credentials", asAdmin(),
		`{"provider_name":"deepseek","secret":{"api_key":"sk"},"weight":1,"enabled":true}`)
	if status != http.StatusCreated {
		t.Fatalf("create by name: %d %s", status, body)
	}
	if got := gjson.GetBytes(body, "provider_id").Int(); got != pid {
		t.Errorf("provider_id = %d, want %d", got, pid)
	}

	status, body = s.do(t, "POST", "/admin/credentials", asAdmin(),
		`{"provider_name":"nonesuch","secret":{"api_key":"sk"}}`)
	if status != http.StatusNotFound {
		t.Errorf("unknown name: %d %s", status, body)
	}
}

func TestPutConfig(t *testing.T) {
	t.Parallel()

	s := newStack(t)
	status, body := s.do(t, "PUT", "/admin/config", asAdmin(),
		`{"host":"127.0.0.1","port":8081,"proxy":"http://egress.local:3128"}`)
	if status != http.StatusOK {
		t.Fatalf("put config: %d %s", status, body)
	}
	// Empty admin_key and dsn inherit the previous values.
	if key := gjson.GetBytes(body, "admin_key").String(); key != testAdminKey {
		t.Errorf("admin key = %q, want inherited", key)
	}

	status, body = s.do(t, "GET", "/admin/config", asAdmin(), "")
	if status != http.StatusOK {
		t.Fatalf("get config: %d %s", status, body)
	}
	if proxy := gjson.GetBytes(body, "proxy").String(); proxy != "http://egress.local:3128" {
		t.Errorf("proxy = %q", proxy)
	}
}


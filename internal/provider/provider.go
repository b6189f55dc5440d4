package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/dispatch"
	"github.com/eugener/bifrost/internal/pool"
)

// maxUnaryBody caps buffered upstream response bodies.
const maxUnaryBody = 32 << 20

// Registry is the fixed catalog of provider handles. Immutable after
// construction; pool snapshots swap per handle.
type Registry struct {
	handles map[string]*Handle
	names   []string
	tokens  *TokenSource
}

// NewRegistry builds one handle per Specs row, all sharing the client cache
// and OAuth token source. sink receives pool state events.
func NewRegistry(sink gateway.StateSink) (*Registry, error) {
	tokens, err := NewTokenSource()
	if err != nil {
		return nil, err
	}
	clients := NewClientCache()

	r := &Registry{handles: make(map[string]*Handle, len(Specs)), tokens: tokens}
	for _, spec := range Specs {
		r.handles[spec.Name] = &Handle{
			spec:    spec,
			pool:    pool.New(spec.Name, sink),
			fam:     familyFor(spec.Dialect),
			clients: clients,
			tokens:  tokens,
			now:     time.Now,
		}
		r.names = append(r.names, spec.Name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (gateway.Provider, error) {
	h, ok := r.handles[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q", gateway.ErrNotFound, name)
	}
	return h, nil
}

// Handle returns the concrete handle, for pool access.
func (r *Registry) Handle(name string) (*Handle, bool) {
	h, ok := r.handles[name]
	return h, ok
}

// Names returns the sorted provider names.
func (r *Registry) Names() []string { return r.names }

// ApplyPools swaps in new pool snapshots; providers absent from the map keep
// their current snapshot.
func (r *Registry) ApplyPools(snaps map[string]*pool.Snapshot) {
	for name, snap := range snaps {
		if h, ok := r.handles[name]; ok {
			h.pool.Replace(snap)
		}
	}
}

// Tokens returns the shared OAuth token cache, for admin invalidation.
func (r *Registry) Tokens() *TokenSource { return r.tokens }

// Handle is one provider: its spec, credential pool, and wire family.
type Handle struct {
	spec    Spec
	pool    *pool.Pool
	fam     family
	clients *ClientCache
	tokens  *TokenSource
	now     func() time.Time
}

// Name returns the provider identifier.
func (h *Handle) Name() string { return h.spec.Name }

// Pool exposes the credential pool for snapshot swaps and admin reads.
func (h *Handle) Pool() *pool.Pool { return h.pool }

// Spec returns the static provider description.
func (h *Handle) Spec() Spec { return h.spec }

func (h *Handle) baseURL(cred *gateway.Credential) string {
	if b := cred.MetaString("base_url"); b != "" {
		return b
	}
	return h.spec.BaseURL
}

// Call executes a classified request: plan the route, translate, run the pool
// attempt loop, translate back, record traffic.
func (h *Handle) Call(ctx context.Context, req *gateway.ProxyRequest, cc *gateway.CallContext) (*gateway.ProxyResponse, error) {
	start := h.now()

	switch {
	case req.Op == gateway.OpUsage:
		return h.accountUsage(ctx, cc, start)
	case req.Op == gateway.OpCountTokens && h.spec.LocalCount:
		return h.localCount(req, cc, start)
	case (req.Op == gateway.OpModelsList || req.Op == gateway.OpModelsGet) && h.spec.StaticModels:
		return h.staticModels(req, cc, start)
	}

	plan, err := dispatch.For(req.Dialect, h.spec.Dialect, req.Op)
	if err != nil {
		return nil, err
	}
	upReq, err := plan.UpstreamRequest(req)
	if err != nil {
		return nil, err
	}

	scope := gateway.ScopeAllModels()
	if upReq.Model != "" {
		scope = gateway.ScopeModel(upReq.Model)
	}
	return h.pool.Execute(ctx, scope, func(ctx context.Context, cred *gateway.Credential) (*gateway.ProxyResponse, error) {
		return h.attempt(ctx, cred, plan, req, upReq, cc, scope, start)
	})
}

// attempt runs one upstream exchange with one credential. Failures that
// should fall through to the next credential come back as *pool.AttemptError.
func (h *Handle) attempt(ctx context.Context, cred *gateway.Credential, plan dispatch.Plan,
	req, upReq *gateway.ProxyRequest, cc *gateway.CallContext,
	scope gateway.DisallowScope, start time.Time) (*gateway.ProxyResponse, error) {

	httpReq, err := h.fam.build(ctx, h, cred, upReq)
	if err != nil {
		if errors.Is(err, gateway.ErrBadRequest) {
			return nil, err
		}
		// Token refresh or credential shape problem; sideline the credential
		// briefly and try the next one.
		return nil, &pool.AttemptError{
			Err:  fmt.Errorf("%w: %v", gateway.ErrUpstreamNetwork, err),
			Mark: &gateway.Mark{Scope: gateway.ScopeAllModels(), Level: gateway.LevelTransient, Reason: "credential_setup_failed"},
		}
	}

	upMeta := gateway.UpstreamRecordMeta{
		Provider:     h.spec.Name,
		CredentialID: cred.ID,
		Operation:    upReq.OperationTag(),
		Model:        upReq.Model,
		Method:       httpReq.Method,
		URL:          httpReq.URL.String(),
		Header:       httpReq.Header.Clone(),
		Body:         upReq.Body,
		UserID:       cc.UserID,
		KeyID:        cc.KeyID,
		TraceID:      cc.TraceID,
	}

	sent := h.now()
	resp, err := h.clients.For(cc.ProxyURL).Do(httpReq)
	if err != nil {
		return nil, &pool.AttemptError{
			Err:  fmt.Errorf("%w: %s: %v", gateway.ErrUpstreamNetwork, h.spec.Name, err),
			Mark: &gateway.Mark{Scope: scope, Level: gateway.LevelTransient, Reason: "upstream_unavailable"},
		}
	}
	if resp.StatusCode >= 300 {
		pe, body := passthrough(resp)
		resp.Body.Close()
		h.recordUpstream(cc, upMeta, resp.StatusCode, resp.Header, body, gateway.TrafficUsage{}, sent)
		return nil, &pool.AttemptError{Err: pe, Mark: markForStatus(resp.StatusCode, resp.Header, scope)}
	}

	if upReq.Stream() {
		return h.streamResponse(resp, plan, req, upReq, cc, upMeta, sent, start)
	}
	return h.unaryResponse(resp, plan, req, upReq, cc, upMeta, sent, start)
}

func (h *Handle) unaryResponse(resp *http.Response, plan dispatch.Plan,
	req, upReq *gateway.ProxyRequest, cc *gateway.CallContext,
	upMeta gateway.UpstreamRecordMeta, sent, start time.Time) (*gateway.ProxyResponse, error) {

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUnaryBody))
	resp.Body.Close()
	if err != nil {
		return nil, &pool.AttemptError{
			Err:  fmt.Errorf("%w: %s: read body: %v", gateway.ErrUpstreamNetwork, h.spec.Name, err),
			Mark: &gateway.Mark{Scope: gateway.ScopeModel(upReq.Model), Level: gateway.LevelTransient, Reason: "upstream_unavailable"},
		}
	}
	body = h.fam.unwrap(body)

	upUsage := dispatch.ExtractUsage(gateway.UsageKindFor(h.spec.Dialect, upReq.Op), body)
	h.recordUpstream(cc, upMeta, resp.StatusCode, resp.Header, body, upUsage, sent)

	out, err := plan.DownstreamResponse(req.Op, req.Model, body)
	if err != nil {
		return nil, err
	}
	downUsage := upUsage
	if !plan.Native {
		downUsage = dispatch.ProjectUsage(upUsage, gateway.UsageKindFor(req.Dialect, req.Op))
	}
	h.recordDownstream(cc, resp.StatusCode, out, downUsage, start)

	header := sanitizeHeader(resp.Header)
	header.Set("Content-Type", "application/json")
	return &gateway.ProxyResponse{Status: resp.StatusCode, Header: header, Body: out}, nil
}

func (h *Handle) streamResponse(resp *http.Response, plan dispatch.Plan,
	req, upReq *gateway.ProxyRequest, cc *gateway.CallContext,
	upMeta gateway.UpstreamRecordMeta, sent, start time.Time) (*gateway.ProxyResponse, error) {

	machine, err := plan.Machine(req.Model)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}

	downKind := gateway.UsageKindFor(req.Dialect, req.Op)
	status := resp.StatusCode
	respHeader := resp.Header
	stream := dispatch.OpenStream(dispatch.StreamSpec{
		Upstream:  h.fam.unwrapStream(resp.Body),
		Machine:   machine,
		UpUsage:   dispatch.NewUsageAccumulator(gateway.UsageKindFor(h.spec.Dialect, upReq.Op)),
		DownUsage: dispatch.NewUsageAccumulator(downKind),
		OnFinish: func(up, down dispatch.StreamRecord) {
			h.recordUpstream(cc, upMeta, status, respHeader, up.Body, up.Usage, sent)
			downUsage := down.Usage
			if downUsage.Empty() {
				downUsage = dispatch.ProjectUsage(up.Usage, downKind)
			}
			h.recordDownstream(cc, status, down.Body, downUsage, start)
		},
	})

	header := sanitizeHeader(respHeader)
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	return &gateway.ProxyResponse{Status: status, Header: header, Stream: stream}, nil
}

// accountUsage proxies the provider's OAuth account usage endpoint.
func (h *Handle) accountUsage(ctx context.Context, cc *gateway.CallContext, start time.Time) (*gateway.ProxyResponse, error) {
	if h.spec.UsageURL == "" {
		return nil, fmt.Errorf("%w: %s has no usage endpoint", gateway.ErrNotFound, h.spec.Name)
	}
	return h.pool.Execute(ctx, gateway.ScopeAllModels(), func(ctx context.Context, cred *gateway.Credential) (*gateway.ProxyResponse, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, h.spec.UsageURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build usage request: %w", err)
		}
		tok, err := h.tokens.AccessToken(ctx, h.spec, cred)
		if err != nil {
			return nil, &pool.AttemptError{
				Err:  fmt.Errorf("%w: %v", gateway.ErrUpstreamNetwork, err),
				Mark: &gateway.Mark{Scope: gateway.ScopeAllModels(), Level: gateway.LevelTransient, Reason: "credential_setup_failed"},
			}
		}
		httpReq.Header.Set("Authorization", "Bearer "+tok)
		if h.spec.BetaHeader != "" {
			httpReq.Header.Set("anthropic-beta", h.spec.BetaHeader)
		}

		resp, err := h.clients.For(cc.ProxyURL).Do(httpReq)
		if err != nil {
			return nil, &pool.AttemptError{
				Err:  fmt.Errorf("%w: %s: %v", gateway.ErrUpstreamNetwork, h.spec.Name, err),
				Mark: &gateway.Mark{Scope: gateway.ScopeAllModels(), Level: gateway.LevelTransient, Reason: "upstream_unavailable"},
			}
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			pe, _ := passthrough(resp)
			return nil, &pool.AttemptError{Err: pe, Mark: markForStatus(resp.StatusCode, resp.Header, gateway.ScopeAllModels())}
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxUnaryBody))
		if err != nil {
			return nil, fmt.Errorf("%w: read usage body: %v", gateway.ErrUpstreamNetwork, err)
		}
		header := sanitizeHeader(resp.Header)
		header.Set("Content-Type", "application/json")
		return &gateway.ProxyResponse{Status: resp.StatusCode, Header: header, Body: body}, nil
	})
}

func (h *Handle) recordUpstream(cc *gateway.CallContext, meta gateway.UpstreamRecordMeta,
	status int, hdr http.Header, body []byte, usage gateway.TrafficUsage, sent time.Time) {
	if cc.Traffic == nil {
		return
	}
	now := h.now()
	cc.Traffic.RecordUpstream(gateway.UpstreamTrafficEvent{
		Meta:       meta,
		Status:     status,
		RespHeader: hdr,
		RespBody:   body,
		Usage:      usage,
		DurationMs: now.Sub(sent).Milliseconds(),
		At:         now,
	})
}

func (h *Handle) recordDownstream(cc *gateway.CallContext, status int, body []byte,
	usage gateway.TrafficUsage, start time.Time) {
	if cc.Traffic == nil || cc.Downstream == nil {
		return
	}
	now := h.now()
	cc.Traffic.RecordDownstream(gateway.DownstreamTrafficEvent{
		Meta:       *cc.Downstream,
		Status:     status,
		RespBody:   body,
		Usage:      usage,
		DurationMs: now.Sub(start).Milliseconds(),
		At:         now,
	})
}

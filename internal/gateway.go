// Package gateway defines domain types and interfaces for the Bifrost LLM proxy.
// This package has no project imports -- it is the dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
)

// --- Provider ---

// Provider is the polymorphic boundary between the HTTP layer and a concrete
// upstream backend. Implementations own a credential pool and an HTTP client;
// Call runs the full dispatch (plan, pool attempt loop, transform, record).
type Provider interface {
	// Name returns the provider identifier (e.g. "openai", "aistudio").
	Name() string
	// Call executes a classified request against the provider.
	Call(ctx context.Context, req *ProxyRequest, cc *CallContext) (*ProxyResponse, error)
}

// ProxyResponse is the outcome of a provider call: either a buffered JSON
// body or a live SSE byte stream. Exactly one of Body and Stream is set.
type ProxyResponse struct {
	Status int
	Header http.Header
	Body   []byte
	Stream io.ReadCloser
}

// IsStream reports whether the response carries a live byte stream.
func (r *ProxyResponse) IsStream() bool { return r.Stream != nil }

// CallContext carries per-request values into the dispatch path.
type CallContext struct {
	TraceID  string
	UserID   int64
	KeyID    int64
	ProxyURL string // optional outbound forward proxy

	Traffic    TrafficSink           // nil = no recording
	Downstream *DownstreamRecordMeta // nil = no downstream record
}

// --- Identity ---

// Identity is the authenticated caller attached to the request context.
type Identity struct {
	UserID int64
	KeyID  int64
	Admin  bool
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the authenticate middleware via mutation
// of the same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	TraceID  string
	Identity *Identity
}

func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, avoiding a new context.WithValue allocation.
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// TraceIDFromContext extracts the trace ID from context.
func TraceIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.TraceID
	}
	return ""
}

// ContextWithTraceID returns a context carrying the given trace ID.
func ContextWithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{TraceID: id})
}

// --- Shared helpers ---

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// Package dispatch plans how a classified downstream request reaches an
// upstream backend and carries the shared recording plumbing: usage
// extraction, the streaming tee pipeline, and traffic event assembly.
package dispatch

import (
	"fmt"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/transform"
)

// Plan is the route for one request: native passthrough or a transform pair.
type Plan struct {
	Native bool
	Pair   transform.Pair // valid when !Native
}

// For computes the plan for serving dialect d against an upstream whose
// native dialect is native. Combinations with no translation, and operations
// the pair cannot translate, are client errors.
func For(d, native gateway.Dialect, op gateway.Operation) (Plan, error) {
	if d == native {
		return Plan{Native: true}, nil
	}
	p, ok := transform.PairFor(d, native)
	if !ok {
		return Plan{}, fmt.Errorf("%w: no route from %s to a %s upstream", gateway.ErrBadRequest, d, native)
	}
	if !transform.Supports(p, op) {
		return Plan{}, fmt.Errorf("%w: %s is not supported across %s", gateway.ErrBadRequest, op, p)
	}
	return Plan{Pair: p}, nil
}

// UpstreamRequest translates req per the plan. Native plans return req as is.
func (p Plan) UpstreamRequest(req *gateway.ProxyRequest) (*gateway.ProxyRequest, error) {
	if p.Native {
		return req, nil
	}
	return transform.Request(p.Pair, req)
}

// DownstreamResponse translates a unary upstream body back into the
// downstream dialect. Native plans return body as is.
func (p Plan) DownstreamResponse(op gateway.Operation, reqModel string, body []byte) ([]byte, error) {
	if p.Native {
		return body, nil
	}
	return transform.Response(p.Pair, op, reqModel, body)
}

// Machine creates the stream state machine for the plan, or nil for native
// passthrough.
func (p Plan) Machine(reqModel string) (transform.Stream, error) {
	if p.Native {
		return nil, nil
	}
	return transform.NewStream(p.Pair, reqModel)
}

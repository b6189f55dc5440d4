package provider

import (
	"encoding/json"
	"net/http"
	"time"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/dispatch"
	"github.com/eugener/bifrost/internal/protocol/claude"
	"github.com/eugener/bifrost/internal/protocol/gemini"
	"github.com/eugener/bifrost/internal/protocol/openai"
	"github.com/eugener/bifrost/internal/tokencount"
)

// localCount answers count-tokens from the offline estimator for backends
// with no count endpoint. The number is an approximation, not a tokenizer
// run.
func (h *Handle) localCount(req *gateway.ProxyRequest, cc *gateway.CallContext, start time.Time) (*gateway.ProxyResponse, error) {
	n := int64(tokencount.Body(req.Body))

	var out []byte
	var err error
	switch req.Dialect {
	case gateway.DialectClaude:
		out, err = json.Marshal(claude.CountTokensResponse{InputTokens: n})
	case gateway.DialectGemini:
		out, err = json.Marshal(gemini.CountTokensResponse{TotalTokens: n})
	default:
		out, err = json.Marshal(openai.InputTokensResponse{InputTokens: n})
	}
	if err != nil {
		return nil, err
	}
	return h.localResponse(req, cc, out, start), nil
}

// staticModels serves list/get from the baked-in catalog, translated into the
// caller's dialect.
func (h *Handle) staticModels(req *gateway.ProxyRequest, cc *gateway.CallContext, start time.Time) (*gateway.ProxyResponse, error) {
	plan, err := dispatch.For(req.Dialect, h.spec.Dialect, req.Op)
	if err != nil {
		return nil, err
	}
	body, err := h.staticModelBody(req.Op, req.Model)
	if err != nil {
		return nil, err
	}
	out, err := plan.DownstreamResponse(req.Op, req.Model, body)
	if err != nil {
		return nil, err
	}
	return h.localResponse(req, cc, out, start), nil
}

// localResponse records a synthetic empty-body upstream exchange plus the
// normal downstream record, and wraps the locally produced body.
func (h *Handle) localResponse(req *gateway.ProxyRequest, cc *gateway.CallContext, body []byte, start time.Time) *gateway.ProxyResponse {
	h.recordUpstream(cc, gateway.UpstreamRecordMeta{
		Provider:  h.spec.Name,
		Operation: h.spec.Dialect.String() + "." + req.Op.String(),
		Model:     req.Model,
		UserID:    cc.UserID,
		KeyID:     cc.KeyID,
		TraceID:   cc.TraceID,
	}, http.StatusOK, nil, nil, gateway.TrafficUsage{}, start)
	h.recordDownstream(cc, http.StatusOK, body, gateway.TrafficUsage{}, start)

	header := make(http.Header, 1)
	header.Set("Content-Type", "application/json")
	return &gateway.ProxyResponse{Status: http.StatusOK, Header: header, Body: body}
}

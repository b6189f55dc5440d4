package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/classify"
)

// maxProxyBody caps buffered downstream request bodies (32 MB).
const maxProxyBody = 32 << 20

// handleProxy serves ANY /{provider}/* by classifying the dialect-relative
// path and handing the request to the provider's dispatch.
func (s *server) handleProxy(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "provider")
	prov, err := s.deps.Registry.Get(name)
	if err != nil {
		writeError(w, err)
		return
	}

	rest := chi.URLParam(r, "*")

	var body []byte
	if r.Body != nil {
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBody))
		if err != nil {
			writeError(w, gateway.ErrBadRequest)
			return
		}
	}

	req, err := classify.Classify(r.Method, rest, r.URL.Query(), r.Header, body)
	if err != nil {
		writeError(w, err)
		return
	}

	cc := s.callContext(r, name, req, body)
	resp, err := prov.Call(r.Context(), req, cc)
	if err != nil {
		writeError(w, err)
		return
	}

	if resp.IsStream() {
		s.writeStream(w, r, resp)
		return
	}
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.Status)
	w.Write(resp.Body)
}

// callContext captures the downstream envelope for traffic recording and the
// caller's identity for attribution.
func (s *server) callContext(r *http.Request, providerName string, req *gateway.ProxyRequest, body []byte) *gateway.CallContext {
	cc := &gateway.CallContext{
		TraceID:  gateway.TraceIDFromContext(r.Context()),
		ProxyURL: s.deps.App.Config().Proxy,
		Traffic:  s.deps.Sink,
	}
	if id := gateway.IdentityFromContext(r.Context()); id != nil {
		cc.UserID = id.UserID
		cc.KeyID = id.KeyID
	}
	if s.deps.Sink != nil {
		cc.Downstream = &gateway.DownstreamRecordMeta{
			Provider:  providerName,
			Operation: req.OperationTag(),
			Model:     req.Model,
			Method:    r.Method,
			Path:      r.URL.Path,
			Query:     r.URL.RawQuery,
			Header:    r.Header.Clone(),
			Body:      body,
			UserID:    cc.UserID,
			KeyID:     cc.KeyID,
			TraceID:   cc.TraceID,
		}
	}
	return cc
}

// writeStream forwards a live SSE stream, flushing after every chunk.
func (s *server) writeStream(w http.ResponseWriter, r *http.Request, resp *gateway.ProxyResponse) {
	defer resp.Stream.Close()

	copyHeader(w.Header(), resp.Header)
	w.Header()["X-Accel-Buffering"] = []string{"no"}
	w.WriteHeader(resp.Status)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Stream.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err != nil {
			if err != io.EOF && r.Context().Err() == nil {
				slog.LogAttrs(r.Context(), slog.LevelWarn, "stream aborted",
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

// --- Error writing ---

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg, typ string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = typ
	return e
}

// writeError maps domain errors to HTTP. Passthrough errors forward the
// upstream's status, headers, and body verbatim.
func writeError(w http.ResponseWriter, err error) {
	var pe *gateway.PassthroughError
	if errors.As(err, &pe) {
		copyHeader(w.Header(), pe.Header)
		w.WriteHeader(pe.Status)
		w.Write(pe.Body)
		return
	}

	switch {
	case errors.Is(err, gateway.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error(), "invalid_request_error"))
	case errors.Is(err, gateway.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorResponse(err.Error(), "authentication_error"))
	case errors.Is(err, gateway.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResponse(err.Error(), "permission_error"))
	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error(), "not_found_error"))
	case errors.Is(err, gateway.ErrConflict):
		writeJSON(w, http.StatusConflict, errorResponse(err.Error(), "conflict_error"))
	case errors.Is(err, gateway.ErrPoolEmpty):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(err.Error(), "no_credentials_available"))
	case errors.Is(err, gateway.ErrTransform), errors.Is(err, gateway.ErrUpstreamNetwork):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse(err.Error(), "service_unavailable"))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error", "api_error"))
	}
}

// hop-by-hop headers are stripped when forwarding upstream responses.
var hopByHop = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

func copyHeader(dst, src http.Header) {
	for k, vs := range src {
		if hopByHop[k] {
			continue
		}
		dst[k] = vs
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

package provider

import (
	"io"
	"net/http"
	"strconv"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

// maxErrorBody caps buffered upstream error bodies.
const maxErrorBody = 1 << 20

// passthrough drains an upstream error response into a PassthroughError so
// the client sees the provider's own envelope.
func passthrough(resp *http.Response) (*gateway.PassthroughError, []byte) {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &gateway.PassthroughError{
		Status: resp.StatusCode,
		Header: sanitizeHeader(resp.Header),
		Body:   body,
	}, body
}

// markForStatus maps an upstream error status to the pool mark it earns, or
// nil when the status is the caller's problem (other 4xx) or an upstream
// one-off (other 5xx).
func markForStatus(status int, header http.Header, scope gateway.DisallowScope) *gateway.Mark {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &gateway.Mark{Scope: gateway.ScopeAllModels(), Level: gateway.LevelDead, Reason: "auth_error"}
	case status == http.StatusTooManyRequests:
		return &gateway.Mark{
			Scope:      scope,
			Level:      gateway.LevelCooldown,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
			Reason:     "rate_limit",
		}
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable || status == http.StatusGatewayTimeout:
		return &gateway.Mark{Scope: scope, Level: gateway.LevelTransient, Reason: "upstream_unavailable"}
	}
	return nil
}

// parseRetryAfter accepts the delta-seconds and HTTP-date forms. Zero means
// "use the default".
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

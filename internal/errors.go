package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the gateway domain.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBadRequest   = errors.New("bad request")

	// ErrPoolEmpty means no eligible credential existed for the scope.
	// Surfaced as 503 no_credentials_available.
	ErrPoolEmpty = errors.New("no credentials available")

	// ErrTransform means a transform failed to parse or serialize a payload.
	// Surfaced as 503 service_unavailable; the upstream itself was fine.
	ErrTransform = errors.New("transform failed")

	// ErrUpstreamNetwork is a DNS/connect/read failure talking to an upstream.
	ErrUpstreamNetwork = errors.New("upstream network failure")
)

// PassthroughError carries a non-2xx upstream response verbatim so the client
// can see the provider's own error envelope.
type PassthroughError struct {
	Status int
	Header http.Header
	Body   []byte
}

func (e *PassthroughError) Error() string {
	return fmt.Sprintf("upstream HTTP %d: %s", e.Status, truncate(e.Body, 200))
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

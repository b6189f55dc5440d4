// Package auth resolves downstream API keys against an in-memory snapshot.
// The snapshot is rebuilt from the store on every admin reload and swapped
// atomically; request-path lookups take no locks.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	gateway "github.com/eugener/bifrost/internal"
)

type entry struct {
	keyID   int64
	userID  int64
	enabled bool
}

type snapshot struct {
	// keyed by HashKey(key_value) so raw keys are not held in memory
	keys     map[string]entry
	adminKey string
}

// Auth authenticates downstream requests and admin requests.
type Auth struct {
	snap atomic.Pointer[snapshot]
}

// New returns an Auth with an empty snapshot; every lookup fails until Load.
func New() *Auth {
	a := &Auth{}
	a.snap.Store(&snapshot{keys: map[string]entry{}})
	return a
}

// Load rebuilds the snapshot from the given keys and admin key and swaps it
// in atomically.
func (a *Auth) Load(keys []*gateway.APIKey, adminKey string) {
	m := make(map[string]entry, len(keys))
	for _, k := range keys {
		m[gateway.HashKey(k.Key)] = entry{keyID: k.ID, userID: k.UserID, enabled: k.Enabled}
	}
	a.snap.Store(&snapshot{keys: m, adminKey: adminKey})
}

// Authenticate resolves the caller's API key from the Authorization bearer
// token or the x-api-key header.
func (a *Auth) Authenticate(r *http.Request) (*gateway.Identity, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, gateway.ErrUnauthorized
	}
	snap := a.snap.Load()
	e, ok := snap.keys[gateway.HashKey(token)]
	if !ok {
		return nil, gateway.ErrUnauthorized
	}
	if !e.enabled {
		return nil, fmt.Errorf("api key disabled: %w", gateway.ErrForbidden)
	}
	return &gateway.Identity{UserID: e.userID, KeyID: e.keyID}, nil
}

// Admin checks the x-admin-key header or the bearer token against the
// configured admin key. An empty configured key locks the admin surface.
func (a *Auth) Admin(r *http.Request) error {
	presented := r.Header.Get("x-admin-key")
	if presented == "" {
		presented = TokenFromRequest(r)
	}
	admin := a.snap.Load().adminKey
	if admin == "" || presented == "" {
		return gateway.ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(admin)) != 1 {
		return gateway.ErrUnauthorized
	}
	return nil
}

// TokenFromRequest extracts the caller's key from Authorization ("Bearer",
// case-insensitive) or x-api-key.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
			return strings.TrimSpace(h[7:])
		}
	}
	return r.Header.Get("x-api-key")
}

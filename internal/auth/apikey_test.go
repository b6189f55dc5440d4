package auth

import (
	"errors"
	"net/http/httptest"
	"testing"

	gateway "github.com/eugener/bifrost/internal"
)

func loaded(t *testing.T) *Auth {
	t.Helper()
	a := New()
	a.Load([]*gateway.APIKey{
		{ID: 1, UserID: 10, Key: "bf_live", Enabled: true},
		{ID: 2, UserID: 20, Key: "bf_off", Enabled: false},
	}, "admin-secret")
	return a
}

func TestAuthenticate(t *testing.T) {
	t.Parallel()

	a := loaded(t)

	tests := []struct {
		name    string
		header  string
		value   string
		wantErr error
		keyID   int64
		userID  int64
	}{
		{name: "bearer", header: "Authorization", value: "Bearer bf_live", keyID: 1, userID: 10},
		{name: "bearer lowercase", header: "Authorization", value: "bearer bf_live", keyID: 1, userID: 10},
		{name: "x-api-key", header: "x-api-key", value: "bf_live", keyID: 1, userID: 10},
		{name: "no credentials", wantErr: gateway.ErrUnauthorized},
		{name: "unknown key", header: "x-api-key", value: "nope", wantErr: gateway.ErrUnauthorized},
		{name: "disabled key", header: "x-api-key", value: "bf_off", wantErr: gateway.ErrForbidden},
		{name: "malformed auth header", header: "Authorization", value: "Basic abc", wantErr: gateway.ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("POST", "/claude/v1/messages", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			id, err := a.Authenticate(r)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Authenticate: %v", err)
			}
			if id.KeyID != tt.keyID || id.UserID != tt.userID {
				t.Errorf("identity = %+v", id)
			}
		})
	}
}

func TestAuthenticateBeforeLoad(t *testing.T) {
	t.Parallel()

	a := New()
	r := httptest.NewRequest("POST", "/", nil)
	r.Header.Set("x-api-key", "anything")
	if _, err := a.Authenticate(r); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

func TestAdmin(t *testing.T) {
	t.Parallel()

	a := loaded(t)

	tests := []struct {
		name   string
		header string
		value  string
		ok     bool
	}{
		{name: "x-admin-key", header: "x-admin-key", value: "admin-secret", ok: true},
		{name: "bearer", header: "Authorization", value: "Bearer admin-secret", ok: true},
		{name: "wrong key", header: "x-admin-key", value: "wrong"},
		{name: "api key is not admin", header: "x-api-key", value: "bf_live"},
		{name: "missing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest("GET", "/admin/users", nil)
			if tt.header != "" {
				r.Header.Set(tt.header, tt.value)
			}
			err := a.Admin(r)
			if tt.ok && err != nil {
				t.Fatalf("Admin: %v", err)
			}
			if !tt.ok && !errors.Is(err, gateway.ErrUnauthorized) {
				t.Fatalf("err = %v, want ErrUnauthorized", err)
			}
		})
	}
}

func TestAdminLockedWhenUnconfigured(t *testing.T) {
	t.Parallel()

	a := New()
	a.Load(nil, "")
	r := httptest.NewRequest("GET", "/admin/users", nil)
	r.Header.Set("x-admin-key", "")
	if err := a.Admin(r); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	// Even an empty presented key must not match an empty configured key.
	r.Header.Set("x-admin-key", "anything")
	if err := a.Admin(r); !errors.Is(err, gateway.ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
}

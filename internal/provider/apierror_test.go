package provider

import (
	"net/http"
	"testing"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

func TestMarkForStatus(t *testing.T) {
	t.Parallel()

	scope := gateway.ScopeModel("m")

	t.Run("auth errors are dead at all models", func(t *testing.T) {
		t.Parallel()
		for _, status := range []int{401, 403} {
			m := markForStatus(status, http.Header{}, scope)
			if m == nil {
				t.Fatalf("status %d: no mark", status)
			}
			if m.Level != gateway.LevelDead {
				t.Errorf("status %d: level = %v, want dead", status, m.Level)
			}
			if !m.Scope.AllModels() {
				t.Errorf("status %d: scope = %v, want all models", status, m.Scope)
			}
			if m.Reason != "auth_error" {
				t.Errorf("status %d: reason = %q", status, m.Reason)
			}
		}
	})

	t.Run("429 cooldown honors retry-after", func(t *testing.T) {
		t.Parallel()
		h := http.Header{}
		h.Set("Retry-After", "7")
		m := markForStatus(429, h, scope)
		if m == nil || m.Level != gateway.LevelCooldown {
			t.Fatalf("mark = %+v, want cooldown", m)
		}
		if m.Scope != scope {
			t.Errorf("scope = %v, want the request scope", m.Scope)
		}
		if m.RetryAfter != 7*time.Second {
			t.Errorf("retry after = %v, want 7s", m.RetryAfter)
		}
	})

	t.Run("429 without retry-after defers to the default", func(t *testing.T) {
		t.Parallel()
		m := markForStatus(429, http.Header{}, scope)
		if m == nil || m.RetryAfter != 0 {
			t.Fatalf("mark = %+v, want zero retry-after", m)
		}
	})

	t.Run("gateway errors are transient", func(t *testing.T) {
		t.Parallel()
		for _, status := range []int{502, 503, 504} {
			m := markForStatus(status, http.Header{}, scope)
			if m == nil || m.Level != gateway.LevelTransient {
				t.Errorf("status %d: mark = %+v, want transient", status, m)
			}
		}
	})

	t.Run("caller errors earn no mark", func(t *testing.T) {
		t.Parallel()
		for _, status := range []int{400, 404, 422, 500} {
			if m := markForStatus(status, http.Header{}, scope); m != nil {
				t.Errorf("status %d: mark = %+v, want nil", status, m)
			}
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty = %v", got)
	}
	if got := parseRetryAfter("30"); got != 30*time.Second {
		t.Errorf("delta seconds = %v", got)
	}
	if got := parseRetryAfter("-5"); got != 0 {
		t.Errorf("negative = %v", got)
	}
	if got := parseRetryAfter("soon"); got != 0 {
		t.Errorf("garbage = %v", got)
	}

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(future); got < 80*time.Second || got > 90*time.Second {
		t.Errorf("http date = %v, want ~90s", got)
	}

	past := time.Now().Add(-time.Minute).UTC().Format(http.TimeFormat)
	if got := parseRetryAfter(past); got != 0 {
		t.Errorf("past date = %v", got)
	}
}

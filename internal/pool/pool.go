// Package pool implements the per-provider credential pool with its disallow
// health overlay. Snapshots are immutable and swapped atomically; the attempt
// loop of Execute is the gateway's failover primitive.
package pool

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

// Key identifies one disallow entry inside a snapshot.
type Key struct {
	CredentialID int64
	Scope        gateway.DisallowScope
}

// Snapshot is an immutable pool value: the credential list plus the disallow
// overlay. Never mutated in place; rebuild and swap.
type Snapshot struct {
	Credentials []*gateway.Credential
	Disallow    map[Key]gateway.DisallowEntry
}

// NewSnapshot builds a snapshot from loaded rows.
func NewSnapshot(creds []*gateway.Credential, disallow map[Key]gateway.DisallowEntry) *Snapshot {
	if disallow == nil {
		disallow = map[Key]gateway.DisallowEntry{}
	}
	return &Snapshot{Credentials: creds, Disallow: disallow}
}

// Eligible returns the credentials usable at scope, ordered by weight
// descending with credential id ascending as the tiebreak.
func (s *Snapshot) Eligible(scope gateway.DisallowScope, now time.Time) []*gateway.Credential {
	out := make([]*gateway.Credential, 0, len(s.Credentials))
	for _, c := range s.Credentials {
		if !c.Enabled {
			continue
		}
		if s.blocked(c.ID, gateway.ScopeAllModels(), now) {
			continue
		}
		if !scope.AllModels() && s.blocked(c.ID, scope, now) {
			continue
		}
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Weight != out[j].Weight {
			return out[i].Weight > out[j].Weight
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Snapshot) blocked(id int64, scope gateway.DisallowScope, now time.Time) bool {
	e, ok := s.Disallow[Key{CredentialID: id, Scope: scope}]
	return ok && !e.Expired(now)
}

// AttemptError is an attempt failure carrying the error to surface if no
// further credential is available, plus an optional health mark.
type AttemptError struct {
	Err  error
	Mark *gateway.Mark
}

func (e *AttemptError) Error() string { return e.Err.Error() }
func (e *AttemptError) Unwrap() error { return e.Err }

// AttemptFn runs one upstream attempt with a single credential.
type AttemptFn func(ctx context.Context, cred *gateway.Credential) (*gateway.ProxyResponse, error)

// Pool serves credential attempts for one provider.
type Pool struct {
	provider string
	snap     atomic.Pointer[Snapshot]
	mu       sync.Mutex // serializes overlay rebuilds
	sink     gateway.StateSink
	now      func() time.Time
}

// New creates a pool with an empty snapshot. sink may be nil.
func New(provider string, sink gateway.StateSink) *Pool {
	p := &Pool{provider: provider, sink: sink, now: time.Now}
	p.snap.Store(NewSnapshot(nil, nil))
	return p
}

// Snapshot returns the current shared snapshot.
func (p *Pool) Snapshot() *Snapshot { return p.snap.Load() }

// Replace atomically swaps in a new snapshot (admin edits, reload).
func (p *Pool) Replace(s *Snapshot) {
	p.mu.Lock()
	p.snap.Store(s)
	p.mu.Unlock()
	slog.LogAttrs(context.Background(), slog.LevelInfo, "pool snapshot replaced",
		slog.String("provider", p.provider),
		slog.Int("credentials", len(s.Credentials)),
	)
}

// Execute runs the attempt loop at scope. The snapshot is read once so a
// concurrent Replace cannot reshuffle the in-flight attempt order. Attempts
// run sequentially; an AttemptError applies its mark and falls through to the
// next eligible credential, any other error aborts immediately.
func (p *Pool) Execute(ctx context.Context, scope gateway.DisallowScope, fn AttemptFn) (*gateway.ProxyResponse, error) {
	snap := p.snap.Load()
	eligible := snap.Eligible(scope, p.now())
	if len(eligible) == 0 {
		return nil, gateway.ErrPoolEmpty
	}

	var lastErr error
	for _, cred := range eligible {
		resp, err := fn(ctx, cred)
		if err == nil {
			p.markSuccess(cred.ID, scope)
			return resp, nil
		}

		var ae *AttemptError
		if !errors.As(err, &ae) {
			return nil, err
		}
		if ae.Mark != nil {
			p.applyMark(cred.ID, *ae.Mark)
		}
		lastErr = ae.Err
		slog.LogAttrs(ctx, slog.LevelWarn, "credential attempt failed",
			slog.String("provider", p.provider),
			slog.Int64("credential_id", cred.ID),
			slog.String("scope", scope.String()),
			slog.String("error", ae.Err.Error()),
		)
	}
	return nil, lastErr
}

// markSuccess clears Transient and expired marks on (id, scope) and emits a
// cleared state event when an entry was actually removed.
func (p *Pool) markSuccess(id int64, scope gateway.DisallowScope) {
	now := p.now()
	key := Key{CredentialID: id, Scope: scope}

	p.mu.Lock()
	snap := p.snap.Load()
	e, ok := snap.Disallow[key]
	if !ok || (e.Level != gateway.LevelTransient && !e.Expired(now)) {
		p.mu.Unlock()
		return
	}
	next := cloneOverlay(snap)
	delete(next.Disallow, key)
	p.snap.Store(next)
	p.mu.Unlock()

	p.publish(gateway.StateEvent{
		CredentialID: id,
		Scope:        scope,
		Cleared:      true,
		At:           now,
	})
}

// applyMark installs a disallow entry for (id, mark.Scope). An AllModels mark
// clears any narrower Model marks for the same credential.
func (p *Pool) applyMark(id int64, mark gateway.Mark) {
	now := p.now()
	entry := gateway.DisallowEntry{
		Level:     mark.Level,
		Reason:    mark.Reason,
		UpdatedAt: now,
	}
	switch mark.Level {
	case gateway.LevelCooldown:
		d := mark.RetryAfter
		if d <= 0 {
			d = time.Minute
		}
		t := now.Add(d)
		entry.Until = &t
	case gateway.LevelTransient:
		d := mark.RetryAfter
		if d <= 0 {
			d = gateway.TransientTTL
		}
		t := now.Add(d)
		entry.Until = &t
	}

	p.mu.Lock()
	next := cloneOverlay(p.snap.Load())
	if mark.Scope.AllModels() {
		for k := range next.Disallow {
			if k.CredentialID == id {
				delete(next.Disallow, k)
			}
		}
	}
	next.Disallow[Key{CredentialID: id, Scope: mark.Scope}] = entry
	p.snap.Store(next)
	p.mu.Unlock()

	p.publish(gateway.StateEvent{
		CredentialID: id,
		Scope:        mark.Scope,
		Level:        mark.Level,
		Until:        entry.Until,
		Reason:       mark.Reason,
		At:           now,
	})
}

// cloneOverlay copies the snapshot with a fresh disallow map; the credential
// slice is shared since it is never mutated.
func cloneOverlay(s *Snapshot) *Snapshot {
	m := make(map[Key]gateway.DisallowEntry, len(s.Disallow)+1)
	for k, v := range s.Disallow {
		m[k] = v
	}
	return &Snapshot{Credentials: s.Credentials, Disallow: m}
}

func (p *Pool) publish(ev gateway.StateEvent) {
	if p.sink != nil {
		p.sink.PublishState(ev)
	}
}

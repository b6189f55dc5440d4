// Package app wires storage, credential pools, and auth together and owns
// snapshot reloads and hot reconfiguration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/auth"
	"github.com/eugener/bifrost/internal/pool"
	"github.com/eugener/bifrost/internal/provider"
	"github.com/eugener/bifrost/internal/storage"
	"github.com/eugener/bifrost/internal/storage/sqlite"
)

// App coordinates the mutable halves of the gateway: the store behind the
// bus, the per-provider pool snapshots, the auth snapshot, and the bind
// address. Admin mutations serialize on a single write lock; read paths
// touch only atomic snapshots.
type App struct {
	mu       sync.Mutex
	bus      *storage.Bus
	registry *provider.Registry
	auth     *auth.Auth
	log      *slog.Logger

	cfg  atomic.Pointer[gateway.Config]
	bind chan string
}

// New creates the app around an already-running bus and registry. The initial
// config must already be persisted; call Reload before serving.
func New(bus *storage.Bus, registry *provider.Registry, a *auth.Auth, cfg *gateway.Config, log *slog.Logger) *App {
	app := &App{
		bus:      bus,
		registry: registry,
		auth:     a,
		log:      log,
		bind:     make(chan string, 1),
	}
	app.cfg.Store(cfg)
	return app
}

// Config returns the current configuration snapshot.
func (a *App) Config() *gateway.Config { return a.cfg.Load() }

// Store returns the current store for synchronous admin reads and writes.
func (a *App) Store() storage.Store { return a.bus.Store() }

// Auth returns the auth snapshot holder.
func (a *App) Auth() *auth.Auth { return a.auth }

// Registry returns the provider registry.
func (a *App) Registry() *provider.Registry { return a.registry }

// BindWatch carries the desired bind address; the serve loop rebinds when a
// new value arrives.
func (a *App) BindWatch() <-chan string { return a.bind }

// Reload rebuilds the pool snapshots and the auth snapshot from the store
// and swaps them in. Called after every admin mutation.
func (a *App) Reload(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reloadLocked(ctx)
}

func (a *App) reloadLocked(ctx context.Context) error {
	store := a.bus.Store()

	providers, err := store.ListProviders(ctx)
	if err != nil {
		return fmt.Errorf("load providers: %w", err)
	}
	creds, err := store.ListAllCredentials(ctx)
	if err != nil {
		return fmt.Errorf("load credentials: %w", err)
	}
	disallow, err := store.ListDisallow(ctx)
	if err != nil {
		return fmt.Errorf("load disallow: %w", err)
	}
	keys, err := store.ListKeys(ctx, 0)
	if err != nil {
		return fmt.Errorf("load keys: %w", err)
	}

	overlay := make(map[int64]map[pool.Key]gateway.DisallowEntry)
	for _, d := range disallow {
		m := overlay[d.CredentialID]
		if m == nil {
			m = make(map[pool.Key]gateway.DisallowEntry)
			overlay[d.CredentialID] = m
		}
		m[pool.Key{CredentialID: d.CredentialID, Scope: d.Scope}] = gateway.DisallowEntry{
			Level:     d.Level,
			Until:     d.Until,
			Reason:    d.Reason,
			UpdatedAt: d.UpdatedAt,
		}
	}

	byProvider := make(map[int64][]*gateway.Credential)
	for _, c := range creds {
		byProvider[c.ProviderID] = append(byProvider[c.ProviderID], c)
	}

	snaps := make(map[string]*pool.Snapshot, len(providers))
	for _, p := range providers {
		var poolCreds []*gateway.Credential
		entries := map[pool.Key]gateway.DisallowEntry{}
		if p.Enabled {
			poolCreds = byProvider[p.ID]
			for _, c := range poolCreds {
				for k, e := range overlay[c.ID] {
					entries[k] = e
				}
			}
		}
		snaps[p.Name] = pool.NewSnapshot(poolCreds, entries)
	}
	a.registry.ApplyPools(snaps)

	a.auth.Load(keys, a.cfg.Load().AdminKey)

	a.log.Info("snapshot reloaded",
		"providers", len(providers), "credentials", len(creds), "keys", len(keys))
	return nil
}

// ApplyConfig is the hot-reconfig entry point behind PUT /config. It
// revalidates the DSN, reconnects storage when it changed, persists the row,
// re-emits the bind address when host/port changed, and rebuilds pools.
func (a *App) ApplyConfig(ctx context.Context, next *gateway.Config) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	prev := a.cfg.Load()
	if next.AdminKey == "" {
		next.AdminKey = prev.AdminKey
	}
	if next.DSN == "" {
		next.DSN = prev.DSN
	}

	var old storage.Store
	if next.DSN != prev.DSN {
		st, err := sqlite.New(next.DSN)
		if err != nil {
			return fmt.Errorf("%w: open dsn: %v", gateway.ErrBadRequest, err)
		}
		if err := st.Ping(ctx); err != nil {
			st.Close()
			return fmt.Errorf("%w: ping dsn: %v", gateway.ErrBadRequest, err)
		}
		old = a.bus.SwapStore(st)
	}

	if err := a.bus.Store().PutConfig(ctx, next); err != nil {
		return fmt.Errorf("persist config: %w", err)
	}
	a.cfg.Store(next)

	if err := a.reloadLocked(ctx); err != nil {
		return err
	}

	if next.Addr() != prev.Addr() {
		a.pushBind(next.Addr())
	}

	if old != nil {
		if err := old.Close(); err != nil {
			a.log.Warn("close previous store", "error", err)
		}
	}
	a.log.Info("config applied", "addr", next.Addr(), "dsn_changed", old != nil)
	return nil
}

// pushBind replaces any pending bind value so the serve loop always sees the
// latest address.
func (a *App) pushBind(addr string) {
	for {
		select {
		case a.bind <- addr:
			return
		default:
		}
		select {
		case <-a.bind:
		default:
		}
	}
}

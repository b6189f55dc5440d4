// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"

	gateway "github.com/eugener/bifrost/internal"
)

// UserStore manages tenant persistence.
type UserStore interface {
	CreateUser(ctx context.Context, u *gateway.User) error
	GetUser(ctx context.Context, id int64) (*gateway.User, error)
	ListUsers(ctx context.Context) ([]*gateway.User, error)
	UpdateUser(ctx context.Context, u *gateway.User) error
	DeleteUser(ctx context.Context, id int64) error
}

// APIKeyStore manages downstream API key persistence.
type APIKeyStore interface {
	CreateKey(ctx context.Context, k *gateway.APIKey) error
	GetKey(ctx context.Context, id int64) (*gateway.APIKey, error)
	ListKeys(ctx context.Context, userID int64) ([]*gateway.APIKey, error)
	UpdateKey(ctx context.Context, k *gateway.APIKey) error
	DeleteKey(ctx context.Context, id int64) error
}

// ProviderStore manages provider row persistence.
type ProviderStore interface {
	CreateProvider(ctx context.Context, p *gateway.ProviderRecord) error
	GetProvider(ctx context.Context, id int64) (*gateway.ProviderRecord, error)
	GetProviderByName(ctx context.Context, name string) (*gateway.ProviderRecord, error)
	ListProviders(ctx context.Context) ([]*gateway.ProviderRecord, error)
	UpdateProvider(ctx context.Context, p *gateway.ProviderRecord) error
	DeleteProvider(ctx context.Context, id int64) error
}

// CredentialStore manages upstream credential persistence.
type CredentialStore interface {
	CreateCredential(ctx context.Context, c *gateway.Credential) error
	GetCredential(ctx context.Context, id int64) (*gateway.Credential, error)
	ListCredentials(ctx context.Context, providerID int64) ([]*gateway.Credential, error)
	ListAllCredentials(ctx context.Context) ([]*gateway.Credential, error)
	UpdateCredential(ctx context.Context, c *gateway.Credential) error
	DeleteCredential(ctx context.Context, id int64) error
}

// DisallowStore manages the persisted health overlay. UpsertDisallow replaces
// any existing row for the same (credential, scope).
type DisallowStore interface {
	UpsertDisallow(ctx context.Context, d *gateway.DisallowRecord) error
	ClearDisallow(ctx context.Context, credentialID int64, scope gateway.DisallowScope) error
	ListDisallow(ctx context.Context) ([]*gateway.DisallowRecord, error)
	DeleteDisallow(ctx context.Context, id int64) error
}

// ConfigStore manages the single global configuration row.
type ConfigStore interface {
	GetConfig(ctx context.Context) (*gateway.Config, error)
	PutConfig(ctx context.Context, c *gateway.Config) error
}

// TrafficStats summarizes recorded traffic for the stats endpoint.
type TrafficStats struct {
	UpstreamRequests   int64            `json:"upstream_requests"`
	DownstreamRequests int64            `json:"downstream_requests"`
	ByProvider         map[string]int64 `json:"by_provider"`
}

// TrafficStore persists traffic records in batches.
type TrafficStore interface {
	InsertUpstreamTraffic(ctx context.Context, evs []gateway.UpstreamTrafficEvent) error
	InsertDownstreamTraffic(ctx context.Context, evs []gateway.DownstreamTrafficEvent) error
	Stats(ctx context.Context) (*TrafficStats, error)
}

// Store combines all storage interfaces.
type Store interface {
	UserStore
	APIKeyStore
	ProviderStore
	CredentialStore
	DisallowStore
	ConfigStore
	TrafficStore
	Ping(ctx context.Context) error
	Close() error
}

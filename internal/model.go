package gateway

import (
	"encoding/json"
	"net"
	"strconv"
	"time"
)

// User is one tenant.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// APIKey is one downstream credential owned by a user.
type APIKey struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Key       string    `json:"key"`
	Label     string    `json:"label,omitempty"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderRecord is the persisted row backing one registry provider: a known
// name plus free-form config and an enable switch.
type ProviderRecord struct {
	ID        int64           `json:"id"`
	Name      string          `json:"name"`
	Config    json.RawMessage `json:"config,omitempty"`
	Enabled   bool            `json:"enabled"`
	CreatedAt time.Time       `json:"created_at"`
}

// DisallowRecord is the persisted form of one disallow entry.
type DisallowRecord struct {
	ID           int64         `json:"id"`
	CredentialID int64         `json:"credential_id"`
	Scope        DisallowScope `json:"scope"`
	Level        DisallowLevel `json:"level"`
	Until        *time.Time    `json:"until,omitempty"`
	Reason       string        `json:"reason,omitempty"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// Config is the persisted global configuration row.
type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	AdminKey string `json:"admin_key"`
	DSN      string `json:"dsn"`
	Proxy    string `json:"proxy,omitempty"`
}

// Addr returns the bind address.
func (c Config) Addr() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.Port
	if port == 0 {
		port = 8081
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Package config handles CLI flags, the persisted configuration row, and
// optional YAML seed files with environment variable expansion.
package config

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/storage"
)

// Flags mirror the persisted config row. They seed the row on first run;
// subsequent boots read the row and ignore them.
type Flags struct {
	Host     string
	Port     int
	AdminKey string
	DSN      string
	Proxy    string
	SeedPath string
}

// ParseFlags parses the command line.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("bifrost", flag.ContinueOnError)
	fs.StringVar(&f.Host, "host", "0.0.0.0", "bind host")
	fs.IntVar(&f.Port, "port", 8081, "bind port")
	fs.StringVar(&f.AdminKey, "admin-key", "", "admin API key (generated when empty on first run)")
	fs.StringVar(&f.DSN, "dsn", "bifrost.db", "sqlite database path or :memory:")
	fs.StringVar(&f.Proxy, "proxy", "", "outbound forward proxy URL")
	fs.StringVar(&f.SeedPath, "config", "", "optional YAML seed file, applied on first run")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Resolve returns the effective configuration: the persisted row when one
// exists, otherwise a new row built from flags (and the seed file's
// connection settings) and written back.
func Resolve(ctx context.Context, store storage.Store, f *Flags, seed *Seed) (*gateway.Config, error) {
	cfg, err := store.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, gateway.ErrNotFound) {
		return nil, fmt.Errorf("read config row: %w", err)
	}

	cfg = &gateway.Config{
		Host:     f.Host,
		Port:     f.Port,
		AdminKey: f.AdminKey,
		DSN:      f.DSN,
		Proxy:    f.Proxy,
	}
	if seed != nil {
		if seed.Host != "" {
			cfg.Host = seed.Host
		}
		if seed.Port != 0 {
			cfg.Port = seed.Port
		}
		if seed.AdminKey != "" {
			cfg.AdminKey = seed.AdminKey
		}
		if seed.Proxy != "" {
			cfg.Proxy = seed.Proxy
		}
	}
	if cfg.AdminKey == "" {
		cfg.AdminKey = GenerateAdminKey()
		slog.Info("generated admin key", "key", cfg.AdminKey)
	}
	if err := store.PutConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed config row: %w", err)
	}
	return cfg, nil
}

// GenerateAdminKey creates a random admin key and returns the plaintext.
func GenerateAdminKey() string {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		panic("crypto/rand: " + err.Error())
	}
	return "bfr_" + base64.RawURLEncoding.EncodeToString(raw)
}

// --- Log filter ---

// LogLevel reads the BIFROST_LOG env filter. Default info.
func LogLevel() slog.Level {
	switch strings.ToLower(os.Getenv("BIFROST_LOG")) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// --- Seed file ---

// Seed is the optional YAML bootstrap file: connection settings plus initial
// users, providers, credentials, and keys, applied once on an empty database.
type Seed struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	AdminKey string `yaml:"admin_key"`
	Proxy    string `yaml:"proxy"`

	Users     []UserSeed     `yaml:"users"`
	Providers []ProviderSeed `yaml:"providers"`
	Keys      []KeySeed      `yaml:"keys"`
}

// UserSeed creates a tenant.
type UserSeed struct {
	Name string `yaml:"name"`
}

// ProviderSeed enables a registry provider and attaches credentials.
type ProviderSeed struct {
	Name        string           `yaml:"name"`
	Enabled     *bool            `yaml:"enabled"`
	Config      map[string]any   `yaml:"config"`
	Credentials []CredentialSeed `yaml:"credentials"`
}

// CredentialSeed is one upstream credential. Secret fields depend on the
// provider, e.g. api_key, refresh_token, service_account_json.
type CredentialSeed struct {
	Name    string         `yaml:"name"`
	Secret  map[string]any `yaml:"secret"`
	Meta    map[string]any `yaml:"meta"`
	Weight  int            `yaml:"weight"`
	Enabled *bool          `yaml:"enabled"`
}

// KeySeed is a downstream API key owned by a named user.
type KeySeed struct {
	User  string `yaml:"user"`
	Key   string `yaml:"key"`
	Label string `yaml:"label"`
}

// IsEnabled reports whether the entry is enabled (defaults to true when nil).
func enabledOrDefault(b *bool) bool { return b == nil || *b }

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// LoadSeed reads and parses a YAML seed file, expanding environment variables.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	data = expandEnv(data)

	seed := &Seed{}
	if err := yaml.Unmarshal(data, seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return seed, nil
}

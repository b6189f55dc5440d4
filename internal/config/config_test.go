package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/eugener/bifrost/internal/storage/sqlite"
)

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "config.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestParseFlagsDefaults(t *testing.T) {
	t.Parallel()

	f, err := ParseFlags(nil)
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if f.Host != "0.0.0.0" || f.Port != 8081 || f.DSN != "bifrost.db" {
		t.Errorf("defaults = %+v", f)
	}
	if f.AdminKey != "" || f.Proxy != "" || f.SeedPath != "" {
		t.Errorf("expected empty optional flags, got %+v", f)
	}
}

func TestParseFlagsOverrides(t *testing.T) {
	t.Parallel()

	f, err := ParseFlags([]string{
		"-host", "127.0.0.1", "-port", "9000",
		"-admin-key", "k", "-dsn", ":memory:",
		"-proxy", "http://p:3128", "-config", "seed.yaml",
	})
	if err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	if f.Host != "127.0.0.1" || f.Port != 9000 || f.AdminKey != "k" ||
		f.DSN != ":memory:" || f.Proxy != "http://p:3128" || f.SeedPath != "seed.yaml" {
		t.Errorf("flags = %+v", f)
	}
}

func TestParseFlagsRejectsUnknown(t *testing.T) {
	t.Parallel()

	if _, err := ParseFlags([]string{"-wat"}); err == nil {
		t.Fatal("unknown flag accepted")
	}
}

func TestGenerateAdminKey(t *testing.T) {
	t.Parallel()

	a, b := GenerateAdminKey(), GenerateAdminKey()
	if !strings.HasPrefix(a, "bfr_") {
		t.Errorf("key = %q, want bfr_ prefix", a)
	}
	if len(a) < 20 {
		t.Errorf("key too short: %q", a)
	}
	if a == b {
		t.Error("two generated keys collided")
	}
}

func TestResolveFirstRun(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	f := &Flags{Host: "0.0.0.0", Port: 8081, DSN: "bifrost.db"}
	seed := &Seed{Host: "127.0.0.1", Port: 9100, Proxy: "http://egress:3128"}

	cfg, err := Resolve(t.Context(), store, f, seed)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.Host != "127.0.0.1" || cfg.Port != 9100 || cfg.Proxy != "http://egress:3128" {
		t.Errorf("seed overrides lost: %+v", cfg)
	}
	if !strings.HasPrefix(cfg.AdminKey, "bfr_") {
		t.Errorf("admin key not generated: %q", cfg.AdminKey)
	}

	// The resolved row is persisted.
	row, err := store.GetConfig(t.Context())
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if *row != *cfg {
		t.Errorf("persisted row = %+v, want %+v", row, cfg)
	}
}

func TestResolvePersistedRowWins(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	first := &Flags{Host: "0.0.0.0", Port: 8081, AdminKey: "original", DSN: "a.db"}
	if _, err := Resolve(t.Context(), store, first, nil); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}

	// Different flags on the second boot are ignored.
	second := &Flags{Host: "10.0.0.1", Port: 1234, AdminKey: "changed", DSN: "b.db"}
	cfg, err := Resolve(t.Context(), store, second, &Seed{Port: 7777})
	if err != nil {
		t.Fatalf("second Resolve: %v", err)
	}
	if cfg.Port != 8081 || cfg.AdminKey != "original" || cfg.DSN != "a.db" {
		t.Errorf("persisted row not honored: %+v", cfg)
	}
}

func TestLoadSeedExpandsEnv(t *testing.T) {
	t.Setenv("BIFROST_TEST_SECRET", "sk-from-env")

	path := filepath.Join(t.TempDir(), "seed.yaml")
	data := `
host: 127.0.0.1
port: 9200
admin_key: ${BIFROST_TEST_SECRET}
users:
  - name: alice
providers:
  - name: claude
    credentials:
      - name: main
        secret:
          api_key: ${BIFROST_TEST_SECRET}
        weight: 5
keys:
  - user: alice
    key: ${BIFROST_TEST_UNSET_VAR}
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	seed, err := LoadSeed(path)
	if err != nil {
		t.Fatalf("LoadSeed: %v", err)
	}
	if seed.Host != "127.0.0.1" || seed.Port != 9200 {
		t.Errorf("connection settings = %+v", seed)
	}
	if seed.AdminKey != "sk-from-env" {
		t.Errorf("admin_key = %q, want expanded", seed.AdminKey)
	}
	if got := seed.Providers[0].Credentials[0].Secret["api_key"]; got != "sk-from-env" {
		t.Errorf("secret = %v, want expanded", got)
	}
	// Unset variables pass through literally.
	if seed.Keys[0].Key != "${BIFROST_TEST_UNSET_VAR}" {
		t.Errorf("unset var = %q, want literal", seed.Keys[0].Key)
	}
}

func TestLoadSeedMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := LoadSeed(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestBootstrapIdempotent(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	ctx := context.Background()
	seed := &Seed{
		Users: []UserSeed{{Name: "alice"}},
		Providers: []ProviderSeed{{
			Name: "claude",
			Credentials: []CredentialSeed{
				{Name: "main", Secret: map[string]any{"api_key": "sk"}, Weight: 3},
			},
		}},
		Keys: []KeySeed{{User: "alice", Key: "bf_seed", Label: "seeded"}},
	}

	for range 2 {
		if err := Bootstrap(ctx, store, seed); err != nil {
			t.Fatalf("Bootstrap: %v", err)
		}
	}

	users, err := store.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("users = %d, want 1", len(users))
	}
	prov, err := store.GetProviderByName(ctx, "claude")
	if err != nil {
		t.Fatalf("GetProviderByName: %v", err)
	}
	if !prov.Enabled {
		t.Error("seeded provider should default to enabled")
	}
	creds, err := store.ListCredentials(ctx, prov.ID)
	if err != nil {
		t.Fatalf("ListCredentials: %v", err)
	}
	if len(creds) != 1 || creds[0].Weight != 3 {
		t.Errorf("credentials = %+v", creds)
	}
	keys, err := store.ListKeys(ctx, 0)
	if err != nil {
		t.Fatalf("ListKeys: %v", err)
	}
	if len(keys) != 1 || !keys[0].Enabled {
		t.Errorf("keys = %+v", keys)
	}
}

func TestBootstrapUnknownKeyUser(t *testing.T) {
	t.Parallel()

	store := openStore(t)
	seed := &Seed{Keys: []KeySeed{{User: "ghost", Key: "bf_x"}}}
	if err := Bootstrap(context.Background(), store, seed); err == nil {
		t.Fatal("key for unknown user accepted")
	}
}

package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	gateway "github.com/eugener/bifrost/internal"
	"github.com/eugener/bifrost/internal/storage"
)

// Bootstrap seeds the database from the seed file. Existing rows are left
// alone so re-running with the same file is a no-op.
func Bootstrap(ctx context.Context, store storage.Store, seed *Seed) error {
	userIDs := make(map[string]int64)
	existing, err := store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, u := range existing {
		userIDs[u.Name] = u.ID
	}

	for _, us := range seed.Users {
		if us.Name == "" {
			continue
		}
		if _, ok := userIDs[us.Name]; ok {
			continue
		}
		u := &gateway.User{Name: us.Name}
		if err := store.CreateUser(ctx, u); err != nil {
			return fmt.Errorf("seed user %q: %w", us.Name, err)
		}
		userIDs[us.Name] = u.ID
		slog.Info("bootstrapped user", "name", us.Name)
	}

	for _, ps := range seed.Providers {
		if ps.Name == "" {
			continue
		}
		prov, err := store.GetProviderByName(ctx, ps.Name)
		switch {
		case err == nil:
			// already seeded; leave its credentials untouched
			continue
		case errors.Is(err, gateway.ErrNotFound):
		default:
			return fmt.Errorf("lookup provider %q: %w", ps.Name, err)
		}

		cfg, err := marshalMap(ps.Config)
		if err != nil {
			return fmt.Errorf("provider %q config: %w", ps.Name, err)
		}
		prov = &gateway.ProviderRecord{
			Name:    ps.Name,
			Config:  cfg,
			Enabled: enabledOrDefault(ps.Enabled),
		}
		if err := store.CreateProvider(ctx, prov); err != nil {
			return fmt.Errorf("seed provider %q: %w", ps.Name, err)
		}
		slog.Info("bootstrapped provider", "name", ps.Name)

		for _, cs := range ps.Credentials {
			secret, err := marshalMap(cs.Secret)
			if err != nil {
				return fmt.Errorf("credential %q secret: %w", cs.Name, err)
			}
			meta, err := marshalMap(cs.Meta)
			if err != nil {
				return fmt.Errorf("credential %q meta: %w", cs.Name, err)
			}
			cred := &gateway.Credential{
				ProviderID: prov.ID,
				Name:       cs.Name,
				Secret:     secret,
				Meta:       meta,
				Weight:     cs.Weight,
				Enabled:    enabledOrDefault(cs.Enabled),
			}
			if err := store.CreateCredential(ctx, cred); err != nil {
				return fmt.Errorf("seed credential %q: %w", cs.Name, err)
			}
			slog.Info("bootstrapped credential", "provider", ps.Name, "name", cs.Name)
		}
	}

	for _, ks := range seed.Keys {
		if ks.Key == "" {
			continue
		}
		userID, ok := userIDs[ks.User]
		if !ok {
			return fmt.Errorf("seed key %q: unknown user %q", ks.Label, ks.User)
		}
		key := &gateway.APIKey{
			UserID:  userID,
			Key:     ks.Key,
			Label:   ks.Label,
			Enabled: true,
		}
		if err := store.CreateKey(ctx, key); err != nil {
			if errors.Is(err, gateway.ErrConflict) {
				continue
			}
			// UNIQUE(key_value) violation on re-run is also fine.
			slog.Warn("seed key skipped", "label", ks.Label, "error", err)
			continue
		}
		slog.Info("bootstrapped api key", "user", ks.User, "label", ks.Label)
	}

	return nil
}

func marshalMap(m map[string]any) (json.RawMessage, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(b), nil
}

package sqlite

import (
	"context"
	"encoding/json"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

// CreateProvider inserts a provider row and fills in the assigned ID.
func (s *Store) CreateProvider(ctx context.Context, p *gateway.ProviderRecord) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO providers (name, config_json, enabled, created_at)
		 VALUES (?, ?, ?, ?)`,
		p.Name, jsonOrEmpty(p.Config), boolToInt(p.Enabled), p.CreatedAt.Unix(),
	)
	if err != nil {
		return err
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetProvider retrieves a provider row by ID.
func (s *Store) GetProvider(ctx context.Context, id int64) (*gateway.ProviderRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, config_json, enabled, created_at
		 FROM providers WHERE id = ?`, id)
	return scanProvider(row)
}

// GetProviderByName retrieves a provider row by its registry name.
func (s *Store) GetProviderByName(ctx context.Context, name string) (*gateway.ProviderRecord, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, config_json, enabled, created_at
		 FROM providers WHERE name = ?`, name)
	return scanProvider(row)
}

// ListProviders returns all provider rows ordered by name.
func (s *Store) ListProviders(ctx context.Context) ([]*gateway.ProviderRecord, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, name, config_json, enabled, created_at
		 FROM providers ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.ProviderRecord
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateProvider updates an existing provider row.
func (s *Store) UpdateProvider(ctx context.Context, p *gateway.ProviderRecord) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE providers SET name=?, config_json=?, enabled=? WHERE id=?`,
		p.Name, jsonOrEmpty(p.Config), boolToInt(p.Enabled), p.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "provider")
}

// DeleteProvider removes a provider row along with its credentials and their
// disallow entries.
func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	if _, err := s.write.ExecContext(ctx,
		`DELETE FROM credential_disallow WHERE credential_id IN
		 (SELECT id FROM credentials WHERE provider_id=?)`, id); err != nil {
		return err
	}
	if _, err := s.write.ExecContext(ctx,
		`DELETE FROM credentials WHERE provider_id=?`, id); err != nil {
		return err
	}
	res, err := s.write.ExecContext(ctx, `DELETE FROM providers WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "provider")
}

func scanProvider(sc scanner) (*gateway.ProviderRecord, error) {
	var p gateway.ProviderRecord
	var cfg string
	var enabled int
	var created int64
	if err := sc.Scan(&p.ID, &p.Name, &cfg, &enabled, &created); err != nil {
		return nil, notFoundErr(err)
	}
	p.Config = json.RawMessage(cfg)
	p.Enabled = enabled != 0
	p.CreatedAt = time.Unix(created, 0).UTC()
	return &p, nil
}

// jsonOrEmpty normalizes a raw blob for storage; NOT NULL columns get "{}".
func jsonOrEmpty(raw json.RawMessage) string {
	if len(raw) == 0 {
		return "{}"
	}
	return string(raw)
}

package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

// GetConfig reads the single global configuration row.
func (s *Store) GetConfig(ctx context.Context) (*gateway.Config, error) {
	var raw string
	err := s.read.QueryRowContext(ctx,
		`SELECT config_json FROM global_config WHERE id = 1`).Scan(&raw)
	if err != nil {
		return nil, notFoundErr(err)
	}
	var c gateway.Config
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return nil, fmt.Errorf("decode config row: %w", err)
	}
	return &c, nil
}

// PutConfig writes the single global configuration row.
func (s *Store) PutConfig(ctx context.Context, c *gateway.Config) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO global_config (id, config_json, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET config_json=excluded.config_json,
		   updated_at=excluded.updated_at`,
		string(raw), time.Now().UTC().Unix(),
	)
	return err
}

package sqlite

import (
	"context"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

// CreateKey inserts a new API key and fills in the assigned ID.
func (s *Store) CreateKey(ctx context.Context, k *gateway.APIKey) error {
	if k.CreatedAt.IsZero() {
		k.CreatedAt = time.Now().UTC()
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO api_keys (user_id, key_value, label, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		k.UserID, k.Key, k.Label, boolToInt(k.Enabled), k.CreatedAt.Unix(),
	)
	if err != nil {
		return err
	}
	k.ID, err = res.LastInsertId()
	return err
}

// GetKey retrieves an API key by ID.
func (s *Store) GetKey(ctx context.Context, id int64) (*gateway.APIKey, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, user_id, key_value, label, enabled, created_at
		 FROM api_keys WHERE id = ?`, id)
	return scanKey(row)
}

// ListKeys returns keys for one user, or every key when userID is zero.
func (s *Store) ListKeys(ctx context.Context, userID int64) ([]*gateway.APIKey, error) {
	query := `SELECT id, user_id, key_value, label, enabled, created_at
		 FROM api_keys ORDER BY id DESC`
	args := []any{}
	if userID != 0 {
		query = `SELECT id, user_id, key_value, label, enabled, created_at
		 FROM api_keys WHERE user_id = ? ORDER BY id DESC`
		args = append(args, userID)
	}
	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*gateway.APIKey
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateKey updates an existing API key's mutable fields.
func (s *Store) UpdateKey(ctx context.Context, k *gateway.APIKey) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE api_keys SET user_id=?, key_value=?, label=?, enabled=? WHERE id=?`,
		k.UserID, k.Key, k.Label, boolToInt(k.Enabled), k.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "api key")
}

// DeleteKey removes an API key.
func (s *Store) DeleteKey(ctx context.Context, id int64) error {
	res, err := s.write.ExecContext(ctx, `DELETE FROM api_keys WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "api key")
}

func scanKey(sc scanner) (*gateway.APIKey, error) {
	var k gateway.APIKey
	var enabled int
	var created int64
	if err := sc.Scan(&k.ID, &k.UserID, &k.Key, &k.Label, &enabled, &created); err != nil {
		return nil, notFoundErr(err)
	}
	k.Enabled = enabled != 0
	k.CreatedAt = time.Unix(created, 0).UTC()
	return &k, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

const credentialCols = `id, provider_id, name, secret_json, meta_json, weight, enabled, created_at`

// CreateCredential inserts a credential and fills in the assigned ID.
func (s *Store) CreateCredential(ctx context.Context, c *gateway.Credential) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO credentials (provider_id, name, secret_json, meta_json, weight, enabled, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ProviderID, c.Name, jsonOrEmpty(c.Secret), jsonOrEmpty(c.Meta),
		c.Weight, boolToInt(c.Enabled), c.CreatedAt.Unix(),
	)
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

// GetCredential retrieves a credential by ID.
func (s *Store) GetCredential(ctx context.Context, id int64) (*gateway.Credential, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT `+credentialCols+` FROM credentials WHERE id = ?`, id)
	return scanCredential(row)
}

// ListCredentials returns credentials for one provider in pool order.
func (s *Store) ListCredentials(ctx context.Context, providerID int64) ([]*gateway.Credential, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+credentialCols+` FROM credentials
		 WHERE provider_id = ? ORDER BY weight DESC, id`, providerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredentials(rows)
}

// ListAllCredentials returns every credential in pool order, for snapshot
// loads covering all providers at once.
func (s *Store) ListAllCredentials(ctx context.Context) ([]*gateway.Credential, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT `+credentialCols+` FROM credentials ORDER BY weight DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCredentials(rows)
}

// UpdateCredential updates an existing credential.
func (s *Store) UpdateCredential(ctx context.Context, c *gateway.Credential) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE credentials SET provider_id=?, name=?, secret_json=?, meta_json=?, weight=?, enabled=?
		 WHERE id=?`,
		c.ProviderID, c.Name, jsonOrEmpty(c.Secret), jsonOrEmpty(c.Meta),
		c.Weight, boolToInt(c.Enabled), c.ID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential")
}

// DeleteCredential removes a credential and its disallow entries.
func (s *Store) DeleteCredential(ctx context.Context, id int64) error {
	if _, err := s.write.ExecContext(ctx,
		`DELETE FROM credential_disallow WHERE credential_id=?`, id); err != nil {
		return err
	}
	res, err := s.write.ExecContext(ctx, `DELETE FROM credentials WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "credential")
}

func collectCredentials(rows *sql.Rows) ([]*gateway.Credential, error) {
	var out []*gateway.Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanCredential(sc scanner) (*gateway.Credential, error) {
	var c gateway.Credential
	var secret, meta string
	var enabled int
	var created int64
	err := sc.Scan(&c.ID, &c.ProviderID, &c.Name, &secret, &meta,
		&c.Weight, &enabled, &created)
	if err != nil {
		return nil, notFoundErr(err)
	}
	c.Secret = json.RawMessage(secret)
	c.Meta = json.RawMessage(meta)
	c.Enabled = enabled != 0
	c.CreatedAt = time.Unix(created, 0).UTC()
	return &c, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

// Scope rows split into a kind discriminator plus the model name (empty for
// the all-models scope) so the uniqueness constraint covers both axes.
func scopeColumns(s gateway.DisallowScope) (kind, value string) {
	if s.AllModels() {
		return "all_models", ""
	}
	return "model", s.Model
}

// UpsertDisallow inserts or replaces the entry for (credential, scope).
func (s *Store) UpsertDisallow(ctx context.Context, d *gateway.DisallowRecord) error {
	kind, value := scopeColumns(d.Scope)
	if d.UpdatedAt.IsZero() {
		d.UpdatedAt = time.Now().UTC()
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO credential_disallow
		 (credential_id, scope_kind, scope_value, level, until_at, reason, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (credential_id, scope_kind, scope_value)
		 DO UPDATE SET level=excluded.level, until_at=excluded.until_at,
		   reason=excluded.reason, updated_at=excluded.updated_at`,
		d.CredentialID, kind, value, d.Level.String(),
		unixOrNull(d.Until), d.Reason, d.UpdatedAt.Unix(),
	)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		d.ID = id
	}
	return nil
}

// ClearDisallow removes the entry for (credential, scope). Clearing an absent
// entry is not an error; clears race with expiry sweeps.
func (s *Store) ClearDisallow(ctx context.Context, credentialID int64, scope gateway.DisallowScope) error {
	kind, value := scopeColumns(scope)
	_, err := s.write.ExecContext(ctx,
		`DELETE FROM credential_disallow
		 WHERE credential_id=? AND scope_kind=? AND scope_value=?`,
		credentialID, kind, value)
	return err
}

// ListDisallow returns every persisted disallow entry.
func (s *Store) ListDisallow(ctx context.Context) ([]*gateway.DisallowRecord, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, credential_id, scope_kind, scope_value, level, until_at, reason, updated_at
		 FROM credential_disallow ORDER BY credential_id, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*gateway.DisallowRecord
	for rows.Next() {
		d, err := scanDisallow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteDisallow removes an entry by ID, for the admin API.
func (s *Store) DeleteDisallow(ctx context.Context, id int64) error {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM credential_disallow WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "disallow entry")
}

func scanDisallow(sc scanner) (*gateway.DisallowRecord, error) {
	var d gateway.DisallowRecord
	var kind, value, level string
	var until sql.NullInt64
	var updated int64
	err := sc.Scan(&d.ID, &d.CredentialID, &kind, &value, &level, &until, &d.Reason, &updated)
	if err != nil {
		return nil, notFoundErr(err)
	}
	if kind == "model" {
		d.Scope = gateway.ScopeModel(value)
	} else {
		d.Scope = gateway.ScopeAllModels()
	}
	if lv, ok := gateway.ParseDisallowLevel(level); ok {
		d.Level = lv
	}
	if until.Valid {
		t := time.Unix(until.Int64, 0).UTC()
		d.Until = &t
	}
	d.UpdatedAt = time.Unix(updated, 0).UTC()
	return &d, nil
}

func unixOrNull(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	gateway "github.com/eugener/bifrost/internal"
)

// CreateUser inserts a new tenant and fills in the assigned ID.
func (s *Store) CreateUser(ctx context.Context, u *gateway.User) error {
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.write.ExecContext(ctx,
		`INSERT INTO users (name, created_at) VALUES (?, ?)`,
		u.Name, u.CreatedAt.Unix(),
	)
	if err != nil {
		return err
	}
	u.ID, err = res.LastInsertId()
	return err
}

// GetUser retrieves a tenant by ID.
func (s *Store) GetUser(ctx context.Context, id int64) (*gateway.User, error) {
	row := s.read.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM users WHERE id = ?`, id)
	return scanUser(row)
}

// ListUsers returns all tenants, newest first.
func (s *Store) ListUsers(ctx context.Context) ([]*gateway.User, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT id, name, created_at FROM users ORDER BY id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []*gateway.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateUser updates an existing tenant.
func (s *Store) UpdateUser(ctx context.Context, u *gateway.User) error {
	res, err := s.write.ExecContext(ctx,
		`UPDATE users SET name=? WHERE id=?`, u.Name, u.ID)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "user")
}

// DeleteUser removes a tenant. Keys owned by the user are removed as well so
// the auth snapshot cannot resurrect them.
func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.write.ExecContext(ctx,
		`DELETE FROM api_keys WHERE user_id=?`, id); err != nil {
		return err
	}
	res, err := s.write.ExecContext(ctx, `DELETE FROM users WHERE id=?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "user")
}

func scanUser(sc scanner) (*gateway.User, error) {
	var u gateway.User
	var created int64
	if err := sc.Scan(&u.ID, &u.Name, &created); err != nil {
		return nil, notFoundErr(err)
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return &u, nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// notFoundErr translates sql.ErrNoRows to gateway.ErrNotFound.
func notFoundErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return gateway.ErrNotFound
	}
	return err
}

func checkRowsAffected(result sql.Result, entity string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", entity, gateway.ErrNotFound)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Package sqlite implements the storage interfaces using SQLite via
// modernc.org/sqlite. One writer connection handles all mutations (the bus
// actor plus synchronous admin writes); reads go to a separate pool.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"runtime"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Schema cleanup (deleting a provider's credentials, a credential's disallow
// rows) happens in application code, so no foreign_keys pragma. WAL plus a
// single writer keeps the bus actor and admin writes from tripping over each
// other; synchronous=NORMAL is safe under WAL.
const pragmas = "_pragma=journal_mode(WAL)" +
	"&_pragma=busy_timeout(5000)" +
	"&_pragma=synchronous(NORMAL)"

// Store implements storage.Store using SQLite.
type Store struct {
	write *sql.DB // single-writer connection
	read  *sql.DB // multi-reader pool
}

// New opens (creating if needed) the database at dsn, applies migrations,
// and returns a Store. ":memory:" maps to a process-shared in-memory
// database so the read and write pools see the same data.
func New(dsn string) (*Store, error) {
	uri := "file:" + dsn + "?" + pragmas
	if dsn == ":memory:" {
		uri = "file::memory:?mode=memory&cache=shared&" + pragmas
	}

	write, err := openPool(uri, 1)
	if err != nil {
		return nil, fmt.Errorf("open write db: %w", err)
	}
	read, err := openPool(uri, max(4, runtime.NumCPU()))
	if err != nil {
		write.Close()
		return nil, fmt.Errorf("open read db: %w", err)
	}

	if err := migrate(write); err != nil {
		write.Close()
		read.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	return &Store{write: write, read: read}, nil
}

func openPool(uri string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(maxConns)
	return db, nil
}

// migrate applies the embedded goose migrations; table creation is
// idempotent so every boot runs it.
func migrate(db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sub fs: %w", err)
	}
	p, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("create migration provider: %w", err)
	}
	_, err = p.Up(context.Background())
	return err
}

// Ping verifies database connectivity by pinging the read pool.
func (s *Store) Ping(ctx context.Context) error {
	return s.read.PingContext(ctx)
}

// Close closes both database connections.
func (s *Store) Close() error {
	return errors.Join(s.write.Close(), s.read.Close())
}

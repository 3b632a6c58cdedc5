// Package store persists the email content model (addresses, distributions,
// templates, services, rate limits) and the message delivery log in PostgreSQL.
package store

import (
	"embed"
	"errors"
	"io/fs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Migrations returns the embedded goose migration files.
func Migrations() fs.FS {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		// The subdirectory is embedded at compile time; failure here means a
		// broken build, not a runtime condition.
		panic(err)
	}
	return sub
}

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicate is returned when a unique constraint is violated.
	ErrDuplicate = errors.New("store: already exists")

	// ErrReferenced is returned when deleting or mutating a row that other
	// rows still reference.
	ErrReferenced = errors.New("store: still referenced")

	// ErrInvalidInput is returned when a row fails validation.
	ErrInvalidInput = errors.New("store: invalid input")

	// ErrInvalidAddress is returned for unparseable email addresses.
	ErrInvalidAddress = errors.New("store: invalid email address")
)

// Store provides pgx-backed access to all persisted entities.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store over an established connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Pool exposes the underlying pool for transaction-scoped operations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// wrapErr converts pgx and PostgreSQL errors into the store's sentinels.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return errors.Join(ErrDuplicate, err)
		case "23503": // foreign_key_violation
			return errors.Join(ErrReferenced, err)
		}
	}
	return err
}

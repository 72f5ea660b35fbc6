// Package storage persists users and peers in PostgreSQL. It is the only
// package that speaks SQL; everything above it works with model types and
// the sentinel errors defined here.
package storage

import (
	"context"
	"errors"

	"github.com/gatewarden/gatewarden/internal/wgkey"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of pgxpool.Pool the storage layer needs. Multi-table
// mutations run inside a transaction obtained from Begin.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, arguments ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, arguments ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	// ErrNotFound is returned when the requested record does not exist,
	// including inserts that reference a missing parent.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a mutation violates a uniqueness
	// constraint, such as a duplicate peer name for the same user.
	ErrConflict = errors.New("record already exists")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// mapError folds driver-level failures into the package sentinels so
// callers can branch with errors.Is. Anything else passes through.
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return ErrConflict
		case pgForeignKeyViolation:
			return ErrNotFound
		}
	}
	return err
}

// Service exposes the typed persistence operations. Key material for new
// WireGuard peers comes from the injected KeyTool.
type Service struct {
	db   DB
	keys wgkey.KeyTool
}

func NewService(db DB, keys wgkey.KeyTool) *Service {
	return &Service{db: db, keys: keys}
}

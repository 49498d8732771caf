// Package postgres implements the storage ports on PostgreSQL with raw SQL.
// Every method joins the transaction carried by ctx, and row reads made
// inside a transaction take FOR UPDATE locks.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/lib/pq"

	auditstore "supporterhub/pkg/platform/audit/store/postgres"
	txcontext "supporterhub/pkg/platform/tx"
)

// Schema creates every table the store uses. Provisioning in production is
// handled outside the service; tests apply it directly.
//
//go:embed schema.sql
var Schema string

// Store is the PostgreSQL-backed store.
type Store struct {
	*auditstore.Store
	db     *sql.DB
	runner *txcontext.PostgresRunner
}

// New creates a PostgreSQL store.
func New(db *sql.DB) *Store {
	return &Store{
		Store:  auditstore.New(db),
		db:     db,
		runner: txcontext.NewPostgresRunner(db),
	}
}

// RunInTx runs fn in one database transaction.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.runner.RunInTx(ctx, fn)
}

// ApplySchema creates missing tables.
func (s *Store) ApplySchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// lockClause locks selected rows for the rest of the caller's transaction.
func lockClause(ctx context.Context) string {
	if _, ok := txcontext.From(ctx); ok {
		return " FOR UPDATE"
	}
	return ""
}

const uniqueViolation = pq.ErrorCode("23505")

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

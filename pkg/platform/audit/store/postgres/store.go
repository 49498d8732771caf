package postgres

import (
	"context"
	"database/sql"
	"fmt"

	audit "supporterhub/pkg/platform/audit"
	txcontext "supporterhub/pkg/platform/tx"
)

// Store appends audit entries to the audit_log table. When ctx carries a
// transaction the insert joins it.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts one entry. Entries are never updated.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	query := `
		INSERT INTO audit_log (id, actor, action_type, subject_id, timestamp, before_state, after_state, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		entry.Actor,
		string(entry.Action),
		entry.SubjectID,
		entry.Timestamp,
		nullableJSON(entry.Before),
		nullableJSON(entry.After),
		entry.Reason,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListBySubject returns entries for one supporter, newest first.
func (s *Store) ListBySubject(ctx context.Context, subjectID string) ([]audit.Entry, error) {
	query := `
		SELECT id, actor, action_type, subject_id, timestamp, before_state, after_state, reason
		FROM audit_log
		WHERE subject_id = $1
		ORDER BY timestamp DESC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, subjectID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			entry         audit.Entry
			action        string
			before, after []byte
		)
		if err := rows.Scan(&entry.ID, &entry.Actor, &action, &entry.SubjectID, &entry.Timestamp, &before, &after, &entry.Reason); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entry.Action = audit.Action(action)
		entry.Before = before
		entry.After = after
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Action names a state-changing decision recorded in the audit log.
type Action string

const (
	ActionSupporterMerged      Action = "supporter_merged"
	ActionSupporterTypeChanged Action = "supporter_type_changed"
)

// SystemActor is recorded for decisions made by scheduled jobs.
const SystemActor = "system:classifier"

// Entry is one append-only audit row. Before and After hold JSON snapshots of
// the affected records so an operator can reconstruct the change.
type Entry struct {
	ID        uuid.UUID
	Actor     string
	Action    Action
	SubjectID string
	Timestamp time.Time
	Before    json.RawMessage
	After     json.RawMessage
	Reason    string
}

// Store appends entries. Implementations must honour a transaction carried
// in ctx so an entry commits or rolls back with the change it describes.
type Store interface {
	Append(ctx context.Context, entry Entry) error
}

// NewEntry snapshots before and after as JSON.
func NewEntry(actor string, action Action, subjectID string, at time.Time, before, after any, reason string) (Entry, error) {
	beforeJSON, err := snapshot(before)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal before state: %w", err)
	}
	afterJSON, err := snapshot(after)
	if err != nil {
		return Entry{}, fmt.Errorf("marshal after state: %w", err)
	}
	return Entry{
		ID:        uuid.New(),
		Actor:     actor,
		Action:    action,
		SubjectID: subjectID,
		Timestamp: at,
		Before:    beforeJSON,
		After:     afterJSON,
		Reason:    reason,
	}, nil
}

func snapshot(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	eventmodels "supporterhub/internal/events/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/sentinel"
)

func (s *Store) EventExists(ctx context.Context, key eventmodels.IdempotencyKey) (bool, error) {
	var exists bool
	err := s.execer(ctx).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM events WHERE source_system = $1 AND external_id = $2)`,
		string(key.Source), key.ExternalID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check event exists: %w", err)
	}
	return exists, nil
}

// InsertEvent returns sentinel.ErrAlreadyUsed when another writer committed
// the same idempotency key first.
func (s *Store) InsertEvent(ctx context.Context, event *eventmodels.Event) error {
	metadata, err := json.Marshal(event.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	var amount sql.NullInt64
	if event.Amount != nil {
		amount = sql.NullInt64{Int64: *event.Amount, Valid: true}
	}
	var rawRef sql.NullString
	if event.RawPayloadRef != nil {
		rawRef = sql.NullString{String: *event.RawPayloadRef, Valid: true}
	}
	query := `
		INSERT INTO events (id, supporter_id, source_system, event_type, event_time, external_id, amount, currency, metadata, raw_payload_ref, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(event.ID),
		uuid.UUID(event.SupporterID),
		string(event.Source),
		string(event.Type),
		event.EventTime,
		event.ExternalID,
		amount,
		event.Currency,
		metadata,
		rawRef,
		event.CreatedAt,
	)
	if isUniqueViolation(err) {
		return sentinel.ErrAlreadyUsed
	}
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	return nil
}

// ListEventsBySupporter returns events oldest first.
func (s *Store) ListEventsBySupporter(ctx context.Context, supporterID id.SupporterID) ([]*eventmodels.Event, error) {
	query := `
		SELECT id, supporter_id, source_system, event_type, event_time, external_id, amount, currency, metadata, raw_payload_ref, created_at
		FROM events
		WHERE supporter_id = $1
		ORDER BY event_time, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(supporterID))
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*eventmodels.Event
	for rows.Next() {
		var (
			event             eventmodels.Event
			eventID, ownerID  uuid.UUID
			source, eventType string
			amount            sql.NullInt64
			metadata          []byte
			rawRef            sql.NullString
		)
		if err := rows.Scan(&eventID, &ownerID, &source, &eventType, &event.EventTime, &event.ExternalID,
			&amount, &event.Currency, &metadata, &rawRef, &event.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.ID = id.EventID(eventID)
		event.SupporterID = id.SupporterID(ownerID)
		event.Source = id.SourceSystem(source)
		event.Type = eventmodels.Type(eventType)
		if amount.Valid {
			v := amount.Int64
			event.Amount = &v
		}
		if rawRef.Valid {
			v := rawRef.String
			event.RawPayloadRef = &v
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &event.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		out = append(out, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

func (s *Store) ReassignEvents(ctx context.Context, from, to id.SupporterID) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `UPDATE events SET supporter_id = $2 WHERE supporter_id = $1`,
		uuid.UUID(from), uuid.UUID(to))
	if err != nil {
		return 0, fmt.Errorf("reassign events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reassign events: %w", err)
	}
	return int(n), nil
}

func (s *Store) ListMeaningMappings(ctx context.Context, source id.SourceSystem) ([]eventmodels.MeaningMapping, error) {
	query := `
		SELECT source_system, product_id, category_id, meaning
		FROM product_meanings
		WHERE source_system = $1
		ORDER BY product_id, category_id, meaning
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, string(source))
	if err != nil {
		return nil, fmt.Errorf("list product meanings: %w", err)
	}
	defer rows.Close()

	var out []eventmodels.MeaningMapping
	for rows.Next() {
		var (
			mapping         eventmodels.MeaningMapping
			system, meaning string
		)
		if err := rows.Scan(&system, &mapping.ProductID, &mapping.CategoryID, &meaning); err != nil {
			return nil, fmt.Errorf("scan product meaning: %w", err)
		}
		mapping.Source = id.SourceSystem(system)
		mapping.Meaning = eventmodels.ProductMeaning(meaning)
		out = append(out, mapping)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list product meanings: %w", err)
	}
	return out, nil
}

func (s *Store) SaveMeaningMapping(ctx context.Context, mapping eventmodels.MeaningMapping) error {
	query := `
		INSERT INTO product_meanings (source_system, product_id, category_id, meaning)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT DO NOTHING
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query,
		string(mapping.Source), mapping.ProductID, mapping.CategoryID, string(mapping.Meaning)); err != nil {
		return fmt.Errorf("save product meaning: %w", err)
	}
	return nil
}

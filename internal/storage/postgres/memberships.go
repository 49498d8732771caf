package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/sentinel"
)

func (s *Store) GetMembership(ctx context.Context, supporterID id.SupporterID) (*models.Membership, error) {
	query := `
		SELECT supporter_id, tier, cadence, billing_method, status, last_payment_date, next_expected_payment_date, updated_at
		FROM memberships
		WHERE supporter_id = $1` + lockClause(ctx)
	var (
		m               models.Membership
		owner           uuid.UUID
		cadence, status string
		last, next      sql.NullTime
	)
	err := s.execer(ctx).QueryRowContext(ctx, query, uuid.UUID(supporterID)).
		Scan(&owner, &m.Tier, &cadence, &m.BillingMethod, &status, &last, &next, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	m.SupporterID = id.SupporterID(owner)
	m.Cadence = models.Cadence(cadence)
	m.Status = models.MembershipStatus(status)
	if last.Valid {
		t := last.Time
		m.LastPaymentDate = &t
	}
	if next.Valid {
		t := next.Time
		m.NextExpectedPaymentDate = &t
	}
	return &m, nil
}

// SaveMembership upserts the supporter's single membership row.
func (s *Store) SaveMembership(ctx context.Context, m *models.Membership) error {
	query := `
		INSERT INTO memberships (supporter_id, tier, cadence, billing_method, status, last_payment_date, next_expected_payment_date, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (supporter_id) DO UPDATE SET
			tier = EXCLUDED.tier,
			cadence = EXCLUDED.cadence,
			billing_method = EXCLUDED.billing_method,
			status = EXCLUDED.status,
			last_payment_date = EXCLUDED.last_payment_date,
			next_expected_payment_date = EXCLUDED.next_expected_payment_date,
			updated_at = EXCLUDED.updated_at
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(m.SupporterID),
		m.Tier,
		string(m.Cadence),
		m.BillingMethod,
		string(m.Status),
		pq.NullTime{Time: deref(m.LastPaymentDate), Valid: m.LastPaymentDate != nil},
		pq.NullTime{Time: deref(m.NextExpectedPaymentDate), Valid: m.NextExpectedPaymentDate != nil},
		m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	return nil
}

func (s *Store) DeleteMembership(ctx context.Context, supporterID id.SupporterID) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM memberships WHERE supporter_id = $1`, uuid.UUID(supporterID)); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return nil
}

// SaveAudienceMembership upserts on (system, audience, member).
func (s *Store) SaveAudienceMembership(ctx context.Context, a *models.AudienceMembership) error {
	query := `
		INSERT INTO audience_memberships (supporter_id, source_system, audience_id, member_id, tags, last_synced_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (source_system, audience_id, member_id) DO UPDATE SET
			supporter_id = EXCLUDED.supporter_id,
			tags = EXCLUDED.tags,
			last_synced_at = EXCLUDED.last_synced_at
	`
	tags := a.Tags
	if tags == nil {
		tags = []string{}
	}
	_, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(a.SupporterID),
		string(a.System),
		a.AudienceID,
		a.MemberID,
		pq.Array(tags),
		pq.NullTime{Time: deref(a.LastSyncedAt), Valid: a.LastSyncedAt != nil},
	)
	if err != nil {
		return fmt.Errorf("save audience membership: %w", err)
	}
	return nil
}

func (s *Store) ListAudienceMemberships(ctx context.Context, supporterID id.SupporterID) ([]*models.AudienceMembership, error) {
	query := `
		SELECT supporter_id, source_system, audience_id, member_id, tags, last_synced_at
		FROM audience_memberships
		WHERE supporter_id = $1
		ORDER BY source_system, audience_id, member_id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(supporterID))
	if err != nil {
		return nil, fmt.Errorf("list audience memberships: %w", err)
	}
	defer rows.Close()

	var out []*models.AudienceMembership
	for rows.Next() {
		var (
			a      models.AudienceMembership
			owner  uuid.UUID
			system string
			tags   pq.StringArray
			synced pq.NullTime
		)
		if err := rows.Scan(&owner, &system, &a.AudienceID, &a.MemberID, &tags, &synced); err != nil {
			return nil, fmt.Errorf("scan audience membership: %w", err)
		}
		a.SupporterID = id.SupporterID(owner)
		a.System = id.SourceSystem(system)
		a.Tags = []string(tags)
		if synced.Valid {
			t := synced.Time
			a.LastSyncedAt = &t
		}
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audience memberships: %w", err)
	}
	return out, nil
}

func (s *Store) ListSupportersWithAudiences(ctx context.Context) ([]id.SupporterID, error) {
	return s.listSupporterIDs(ctx, `SELECT DISTINCT supporter_id FROM audience_memberships ORDER BY supporter_id`)
}

func (s *Store) ReassignAudienceMemberships(ctx context.Context, from, to id.SupporterID) error {
	if _, err := s.execer(ctx).ExecContext(ctx, `UPDATE audience_memberships SET supporter_id = $2 WHERE supporter_id = $1`,
		uuid.UUID(from), uuid.UUID(to)); err != nil {
		return fmt.Errorf("reassign audience memberships: %w", err)
	}
	return nil
}

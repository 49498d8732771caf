package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"supporterhub/internal/storage/postgres"
	id "supporterhub/pkg/domain"
)

func TestMergeLocksRowsAndRollsBackOnPostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := postgres.New(db)
	service, err := New(store, store, store)
	require.NoError(t, err)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM supporters s WHERE s.id = \$1 FOR UPDATE`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err = service.Merge(context.Background(), id.NewSupporterID(), id.NewSupporterID(), "ops", "dup")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMergeRollsBackWhenAliasReassignFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := postgres.New(db)
	service, err := New(store, store, store)
	require.NoError(t, err)

	sourceID, targetID := id.NewSupporterID(), id.NewSupporterID()
	first, second := sourceID, targetID
	if targetID.String() < sourceID.String() {
		first, second = targetID, sourceID
	}
	now := time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)
	supporterRow := func(supporterID id.SupporterID, email string) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "name", "primary_email", "phone", "supporter_type",
			"supporter_type_source", "flags", "linked_ids", "created_at", "updated_at"}).
			AddRow(supporterID.String(), "Name", email, nil, "Unknown", "auto", []byte(`{}`), []byte(`{}`), now, now)
	}
	emails := map[id.SupporterID]string{sourceID: "source@example.com", targetID: "target@example.com"}
	aliasColumns := []string{"email", "supporter_id", "is_shared", "created_at"}
	membershipColumns := []string{"supporter_id", "tier", "cadence", "billing_method", "status",
		"last_payment_date", "next_expected_payment_date", "updated_at"}

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM supporters s WHERE s.id = \$1 FOR UPDATE`).
		WithArgs(uuid.UUID(first)).WillReturnRows(supporterRow(first, emails[first]))
	mock.ExpectQuery(`FROM supporters s WHERE s.id = \$1 FOR UPDATE`).
		WithArgs(uuid.UUID(second)).WillReturnRows(supporterRow(second, emails[second]))
	for _, supporterID := range []id.SupporterID{sourceID, targetID} {
		mock.ExpectQuery(`FROM email_aliases`).WithArgs(uuid.UUID(supporterID)).
			WillReturnRows(sqlmock.NewRows(aliasColumns))
		mock.ExpectQuery(`FROM memberships`).WithArgs(uuid.UUID(supporterID)).
			WillReturnRows(sqlmock.NewRows(membershipColumns))
	}
	mock.ExpectExec(`UPDATE events SET supporter_id`).
		WithArgs(uuid.UUID(sourceID), uuid.UUID(targetID)).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(`DELETE FROM email_aliases`).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err = service.Merge(context.Background(), sourceID, targetID, "ops", "dup")
	require.ErrorContains(t, err, "deadlock detected")
	// Any audit_log insert would be an unexpected call and fail here.
	require.NoError(t, mock.ExpectationsWereMet())
}

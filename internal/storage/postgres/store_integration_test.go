//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/storage/postgres"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	"supporterhub/pkg/platform/sentinel"
	"supporterhub/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.Require().NoError(s.store.ApplySchema(context.Background()))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"audit_log", "events", "audience_memberships", "memberships", "email_aliases", "supporters", "settings", "product_meanings")
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) newSupporter(email string) *models.Supporter {
	supporter := models.NewSupporter(id.NewSupporterID(), "Pat", email, "", s.now)
	supporter.AttachLinkedID(id.SourceShopify, "cust-"+supporter.ID.String())
	s.Require().NoError(s.store.CreateSupporter(context.Background(), supporter))
	return supporter
}

func (s *PostgresStoreSuite) newEvent(supporterID id.SupporterID, externalID string) *eventmodels.Event {
	return &eventmodels.Event{
		ID:          id.NewEventID(),
		SupporterID: supporterID,
		Source:      id.SourceShopify,
		Type:        eventmodels.TypeShopOrder,
		EventTime:   s.now,
		ExternalID:  externalID,
		Metadata:    eventmodels.Metadata{ProductMeanings: []eventmodels.ProductMeaning{eventmodels.MeaningSeasonTicket}},
		CreatedAt:   s.now,
	}
}

// TestConcurrentDuplicateInsert verifies that racing inserts of one key
// produce exactly one row and distinct already-used errors for the rest.
func (s *PostgresStoreSuite) TestConcurrentDuplicateInsert() {
	ctx := context.Background()
	supporter := s.newSupporter("race@example.com")
	const goroutines = 20

	var wg sync.WaitGroup
	var created, duplicates atomic.Int32
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.InsertEvent(ctx, s.newEvent(supporter.ID, "shopify-order-race"))
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				duplicates.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), created.Load())
	s.Equal(int32(goroutines-1), duplicates.Load())
}

func (s *PostgresStoreSuite) TestSupporterRoundTrip() {
	ctx := context.Background()

	s.Run("linked id lookup", func() {
		supporter := s.newSupporter("linked@example.com")
		found, err := s.store.FindSupporterByLinkedID(ctx, id.SourceShopify, supporter.LinkedIDs[id.SourceShopify])
		s.Require().NoError(err)
		s.Equal(supporter.ID, found.ID)
		s.Equal("linked@example.com", found.PrimaryEmail)
	})

	s.Run("shared alias is not identity evidence", func() {
		supporter := s.newSupporter("")
		s.Require().NoError(s.store.AddAlias(ctx, models.EmailAlias{
			Email: "house@example.com", SupporterID: supporter.ID, IsShared: true, CreatedAt: s.now,
		}))
		found, err := s.store.FindSupportersByEmail(ctx, "house@example.com")
		s.Require().NoError(err)
		s.Empty(found)
	})

	s.Run("auto type update skips overridden supporters", func() {
		supporter := s.newSupporter("override@example.com")
		s.Require().NoError(s.store.SetTypeOverride(ctx, supporter.ID, models.TypeStaffVIP, s.now))

		changed, err := s.store.SetAutoType(ctx, supporter.ID, models.TypeShopBuyer, s.now)
		s.Require().NoError(err)
		s.False(changed)
	})
}

func (s *PostgresStoreSuite) TestRollback() {
	ctx := context.Background()
	supporter := s.newSupporter("rollback@example.com")

	err := s.store.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.store.InsertEvent(txCtx, s.newEvent(supporter.ID, "shopify-order-rollback")); err != nil {
			return err
		}
		return sentinel.ErrConflict
	})
	s.Require().ErrorIs(err, sentinel.ErrConflict)

	exists, err := s.store.EventExists(ctx, eventmodels.IdempotencyKey{Source: id.SourceShopify, ExternalID: "shopify-order-rollback"})
	s.Require().NoError(err)
	s.False(exists)
}

func (s *PostgresStoreSuite) TestAudienceMemberships() {
	ctx := context.Background()
	supporter := s.newSupporter("aud@example.com")
	s.Require().NoError(s.store.SaveAudienceMembership(ctx, &models.AudienceMembership{
		SupporterID: supporter.ID, System: id.SourceMailchimp, AudienceID: "list-1", MemberID: "m-1",
		Tags: []string{"member"},
	}))

	rows, err := s.store.ListAudienceMemberships(ctx, supporter.ID)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal([]string{"member"}, rows[0].Tags)
	s.Nil(rows[0].LastSyncedAt)

	ids, err := s.store.ListSupportersWithAudiences(ctx)
	s.Require().NoError(err)
	s.Equal([]id.SupporterID{supporter.ID}, ids)
}

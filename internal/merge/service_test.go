package merge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/suite"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/storage/memory"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
	"supporterhub/pkg/platform/audit"
	"supporterhub/pkg/requestcontext"
)

type MergeSuite struct {
	suite.Suite
	store   *memory.Store
	service *Service
	ctx     context.Context
	now     time.Time
}

func TestMergeSuite(t *testing.T) {
	suite.Run(t, new(MergeSuite))
}

func (s *MergeSuite) SetupTest() {
	s.store = memory.New()
	service, err := New(s.store, s.store, s.store)
	s.Require().NoError(err)
	s.service = service
	s.now = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
}

func (s *MergeSuite) seed(name, email, phone string) *models.Supporter {
	supporter := models.NewSupporter(id.NewSupporterID(), name, email, phone, s.now.AddDate(0, -1, 0))
	s.Require().NoError(s.store.CreateSupporter(s.ctx, supporter))
	if email != "" {
		s.Require().NoError(s.store.AddAlias(s.ctx, models.EmailAlias{Email: email, SupporterID: supporter.ID}))
	}
	return supporter
}

func (s *MergeSuite) seedEvent(supporterID id.SupporterID, externalID string) {
	s.Require().NoError(s.store.InsertEvent(s.ctx, &eventmodels.Event{
		ID:          id.NewEventID(),
		SupporterID: supporterID,
		Source:      id.SourceShopify,
		Type:        eventmodels.TypeShopOrder,
		EventTime:   s.now.AddDate(0, 0, -3),
		ExternalID:  externalID,
		CreatedAt:   s.now,
	}))
}

func (s *MergeSuite) paidMembership(supporterID id.SupporterID, tier string, paid time.Time) {
	s.Require().NoError(s.store.SaveMembership(s.ctx, &models.Membership{
		SupporterID:     supporterID,
		Tier:            tier,
		Status:          models.MembershipActive,
		LastPaymentDate: &paid,
	}))
}

func (s *MergeSuite) TestNew() {
	_, err := New(nil, s.store, s.store)
	s.Require().ErrorContains(err, "supporter store is required")
	_, err = New(s.store, nil, s.store)
	s.Require().ErrorContains(err, "transaction runner is required")
	_, err = New(s.store, s.store, nil)
	s.Require().ErrorContains(err, "audit store is required")
}

// =============================================================================
// Successful merge
// =============================================================================

func (s *MergeSuite) TestMergeMovesEverythingToTarget() {
	source := s.seed("", "old@example.com", "+447700900111")
	source.AttachLinkedID(id.SourceShopify, "shop-1")
	source.SetFlag("vip_guest")
	s.Require().NoError(s.store.UpdateSupporter(s.ctx, source))
	target := s.seed("Alex Smith", "alex@example.com", "")

	s.seedEvent(source.ID, "order-1")
	s.seedEvent(source.ID, "order-2")
	s.seedEvent(target.ID, "order-3")
	s.Require().NoError(s.store.SaveAudienceMembership(s.ctx, &models.AudienceMembership{
		SupporterID: source.ID, System: id.SourceMailchimp, AudienceID: "aud", MemberID: "m-1",
	}))

	merged, err := s.service.Merge(s.ctx, source.ID, target.ID, "ops@club.example", "  duplicate signup ")
	s.Require().NoError(err)

	s.Equal(target.ID, merged.ID)
	s.Equal("Alex Smith", merged.Name, "target name is kept")
	s.Equal("alex@example.com", merged.PrimaryEmail)
	s.Equal("+447700900111", merged.Phone, "empty target phone is backfilled")
	s.Equal("shop-1", merged.LinkedIDs[id.SourceShopify])
	s.True(merged.Flags.Has("vip_guest"))

	_, err = s.store.GetSupporter(s.ctx, source.ID)
	s.Error(err, "source is deleted")

	events, err := s.store.ListEventsBySupporter(s.ctx, target.ID)
	s.Require().NoError(err)
	s.Len(events, 3)

	aliases, err := s.store.ListAliases(s.ctx, target.ID)
	s.Require().NoError(err)
	var emails []string
	for _, a := range aliases {
		emails = append(emails, a.Email)
	}
	s.ElementsMatch([]string{"alex@example.com", "old@example.com"}, emails)

	audiences, err := s.store.ListAudienceMemberships(s.ctx, target.ID)
	s.Require().NoError(err)
	s.Len(audiences, 1)

	entries := s.store.AuditEntries()
	s.Require().Len(entries, 1)
	entry := entries[0]
	s.Equal(audit.ActionSupporterMerged, entry.Action)
	s.Equal("ops@club.example", entry.Actor)
	s.Equal("duplicate signup", entry.Reason)
	s.Equal(target.ID.String(), entry.SubjectID)
	s.Equal(s.now, entry.Timestamp)

	var before mergeSnapshot
	s.Require().NoError(json.Unmarshal(entry.Before, &before))
	s.Equal(source.ID, before.Source.Supporter.ID)
	s.Empty(before.Target.Supporter.Phone, "before snapshot is taken ahead of the changes")

	var after mergeOutcome
	s.Require().NoError(json.Unmarshal(entry.After, &after))
	s.Equal(2, after.EventsMoved)
}

func (s *MergeSuite) TestLinkedIDCollisionKeepsTarget() {
	source := s.seed("", "a@example.com", "")
	source.AttachLinkedID(id.SourceStripe, "cus_source")
	source.AttachLinkedID(id.SourceShopify, "shop-9")
	s.Require().NoError(s.store.UpdateSupporter(s.ctx, source))
	target := s.seed("", "b@example.com", "")
	target.AttachLinkedID(id.SourceStripe, "cus_target")
	s.Require().NoError(s.store.UpdateSupporter(s.ctx, target))

	merged, err := s.service.Merge(s.ctx, source.ID, target.ID, "ops", "same person")
	s.Require().NoError(err)
	s.Equal("cus_target", merged.LinkedIDs[id.SourceStripe])
	s.Equal("shop-9", merged.LinkedIDs[id.SourceShopify])
	s.False(merged.Flags.Has(models.FlagLinkedIDConflict))

	var after mergeOutcome
	s.Require().NoError(json.Unmarshal(s.store.AuditEntries()[0].After, &after))
	s.Equal(map[string]string{string(id.SourceStripe): "cus_source"}, after.DroppedLinkedIDs)
}

func (s *MergeSuite) TestMembershipPreference() {
	older := s.now.AddDate(0, -2, 0)
	newer := s.now.AddDate(0, 0, -5)

	s.Run("more recent source payment replaces target membership", func() {
		source := s.seed("", "s1@example.com", "")
		target := s.seed("", "t1@example.com", "")
		s.paidMembership(source.ID, "gold", newer)
		s.paidMembership(target.ID, "silver", older)

		_, err := s.service.Merge(s.ctx, source.ID, target.ID, "ops", "dup")
		s.Require().NoError(err)

		m, err := s.store.GetMembership(s.ctx, target.ID)
		s.Require().NoError(err)
		s.Equal("gold", m.Tier)
		_, err = s.store.GetMembership(s.ctx, source.ID)
		s.Error(err)
	})

	s.Run("older source payment is discarded", func() {
		source := s.seed("", "s2@example.com", "")
		target := s.seed("", "t2@example.com", "")
		s.paidMembership(source.ID, "gold", older)
		s.paidMembership(target.ID, "silver", newer)

		_, err := s.service.Merge(s.ctx, source.ID, target.ID, "ops", "dup")
		s.Require().NoError(err)

		m, err := s.store.GetMembership(s.ctx, target.ID)
		s.Require().NoError(err)
		s.Equal("silver", m.Tier)
	})

	s.Run("source membership moves when target has none", func() {
		source := s.seed("", "s3@example.com", "")
		target := s.seed("", "t3@example.com", "")
		s.paidMembership(source.ID, "bronze", older)

		_, err := s.service.Merge(s.ctx, source.ID, target.ID, "ops", "dup")
		s.Require().NoError(err)

		m, err := s.store.GetMembership(s.ctx, target.ID)
		s.Require().NoError(err)
		s.Equal("bronze", m.Tier)
		s.Equal(target.ID, m.SupporterID)
	})
}

func (s *MergeSuite) TestIdentityFlagsAreNotCarried() {
	source := s.seed("", "x@example.com", "+447700900222")
	source.SetFlag(models.FlagSharedPhone)
	source.SetFlag(models.FlagLinkedIDConflict)
	s.Require().NoError(s.store.UpdateSupporter(s.ctx, source))
	target := s.seed("", "y@example.com", "")

	merged, err := s.service.Merge(s.ctx, source.ID, target.ID, "ops", "dup")
	s.Require().NoError(err)
	s.False(merged.Flags.Has(models.FlagSharedPhone))
	s.False(merged.Flags.Has(models.FlagLinkedIDConflict))
}

// =============================================================================
// Preconditions
// =============================================================================

func (s *MergeSuite) TestPreconditionsWriteNothing() {
	s.Run("missing reason", func() {
		a, b := s.seed("", "", ""), s.seed("", "", "")
		_, err := s.service.Merge(s.ctx, a.ID, b.ID, "ops", "   ")
		s.ErrorIs(err, ErrReasonRequired)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("missing actor", func() {
		a, b := s.seed("", "", ""), s.seed("", "", "")
		_, err := s.service.Merge(s.ctx, a.ID, b.ID, "", "dup")
		s.ErrorIs(err, ErrActorRequired)
	})

	s.Run("self merge", func() {
		a := s.seed("", "", "")
		_, err := s.service.Merge(s.ctx, a.ID, a.ID, "ops", "dup")
		s.ErrorIs(err, ErrSelfMerge)
	})

	s.Run("unknown source", func() {
		b := s.seed("", "", "")
		_, err := s.service.Merge(s.ctx, id.NewSupporterID(), b.ID, "ops", "dup")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
		s.ErrorContains(err, "source supporter not found")
	})

	s.Run("unknown target", func() {
		a := s.seed("", "", "")
		_, err := s.service.Merge(s.ctx, a.ID, id.NewSupporterID(), "ops", "dup")
		s.ErrorContains(err, "target supporter not found")
	})

	s.Run("shared email flag", func() {
		a, b := s.seed("", "a1@example.com", ""), s.seed("", "b1@example.com", "")
		b.SetFlag(models.FlagSharedEmail)
		s.Require().NoError(s.store.UpdateSupporter(s.ctx, b))
		s.seedEvent(a.ID, "flag-order")

		_, err := s.service.Merge(s.ctx, a.ID, b.ID, "ops", "dup")
		s.ErrorIs(err, ErrSharedEmailFlag)

		events, err := s.store.ListEventsBySupporter(s.ctx, a.ID)
		s.Require().NoError(err)
		s.Len(events, 1)
	})

	s.Run("identical primary email", func() {
		a := s.seed("", "same@example.com", "")
		b := models.NewSupporter(id.NewSupporterID(), "", "same@example.com", "", s.now)
		s.Require().NoError(s.store.CreateSupporter(s.ctx, b))

		_, err := s.service.Merge(s.ctx, a.ID, b.ID, "ops", "dup")
		s.ErrorIs(err, ErrIdenticalPrimaryEmail)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("alias held by both", func() {
		a, b := s.seed("", "p@example.com", ""), s.seed("", "q@example.com", "")
		s.Require().NoError(s.store.AddAlias(s.ctx, models.EmailAlias{Email: "home@example.com", SupporterID: a.ID}))
		s.Require().NoError(s.store.AddAlias(s.ctx, models.EmailAlias{Email: "home@example.com", SupporterID: b.ID}))

		_, err := s.service.Merge(s.ctx, a.ID, b.ID, "ops", "dup")
		s.ErrorIs(err, ErrSharedAlias)
	})

	s.Empty(s.store.AuditEntries())
}

// =============================================================================
// Atomicity
// =============================================================================

type failingStore struct {
	*memory.Store
	failOn string
}

func (f *failingStore) ReassignAliases(ctx context.Context, from, to id.SupporterID) error {
	if f.failOn == "aliases" {
		return errors.New("connection reset")
	}
	return f.Store.ReassignAliases(ctx, from, to)
}

func (f *failingStore) DeleteSupporter(ctx context.Context, supporterID id.SupporterID) error {
	if f.failOn == "delete" {
		return errors.New("connection reset")
	}
	return f.Store.DeleteSupporter(ctx, supporterID)
}

func (s *MergeSuite) TestFailureRollsBackEveryStep() {
	for _, step := range []string{"aliases", "delete"} {
		s.Run(step, func() {
			source := s.seed("", step+"-src@example.com", "")
			target := s.seed("", step+"-tgt@example.com", "")
			s.seedEvent(source.ID, step+"-order")
			s.paidMembership(source.ID, "gold", s.now)

			service, err := New(&failingStore{Store: s.store, failOn: step}, s.store, s.store)
			s.Require().NoError(err)

			_, err = service.Merge(s.ctx, source.ID, target.ID, "ops", "dup")
			s.Require().ErrorContains(err, "connection reset")

			events, err := s.store.ListEventsBySupporter(s.ctx, source.ID)
			s.Require().NoError(err)
			s.Len(events, 1, "event reassignment is undone")
			_, err = s.store.GetSupporter(s.ctx, source.ID)
			s.NoError(err)
			m, err := s.store.GetMembership(s.ctx, source.ID)
			s.Require().NoError(err)
			s.Equal("gold", m.Tier)
			s.Empty(s.store.AuditEntries())
		})
	}
}

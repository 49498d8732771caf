package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "supporterhub/pkg/domain"
)

func TestMembershipIsActive_GraceBoundary(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)
	lastPaid := now.AddDate(0, 0, -7)
	m := &Membership{Status: MembershipPastDue, LastPaymentDate: &lastPaid}

	assert.True(t, m.IsActive(now, 7), "boundary is inclusive at the configured value")
	assert.False(t, m.IsActive(now, 6))
}

func TestMembershipIsActive(t *testing.T) {
	now := time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

	assert.True(t, (&Membership{Status: MembershipActive}).IsActive(now, 0))
	assert.False(t, (&Membership{Status: MembershipCancelled}).IsActive(now, 30))
	assert.False(t, (&Membership{Status: MembershipPastDue}).IsActive(now, 30), "past due without payment date")
	var nilMembership *Membership
	assert.False(t, nilMembership.IsActive(now, 30))
}

func TestAttachLinkedID(t *testing.T) {
	s := NewSupporter(id.NewSupporterID(), "", "a@example.com", "", time.Now())

	assert.Equal(t, LinkAttached, s.AttachLinkedID(id.SourceShopify, "A"))
	assert.Equal(t, LinkUnchanged, s.AttachLinkedID(id.SourceShopify, "A"))
	assert.Equal(t, LinkConflict, s.AttachLinkedID(id.SourceShopify, "B"))
	assert.Equal(t, "A", s.LinkedIDs[id.SourceShopify], "existing id is never replaced")
	assert.Equal(t, LinkUnchanged, s.AttachLinkedID(id.SourceStripe, ""))
}

func TestBackfill(t *testing.T) {
	s := NewSupporter(id.NewSupporterID(), "Jane", "", "", time.Now())
	assert.True(t, s.Backfill("Other", "+447700900123"))
	assert.Equal(t, "Jane", s.Name)
	assert.Equal(t, "+447700900123", s.Phone)
	assert.False(t, s.Backfill("x", "y"))
}

func TestClone_IsDeep(t *testing.T) {
	s := NewSupporter(id.NewSupporterID(), "", "", "", time.Now())
	s.LinkedIDs[id.SourceShopify] = "A"
	c := s.Clone()
	c.LinkedIDs[id.SourceStripe] = "B"
	c.SetFlag(FlagSharedEmail)

	assert.NotContains(t, s.LinkedIDs, id.SourceStripe)
	assert.False(t, s.Flags.Has(FlagSharedEmail))
}

func TestPreferMembership(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.AddDate(0, 1, 0)
	src := &Membership{Tier: "gold", LastPaymentDate: &newer}
	tgt := &Membership{Tier: "silver", LastPaymentDate: &older}

	assert.Same(t, src, PreferMembership(src, tgt))
	assert.Same(t, tgt, PreferMembership(nil, tgt))
	assert.Same(t, src, PreferMembership(src, nil))
	same := &Membership{Tier: "bronze", LastPaymentDate: &newer}
	assert.Same(t, same, PreferMembership(src, same), "ties go to the target")
}

func TestRecordPayment(t *testing.T) {
	paid := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	next := paid.AddDate(0, 1, 0)
	m := &Membership{Status: MembershipPastDue}
	m.RecordPayment(paid, &next)

	assert.Equal(t, MembershipActive, m.Status)
	assert.Equal(t, paid, *m.LastPaymentDate)
	assert.Equal(t, next, *m.NextExpectedPaymentDate)

	m.RecordPayment(paid.AddDate(0, 0, -10), nil)
	assert.Equal(t, paid, *m.LastPaymentDate, "older payments never move the date backwards")

	next2 := next.AddDate(0, 1, 0)
	m.RecordPayment(paid.AddDate(0, 0, -5), &next2)
	assert.Equal(t, MembershipActive, m.Status)
	assert.Equal(t, next2, *m.NextExpectedPaymentDate)

	cancelled := &Membership{Status: MembershipCancelled}
	cancelled.RecordFailedPayment(paid)
	assert.Equal(t, MembershipCancelled, cancelled.Status)
}

func TestPaymentOrdering(t *testing.T) {
	paid := time.Date(2026, 5, 30, 0, 0, 0, 0, time.UTC)

	t.Run("failure older than the last payment is ignored", func(t *testing.T) {
		m := &Membership{Status: MembershipUnknown}
		m.RecordPayment(paid, nil)
		m.RecordFailedPayment(paid.AddDate(0, 0, -1))
		assert.Equal(t, MembershipActive, m.Status)
	})

	t.Run("failure at the same instant as the payment is ignored", func(t *testing.T) {
		m := &Membership{Status: MembershipUnknown}
		m.RecordPayment(paid, nil)
		m.RecordFailedPayment(paid)
		assert.Equal(t, MembershipActive, m.Status)
	})

	t.Run("newer failure moves to past due", func(t *testing.T) {
		m := &Membership{Status: MembershipUnknown}
		m.RecordPayment(paid, nil)
		m.RecordFailedPayment(paid.Add(time.Hour))
		assert.Equal(t, MembershipPastDue, m.Status)
		assert.Equal(t, paid, *m.LastPaymentDate)
	})

	t.Run("stale payment does not clear a newer failure", func(t *testing.T) {
		m := &Membership{Status: MembershipUnknown}
		m.RecordPayment(paid, nil)
		m.RecordFailedPayment(paid.AddDate(0, 0, 3))
		m.RecordPayment(paid.AddDate(0, 0, -30), nil)
		assert.Equal(t, MembershipPastDue, m.Status)
		assert.Equal(t, paid, *m.LastPaymentDate)
	})

	t.Run("failure with no payment history applies", func(t *testing.T) {
		m := &Membership{Status: MembershipUnknown}
		m.RecordFailedPayment(paid)
		assert.Equal(t, MembershipPastDue, m.Status)
	})
}

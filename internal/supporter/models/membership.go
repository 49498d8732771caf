package models

import (
	"time"

	id "supporterhub/pkg/domain"
)

type MembershipStatus string

const (
	MembershipActive    MembershipStatus = "Active"
	MembershipPastDue   MembershipStatus = "Past Due"
	MembershipCancelled MembershipStatus = "Cancelled"
	MembershipUnknown   MembershipStatus = "Unknown"
)

type Cadence string

const (
	CadenceMonthly Cadence = "Monthly"
	CadenceAnnual  Cadence = "Annual"
)

// Membership is one-to-one with a supporter.
type Membership struct {
	SupporterID             id.SupporterID
	Tier                    string
	Cadence                 Cadence
	BillingMethod           string
	Status                  MembershipStatus
	LastPaymentDate         *time.Time
	NextExpectedPaymentDate *time.Time
	UpdatedAt               time.Time
}

// IsActive applies the grace period: an Active membership counts, and so
// does a Past Due one while now is within graceDays of the last payment
// (boundary inclusive).
func (m *Membership) IsActive(now time.Time, graceDays int) bool {
	if m == nil {
		return false
	}
	switch m.Status {
	case MembershipActive:
		return true
	case MembershipPastDue:
		if m.LastPaymentDate == nil || graceDays < 0 {
			return false
		}
		return !now.After(m.LastPaymentDate.AddDate(0, 0, graceDays))
	default:
		return false
	}
}

// RecordPayment marks a successful payment. A payment at or before the
// recorded LastPaymentDate is stale: it can fill in the next expected date
// but never changes the status.
func (m *Membership) RecordPayment(paidAt time.Time, nextExpected *time.Time) {
	if nextExpected != nil && (m.NextExpectedPaymentDate == nil || nextExpected.After(*m.NextExpectedPaymentDate)) {
		t := *nextExpected
		m.NextExpectedPaymentDate = &t
	}
	if m.LastPaymentDate != nil && !paidAt.After(*m.LastPaymentDate) {
		return
	}
	t := paidAt
	m.LastPaymentDate = &t
	m.Status = MembershipActive
	m.UpdatedAt = paidAt
}

// RecordFailedPayment moves an active membership to Past Due. Failures at or
// before the last successful payment are superseded by it and ignored.
// Cancelled memberships stay cancelled.
func (m *Membership) RecordFailedPayment(failedAt time.Time) {
	if m.Status == MembershipCancelled {
		return
	}
	if m.LastPaymentDate != nil && !failedAt.After(*m.LastPaymentDate) {
		return
	}
	m.Status = MembershipPastDue
	m.UpdatedAt = failedAt
}

// PreferMembership picks which of two memberships survives a merge: the one
// with the most recent payment, ties going to the target.
func PreferMembership(source, target *Membership) *Membership {
	switch {
	case source == nil:
		return target
	case target == nil:
		return source
	case source.LastPaymentDate == nil:
		return target
	case target.LastPaymentDate == nil:
		return source
	case source.LastPaymentDate.After(*target.LastPaymentDate):
		return source
	default:
		return target
	}
}

// AudienceMembership links a supporter to a member record in an external
// audience (e.g. a mailing list) and remembers the tags last pushed there.
type AudienceMembership struct {
	SupporterID  id.SupporterID
	System       id.SourceSystem
	AudienceID   string
	MemberID     string
	Tags         []string
	LastSyncedAt *time.Time
}

package models

import (
	"maps"
	"time"

	id "supporterhub/pkg/domain"
)

// Type is the derived supporter category.
type Type string

const (
	TypeMember             Type = "Member"
	TypeSeasonTicketHolder Type = "Season Ticket Holder"
	TypeTicketBuyer        Type = "Ticket Buyer"
	TypeShopBuyer          Type = "Shop Buyer"
	TypeAwaySupporter      Type = "Away Supporter"
	TypeStaffVIP           Type = "Staff/VIP"
	TypeUnknown            Type = "Unknown"
)

// TypeSource records who set the supporter type.
type TypeSource string

const (
	TypeSourceAuto          TypeSource = "auto"
	TypeSourceAdminOverride TypeSource = "admin_override"
)

// Flag keys. The set is open; these are the ones the core writes.
const (
	FlagSharedEmail      = "shared_email"
	FlagSharedPhone      = "shared_phone"
	FlagLinkedIDConflict = "linked_id_conflict"
)

// Flags is an open set of boolean markers on a supporter.
type Flags map[string]bool

func (f Flags) Has(key string) bool { return f[key] }

// LinkedIDs maps a source system to that system's customer id.
type LinkedIDs map[id.SourceSystem]string

// Supporter is the canonical identity record for one person.
type Supporter struct {
	ID           id.SupporterID
	Name         string
	PrimaryEmail string
	Phone        string
	Type         Type
	TypeSource   TypeSource
	Flags        Flags
	LinkedIDs    LinkedIDs
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// NewSupporter builds an auto-classified supporter with no category yet.
func NewSupporter(supporterID id.SupporterID, name, primaryEmail, phone string, now time.Time) *Supporter {
	return &Supporter{
		ID:           supporterID,
		Name:         name,
		PrimaryEmail: primaryEmail,
		Phone:        phone,
		Type:         TypeUnknown,
		TypeSource:   TypeSourceAuto,
		Flags:        Flags{},
		LinkedIDs:    LinkedIDs{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Clone returns a deep copy safe to mutate.
func (s *Supporter) Clone() *Supporter {
	if s == nil {
		return nil
	}
	c := *s
	c.Flags = maps.Clone(s.Flags)
	if c.Flags == nil {
		c.Flags = Flags{}
	}
	c.LinkedIDs = maps.Clone(s.LinkedIDs)
	if c.LinkedIDs == nil {
		c.LinkedIDs = LinkedIDs{}
	}
	return &c
}

// IsOverridden reports whether an operator pinned the supporter type.
func (s *Supporter) IsOverridden() bool {
	return s.TypeSource == TypeSourceAdminOverride
}

// SetFlag marks a flag and reports whether it changed.
func (s *Supporter) SetFlag(key string) bool {
	if s.Flags == nil {
		s.Flags = Flags{}
	}
	if s.Flags[key] {
		return false
	}
	s.Flags[key] = true
	return true
}

// LinkOutcome describes what AttachLinkedID did.
type LinkOutcome int

const (
	LinkUnchanged LinkOutcome = iota
	LinkAttached
	LinkConflict
)

// AttachLinkedID records a source customer id without ever replacing a
// different id already held for that source.
func (s *Supporter) AttachLinkedID(system id.SourceSystem, externalID string) LinkOutcome {
	if externalID == "" {
		return LinkUnchanged
	}
	if s.LinkedIDs == nil {
		s.LinkedIDs = LinkedIDs{}
	}
	existing, ok := s.LinkedIDs[system]
	switch {
	case !ok || existing == "":
		s.LinkedIDs[system] = externalID
		return LinkAttached
	case existing == externalID:
		return LinkUnchanged
	default:
		return LinkConflict
	}
}

// Backfill fills empty name and phone. It never overwrites existing values.
func (s *Supporter) Backfill(name, phone string) bool {
	changed := false
	if s.Name == "" && name != "" {
		s.Name = name
		changed = true
	}
	if s.Phone == "" && phone != "" {
		s.Phone = phone
		changed = true
	}
	return changed
}

// EmailAlias is an email owned by a supporter. Shared aliases belong to more
// than one person and never count as identity evidence.
type EmailAlias struct {
	Email       string
	SupporterID id.SupporterID
	IsShared    bool
	CreatedAt   time.Time
}

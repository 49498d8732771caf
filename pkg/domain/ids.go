package domain

import (
	"strings"

	"github.com/google/uuid"

	dErrors "supporterhub/pkg/domain-errors"
)

// SupporterID identifies a canonical supporter. It never changes once issued.
type SupporterID uuid.UUID

// EventID identifies a stored activity event.
type EventID uuid.UUID

func NewSupporterID() SupporterID { return SupporterID(uuid.New()) }

func NewEventID() EventID { return EventID(uuid.New()) }

func (id SupporterID) String() string { return uuid.UUID(id).String() }

func (id SupporterID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id EventID) String() string { return uuid.UUID(id).String() }

func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// ParseSupporterID validates an external supporter id.
func ParseSupporterID(s string) (SupporterID, error) {
	u, err := parseUUID(s, "supporter id")
	return SupporterID(u), err
}

// ParseEventID validates an external event id.
func ParseEventID(s string) (EventID, error) {
	u, err := parseUUID(s, "event id")
	return EventID(u), err
}

func parseUUID(s, label string) (uuid.UUID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" must not be nil")
	}
	return u, nil
}

func (id SupporterID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SupporterID) UnmarshalText(b []byte) error {
	parsed, err := ParseSupporterID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id EventID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

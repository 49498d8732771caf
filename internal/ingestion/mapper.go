package ingestion

import (
	"time"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/identity"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
)

// Mapped is what a mapper extracts from one payload. The event has no id or
// supporter yet; the processor fills those in.
type Mapped struct {
	Signals   identity.Signals
	Event     eventmodels.Event
	LineItems []eventmodels.LineItem
	Payment   *Payment
	Audience  *Audience
}

// Payment carries membership details reported alongside a payment event.
type Payment struct {
	NextExpected  *time.Time
	Tier          string
	Cadence       models.Cadence
	BillingMethod string
}

// Audience identifies the mailing-list member a payload came from.
type Audience struct {
	AudienceID string
	MemberID   string
}

// Mapper turns one source's payloads into canonical form. Map is pure: it
// returns (nil, nil) for message types the source does not handle and a
// malformed_message error for payloads it cannot parse.
type Mapper interface {
	Source() id.SourceSystem
	Map(msg Message) (*Mapped, error)
}

// DefaultMappers returns the mapper for every supported source.
func DefaultMappers() []Mapper {
	return []Mapper{
		ShopifyMapper{},
		FutureTicketingMapper{},
		MailchimpMapper{},
		StripeMapper{},
		GoCardlessMapper{},
	}
}

func linked(system id.SourceSystem, customerID flexID) *identity.LinkedID {
	if customerID == "" {
		return nil
	}
	return &identity.LinkedID{System: system, ID: string(customerID)}
}

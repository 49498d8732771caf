package models

import (
	"slices"
	"time"

	id "supporterhub/pkg/domain"
)

// Type is the canonical kind of a supporter activity event.
type Type string

const (
	TypeShopOrder        Type = "shop_order"
	TypeTicketPurchase   Type = "ticket_purchase"
	TypeTicketEntry      Type = "ticket_entry"
	TypeEmailClick       Type = "email_click"
	TypePaymentSucceeded Type = "payment_succeeded"
	TypePaymentFailed    Type = "payment_failed"
)

// IsTicket reports whether the event is ticketing activity.
func (t Type) IsTicket() bool {
	return t == TypeTicketPurchase || t == TypeTicketEntry
}

// ProductMeaning classifies what a purchased product says about a supporter.
type ProductMeaning string

const (
	MeaningSeasonTicket  ProductMeaning = "SeasonTicket"
	MeaningAwaySupporter ProductMeaning = "AwaySupporter"
	MeaningHospitality   ProductMeaning = "Hospitality"
	MeaningMembership    ProductMeaning = "Membership"
)

// Metadata is the structured part of an event beyond its columns.
type Metadata struct {
	ProductMeanings []ProductMeaning  `json:"product_meanings,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

// Event is one row of the activity ledger. (Source, ExternalID) is unique.
type Event struct {
	ID            id.EventID
	SupporterID   id.SupporterID
	Source        id.SourceSystem
	Type          Type
	EventTime     time.Time
	ExternalID    string
	Amount        *int64 // minor currency units
	Currency      string
	Metadata      Metadata
	RawPayloadRef *string
	CreatedAt     time.Time
}

// Key returns the idempotency key of the event.
func (e *Event) Key() IdempotencyKey {
	return IdempotencyKey{Source: e.Source, ExternalID: e.ExternalID}
}

// HasMeaning reports whether any line item carried the given meaning.
func (e *Event) HasMeaning(m ProductMeaning) bool {
	return slices.Contains(e.Metadata.ProductMeanings, m)
}

// AddMeanings appends meanings not already present.
func (e *Event) AddMeanings(meanings ...ProductMeaning) {
	for _, m := range meanings {
		if !e.HasMeaning(m) {
			e.Metadata.ProductMeanings = append(e.Metadata.ProductMeanings, m)
		}
	}
}

// Within reports whether the event happened in the trailing window ending at now.
func (e *Event) Within(now time.Time, window time.Duration) bool {
	return !e.EventTime.Before(now.Add(-window)) && !e.EventTime.After(now)
}

// Clone returns a copy whose slices and maps are not shared.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	c := *e
	c.Metadata.ProductMeanings = slices.Clone(e.Metadata.ProductMeanings)
	if e.Metadata.Attributes != nil {
		c.Metadata.Attributes = make(map[string]string, len(e.Metadata.Attributes))
		for k, v := range e.Metadata.Attributes {
			c.Metadata.Attributes[k] = v
		}
	}
	if e.Amount != nil {
		a := *e.Amount
		c.Amount = &a
	}
	if e.RawPayloadRef != nil {
		r := *e.RawPayloadRef
		c.RawPayloadRef = &r
	}
	return &c
}

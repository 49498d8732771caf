package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	id "supporterhub/pkg/domain"
)

func TestExternalIDFormats(t *testing.T) {
	assert.Equal(t, "shopify-order-1001", OrderExternalID(id.SourceShopify, "1001"))
	assert.Equal(t, "futureticketing-entry-77", EntryExternalID(id.SourceFutureTicketing, "77"))
	assert.Equal(t, "stripe-invoice-in_1", InvoiceExternalID(id.SourceStripe, "in_1", false))
	assert.Equal(t, "stripe-invoice-failed-in_1", InvoiceExternalID(id.SourceStripe, "in_1", true))
	assert.Equal(t, "gocardless-payment-PM1", PaymentExternalID(id.SourceGoCardless, "PM1", false))
}

func TestClickExternalID_IsStable(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	a := ClickExternalID(id.SourceMailchimp, "c1", "a@example.com", "https://club/x", at)
	b := ClickExternalID(id.SourceMailchimp, "c1", "a@example.com", "https://club/x", at.In(time.FixedZone("X", 3600)))
	c := ClickExternalID(id.SourceMailchimp, "c1", "a@example.com", "https://club/y", at)

	assert.Equal(t, a, b, "same instant in another zone yields the same key")
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "mailchimp-click-c1-")
}

func TestEventWithin(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	e := &Event{EventTime: now.AddDate(0, 0, -30)}

	assert.True(t, e.Within(now, 30*24*time.Hour))
	assert.False(t, e.Within(now, 29*24*time.Hour))
	future := &Event{EventTime: now.Add(time.Hour)}
	assert.False(t, future.Within(now, 24*time.Hour))
}

func TestAddMeanings(t *testing.T) {
	e := &Event{}
	e.AddMeanings(MeaningSeasonTicket, MeaningSeasonTicket, MeaningHospitality)
	assert.Equal(t, []ProductMeaning{MeaningSeasonTicket, MeaningHospitality}, e.Metadata.ProductMeanings)
	assert.True(t, e.HasMeaning(MeaningHospitality))
	assert.False(t, e.HasMeaning(MeaningAwaySupporter))
}

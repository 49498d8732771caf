package classifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/settings"
	"supporterhub/internal/supporter/models"
)

var ruleNow = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

func event(eventType eventmodels.Type, daysAgo int, meanings ...eventmodels.ProductMeaning) *eventmodels.Event {
	e := &eventmodels.Event{Type: eventType, EventTime: ruleNow.AddDate(0, 0, -daysAgo)}
	e.AddMeanings(meanings...)
	return e
}

func TestClassify(t *testing.T) {
	lastPaid := ruleNow.AddDate(0, 0, -7)
	active := &models.Membership{Status: models.MembershipActive}
	pastDue := &models.Membership{Status: models.MembershipPastDue, LastPaymentDate: &lastPaid}

	tests := []struct {
		name       string
		membership *models.Membership
		events     []*eventmodels.Event
		graceDays  int
		want       models.Type
	}{
		{
			name:       "active membership beats everything",
			membership: active,
			events:     []*eventmodels.Event{event(eventmodels.TypeTicketPurchase, 1, eventmodels.MeaningSeasonTicket)},
			want:       models.TypeMember,
		},
		{
			name:       "past due within grace is still a member",
			membership: pastDue,
			graceDays:  7,
			want:       models.TypeMember,
		},
		{
			name:       "past due outside grace falls through",
			membership: pastDue,
			graceDays:  6,
			events:     []*eventmodels.Event{event(eventmodels.TypeShopOrder, 10)},
			want:       models.TypeShopBuyer,
		},
		{
			name:   "season ticket at any age",
			events: []*eventmodels.Event{event(eventmodels.TypeTicketPurchase, 900, eventmodels.MeaningSeasonTicket)},
			want:   models.TypeSeasonTicketHolder,
		},
		{
			name:   "away tickets only",
			events: []*eventmodels.Event{event(eventmodels.TypeTicketPurchase, 400, eventmodels.MeaningAwaySupporter)},
			want:   models.TypeAwaySupporter,
		},
		{
			name: "away tickets plus a recent home ticket",
			events: []*eventmodels.Event{
				event(eventmodels.TypeTicketPurchase, 20, eventmodels.MeaningAwaySupporter),
				event(eventmodels.TypeTicketPurchase, 30),
			},
			want: models.TypeTicketBuyer,
		},
		{
			name: "away tickets plus a recent shop order",
			events: []*eventmodels.Event{
				event(eventmodels.TypeTicketPurchase, 20, eventmodels.MeaningAwaySupporter),
				event(eventmodels.TypeShopOrder, 30),
			},
			want: models.TypeTicketBuyer,
		},
		{
			name: "away tickets with only old home activity",
			events: []*eventmodels.Event{
				event(eventmodels.TypeTicketPurchase, 20, eventmodels.MeaningAwaySupporter),
				event(eventmodels.TypeShopOrder, 500),
			},
			want: models.TypeAwaySupporter,
		},
		{
			name:   "away ticket outside the away window",
			events: []*eventmodels.Event{event(eventmodels.TypeTicketPurchase, 800, eventmodels.MeaningAwaySupporter)},
			want:   models.TypeUnknown,
		},
		{
			name:   "recent ticket",
			events: []*eventmodels.Event{event(eventmodels.TypeTicketPurchase, 100)},
			want:   models.TypeTicketBuyer,
		},
		{
			name:   "old ticket and old order",
			events: []*eventmodels.Event{event(eventmodels.TypeTicketPurchase, 366), event(eventmodels.TypeShopOrder, 400)},
			want:   models.TypeUnknown,
		},
		{
			name:   "email clicks alone",
			events: []*eventmodels.Event{event(eventmodels.TypeEmailClick, 1)},
			want:   models.TypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := settings.Defaults()
			cfg.GraceDays = tt.graceDays
			got, _ := Classify(DefaultRules(), Facts{Now: ruleNow, Config: cfg, Membership: tt.membership, Events: tt.events})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyReportsRuleName(t *testing.T) {
	_, rule := Classify(DefaultRules(), Facts{Now: ruleNow, Config: settings.Defaults(), Membership: &models.Membership{Status: models.MembershipActive}})
	assert.Equal(t, "membership", rule)

	_, rule = Classify(DefaultRules(), Facts{Now: ruleNow, Config: settings.Defaults()})
	assert.Equal(t, fallbackRule, rule)
}

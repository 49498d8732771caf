// Package classifier derives each supporter's type from their membership and
// activity history.
package classifier

import (
	"time"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/settings"
	"supporterhub/internal/supporter/models"
)

// Facts is everything a rule may look at. Rules are pure functions of Facts.
type Facts struct {
	Now        time.Time
	Config     settings.RunConfig
	Membership *models.Membership
	Events     []*eventmodels.Event
}

// Rule maps a predicate to the type it assigns. The first matching rule in a
// list wins.
type Rule struct {
	Name   string
	Result models.Type
	Match  func(Facts) bool
}

// DefaultRules is the priority-ordered rule chain:
//  1. active membership, with the grace period for Past Due
//  2. any season ticket purchase
//  3. recent away tickets with no other ticket or shop activity
//  4. recent ticket purchase
//  5. recent shop order
func DefaultRules() []Rule {
	return []Rule{
		{Name: "membership", Result: models.TypeMember, Match: hasActiveMembership},
		{Name: "season_ticket", Result: models.TypeSeasonTicketHolder, Match: hasSeasonTicket},
		{Name: "away_only", Result: models.TypeAwaySupporter, Match: isAwayOnly},
		{Name: "ticket", Result: models.TypeTicketBuyer, Match: boughtTicketRecently},
		{Name: "shop", Result: models.TypeShopBuyer, Match: shoppedRecently},
	}
}

// fallbackRule applies when nothing else matches.
const fallbackRule = "none"

// Classify returns the first matching rule's type and name, or Unknown.
func Classify(rules []Rule, facts Facts) (models.Type, string) {
	for _, rule := range rules {
		if rule.Match(facts) {
			return rule.Result, rule.Name
		}
	}
	return models.TypeUnknown, fallbackRule
}

func hasActiveMembership(f Facts) bool {
	return f.Membership.IsActive(f.Now, f.Config.GraceDays)
}

func hasSeasonTicket(f Facts) bool {
	for _, e := range f.Events {
		if e.HasMeaning(eventmodels.MeaningSeasonTicket) {
			return true
		}
	}
	return false
}

func isAwayOnly(f Facts) bool {
	var away bool
	for _, e := range f.Events {
		isAway := e.HasMeaning(eventmodels.MeaningAwaySupporter)
		if isAway && e.Within(f.Now, f.Config.AwayLookback) {
			away = true
		}
		if !isAway && (e.Type.IsTicket() || e.Type == eventmodels.TypeShopOrder) && e.Within(f.Now, f.Config.GeneralLookback) {
			return false
		}
	}
	return away
}

func boughtTicketRecently(f Facts) bool {
	return anyWithin(f, eventmodels.TypeTicketPurchase, f.Config.TicketLookback)
}

func shoppedRecently(f Facts) bool {
	return anyWithin(f, eventmodels.TypeShopOrder, f.Config.ShopLookback)
}

func anyWithin(f Facts, eventType eventmodels.Type, window time.Duration) bool {
	for _, e := range f.Events {
		if e.Type == eventType && e.Within(f.Now, window) {
			return true
		}
	}
	return false
}

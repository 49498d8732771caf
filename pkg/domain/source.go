package domain

import "fmt"

// SourceSystem names an external platform that produces supporter activity.
type SourceSystem string

const (
	SourceShopify         SourceSystem = "shopify"
	SourceFutureTicketing SourceSystem = "futureticketing"
	SourceStripe          SourceSystem = "stripe"
	SourceGoCardless      SourceSystem = "gocardless"
	SourceMailchimp       SourceSystem = "mailchimp"
)

var knownSources = map[SourceSystem]struct{}{
	SourceShopify:         {},
	SourceFutureTicketing: {},
	SourceStripe:          {},
	SourceGoCardless:      {},
	SourceMailchimp:       {},
}

// ParseSourceSystem rejects unknown source names.
func ParseSourceSystem(s string) (SourceSystem, error) {
	src := SourceSystem(s)
	if _, ok := knownSources[src]; !ok {
		return "", fmt.Errorf("unknown source system: %s", s)
	}
	return src, nil
}

// AllSources lists every known source in a stable order.
func AllSources() []SourceSystem {
	return []SourceSystem{SourceShopify, SourceFutureTicketing, SourceStripe, SourceGoCardless, SourceMailchimp}
}

func (s SourceSystem) String() string { return string(s) }

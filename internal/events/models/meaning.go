package models

import id "supporterhub/pkg/domain"

// MeaningMapping attaches a meaning to a product or a whole product
// category of one source. Either ProductID or CategoryID may be empty.
type MeaningMapping struct {
	Source     id.SourceSystem
	ProductID  string
	CategoryID string
	Meaning    ProductMeaning
}

// LineItem is one purchased item as the source reported it.
type LineItem struct {
	ProductID  string
	CategoryID string
	Title      string
	Quantity   int
}

// Matches reports whether the mapping applies to the item.
func (m MeaningMapping) Matches(item LineItem) bool {
	if m.ProductID != "" && m.ProductID == item.ProductID {
		return true
	}
	return m.CategoryID != "" && m.CategoryID == item.CategoryID
}

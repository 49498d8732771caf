package ingestion

import (
	"strings"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/identity"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
)

const (
	FutureTicketingOrderCreated = "order.created"
	FutureTicketingEntryScanned = "entry.scanned"
)

type ftCustomer struct {
	ID    flexID `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

type ftOrder struct {
	ID        flexID      `json:"id"`
	CreatedAt string      `json:"created_at"`
	Total     flexAmount  `json:"total"`
	Currency  string      `json:"currency"`
	Customer  *ftCustomer `json:"customer"`
	Event     string      `json:"event_name"`
	Items     []struct {
		ProductID  flexID `json:"product_id"`
		CategoryID flexID `json:"category_id"`
		Name       string `json:"name"`
		Quantity   int    `json:"quantity"`
	} `json:"items"`
}

type ftEntry struct {
	ID         flexID      `json:"id"`
	ScannedAt  string      `json:"scanned_at"`
	OrderID    flexID      `json:"order_id"`
	ProductID  flexID      `json:"product_id"`
	CategoryID flexID      `json:"category_id"`
	Venue      string      `json:"venue"`
	Customer   *ftCustomer `json:"customer"`
}

// FutureTicketingMapper maps ticket orders and turnstile entry scans.
type FutureTicketingMapper struct{}

func (FutureTicketingMapper) Source() id.SourceSystem { return id.SourceFutureTicketing }

func (m FutureTicketingMapper) Map(msg Message) (*Mapped, error) {
	switch msg.Type {
	case FutureTicketingOrderCreated:
		return m.mapOrder(msg)
	case FutureTicketingEntryScanned:
		return m.mapEntry(msg)
	default:
		return nil, nil
	}
}

func (FutureTicketingMapper) mapOrder(msg Message) (*Mapped, error) {
	var order ftOrder
	if err := decodeData(msg, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, dErrors.New(dErrors.CodeMalformedMessage, msg.Type+": order id is required")
	}
	items := make([]eventmodels.LineItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, eventmodels.LineItem{
			ProductID:  string(it.ProductID),
			CategoryID: string(it.CategoryID),
			Title:      it.Name,
			Quantity:   it.Quantity,
		})
	}
	attrs := map[string]string{"order_id": string(order.ID)}
	if order.Event != "" {
		attrs["event_name"] = order.Event
	}
	return &Mapped{
		Signals: ftSignals(order.Customer),
		Event: eventmodels.Event{
			Source:     id.SourceFutureTicketing,
			Type:       eventmodels.TypeTicketPurchase,
			EventTime:  parseTime(order.CreatedAt),
			ExternalID: eventmodels.OrderExternalID(id.SourceFutureTicketing, string(order.ID)),
			Amount:     order.Total.minor,
			Currency:   strings.ToUpper(order.Currency),
			Metadata:   eventmodels.Metadata{Attributes: attrs},
		},
		LineItems: items,
	}, nil
}

func (FutureTicketingMapper) mapEntry(msg Message) (*Mapped, error) {
	var entry ftEntry
	if err := decodeData(msg, &entry); err != nil {
		return nil, err
	}
	if entry.ID == "" {
		return nil, dErrors.New(dErrors.CodeMalformedMessage, msg.Type+": entry id is required")
	}
	attrs := map[string]string{}
	if entry.OrderID != "" {
		attrs["order_id"] = string(entry.OrderID)
	}
	if entry.Venue != "" {
		attrs["venue"] = entry.Venue
	}
	var items []eventmodels.LineItem
	if entry.ProductID != "" || entry.CategoryID != "" {
		items = []eventmodels.LineItem{{
			ProductID:  string(entry.ProductID),
			CategoryID: string(entry.CategoryID),
			Quantity:   1,
		}}
	}
	return &Mapped{
		Signals: ftSignals(entry.Customer),
		Event: eventmodels.Event{
			Source:     id.SourceFutureTicketing,
			Type:       eventmodels.TypeTicketEntry,
			EventTime:  parseTime(entry.ScannedAt),
			ExternalID: eventmodels.EntryExternalID(id.SourceFutureTicketing, string(entry.ID)),
			Metadata:   eventmodels.Metadata{Attributes: attrs},
		},
		LineItems: items,
	}, nil
}

func ftSignals(c *ftCustomer) identity.Signals {
	if c == nil {
		return identity.Signals{}
	}
	return identity.Signals{
		Email:  c.Email,
		Phone:  c.Phone,
		Name:   strings.TrimSpace(c.Name),
		Linked: linked(id.SourceFutureTicketing, c.ID),
	}
}

package ingestion

import (
	"strings"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/identity"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
)

const (
	ShopifyOrderCreated = "orders/create"
	ShopifyOrderPaid    = "orders/paid"
)

type shopifyOrder struct {
	ID         flexID     `json:"id"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone"`
	CreatedAt  string     `json:"created_at"`
	TotalPrice flexAmount `json:"total_price"`
	Currency   string     `json:"currency"`
	Customer   *struct {
		ID        flexID `json:"id"`
		Email     string `json:"email"`
		FirstName string `json:"first_name"`
		LastName  string `json:"last_name"`
		Phone     string `json:"phone"`
	} `json:"customer"`
	LineItems []struct {
		ProductID   flexID `json:"product_id"`
		ProductType string `json:"product_type"`
		Title       string `json:"title"`
		Quantity    int    `json:"quantity"`
	} `json:"line_items"`
}

// ShopifyMapper maps shop order webhooks. Created and paid notifications for
// one order share an external id, so whichever arrives second is a duplicate.
type ShopifyMapper struct{}

func (ShopifyMapper) Source() id.SourceSystem { return id.SourceShopify }

func (ShopifyMapper) Map(msg Message) (*Mapped, error) {
	if msg.Type != ShopifyOrderCreated && msg.Type != ShopifyOrderPaid {
		return nil, nil
	}
	var order shopifyOrder
	if err := decodeData(msg, &order); err != nil {
		return nil, err
	}
	if order.ID == "" {
		return nil, dErrors.New(dErrors.CodeMalformedMessage, msg.Type+": order id is required")
	}

	signals := identity.Signals{Email: order.Email, Phone: order.Phone}
	if c := order.Customer; c != nil {
		if signals.Email == "" {
			signals.Email = c.Email
		}
		if signals.Phone == "" {
			signals.Phone = c.Phone
		}
		signals.Name = joinName(c.FirstName, c.LastName)
		signals.Linked = linked(id.SourceShopify, c.ID)
	}

	items := make([]eventmodels.LineItem, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		items = append(items, eventmodels.LineItem{
			ProductID:  string(li.ProductID),
			CategoryID: li.ProductType,
			Title:      li.Title,
			Quantity:   li.Quantity,
		})
	}

	return &Mapped{
		Signals: signals,
		Event: eventmodels.Event{
			Source:     id.SourceShopify,
			Type:       eventmodels.TypeShopOrder,
			EventTime:  parseTime(order.CreatedAt),
			ExternalID: eventmodels.OrderExternalID(id.SourceShopify, string(order.ID)),
			Amount:     order.TotalPrice.minor,
			Currency:   strings.ToUpper(order.Currency),
			Metadata: eventmodels.Metadata{Attributes: map[string]string{
				"order_id": string(order.ID),
				"topic":    msg.Type,
			}},
		},
		LineItems: items,
	}, nil
}

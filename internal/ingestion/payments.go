package ingestion

import (
	"strings"

	eventmodels "supporterhub/internal/events/models"
	"supporterhub/internal/identity"
	"supporterhub/internal/supporter/models"
	id "supporterhub/pkg/domain"
	dErrors "supporterhub/pkg/domain-errors"
)

const (
	StripeInvoicePaid   = "invoice.paid"
	StripeInvoiceFailed = "invoice.payment_failed"

	GoCardlessPaymentConfirmed = "payments.confirmed"
	GoCardlessPaymentFailed    = "payments.failed"
)

type stripeInvoice struct {
	ID                flexID `json:"id"`
	Customer          flexID `json:"customer"`
	CustomerEmail     string `json:"customer_email"`
	CustomerName      string `json:"customer_name"`
	CustomerPhone     string `json:"customer_phone"`
	AmountPaid        *int64 `json:"amount_paid"`
	AmountDue         *int64 `json:"amount_due"`
	Currency          string `json:"currency"`
	Created           int64  `json:"created"`
	StatusTransitions struct {
		PaidAt int64 `json:"paid_at"`
	} `json:"status_transitions"`
	Lines struct {
		Data []struct {
			Description string `json:"description"`
			Period      struct {
				End int64 `json:"end"`
			} `json:"period"`
			Price struct {
				Product   flexID `json:"product"`
				Recurring *struct {
					Interval string `json:"interval"`
				} `json:"recurring"`
			} `json:"price"`
		} `json:"data"`
	} `json:"lines"`
}

// StripeMapper maps subscription invoices. A failed attempt and the later
// payment of the same invoice get distinct external ids.
type StripeMapper struct{}

func (StripeMapper) Source() id.SourceSystem { return id.SourceStripe }

func (StripeMapper) Map(msg Message) (*Mapped, error) {
	if msg.Type != StripeInvoicePaid && msg.Type != StripeInvoiceFailed {
		return nil, nil
	}
	var inv stripeInvoice
	if err := decodeData(msg, &inv); err != nil {
		return nil, err
	}
	if inv.ID == "" {
		return nil, dErrors.New(dErrors.CodeMalformedMessage, msg.Type+": invoice id is required")
	}
	failed := msg.Type == StripeInvoiceFailed

	eventType := eventmodels.TypePaymentSucceeded
	amount := inv.AmountPaid
	at := unixTime(inv.StatusTransitions.PaidAt)
	if failed {
		eventType = eventmodels.TypePaymentFailed
		amount = inv.AmountDue
	}
	if at.IsZero() {
		at = unixTime(inv.Created)
	}

	payment := &Payment{BillingMethod: "card"}
	items := make([]eventmodels.LineItem, 0, len(inv.Lines.Data))
	for i, line := range inv.Lines.Data {
		items = append(items, eventmodels.LineItem{
			ProductID: string(line.Price.Product),
			Title:     line.Description,
			Quantity:  1,
		})
		if i > 0 {
			continue
		}
		payment.Tier = line.Description
		if line.Price.Recurring != nil {
			payment.Cadence = cadenceFromInterval(line.Price.Recurring.Interval)
		}
		if end := unixTime(line.Period.End); !failed && !end.IsZero() {
			payment.NextExpected = &end
		}
	}

	return &Mapped{
		Signals: identity.Signals{
			Email:  inv.CustomerEmail,
			Phone:  inv.CustomerPhone,
			Name:   strings.TrimSpace(inv.CustomerName),
			Linked: linked(id.SourceStripe, inv.Customer),
		},
		Event: eventmodels.Event{
			Source:     id.SourceStripe,
			Type:       eventType,
			EventTime:  at,
			ExternalID: eventmodels.InvoiceExternalID(id.SourceStripe, string(inv.ID), failed),
			Amount:     amount,
			Currency:   strings.ToUpper(inv.Currency),
			Metadata:   eventmodels.Metadata{Attributes: map[string]string{"invoice_id": string(inv.ID)}},
		},
		LineItems: items,
		Payment:   payment,
	}, nil
}

type goCardlessPayment struct {
	ID             flexID            `json:"id"`
	Amount         *int64            `json:"amount"`
	Currency       string            `json:"currency"`
	ChargeDate     string            `json:"charge_date"`
	CreatedAt      string            `json:"created_at"`
	NextChargeDate string            `json:"next_charge_date"`
	Metadata       map[string]string `json:"metadata"`
	Links          struct {
		Customer     flexID `json:"customer"`
		Subscription flexID `json:"subscription"`
	} `json:"links"`
}

// GoCardlessMapper maps direct-debit payment events. They carry only the
// customer id, so a supporter must already hold that linked id or the event
// is skipped as unresolved.
type GoCardlessMapper struct{}

func (GoCardlessMapper) Source() id.SourceSystem { return id.SourceGoCardless }

func (GoCardlessMapper) Map(msg Message) (*Mapped, error) {
	if msg.Type != GoCardlessPaymentConfirmed && msg.Type != GoCardlessPaymentFailed {
		return nil, nil
	}
	var p goCardlessPayment
	if err := decodeData(msg, &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		return nil, dErrors.New(dErrors.CodeMalformedMessage, msg.Type+": payment id is required")
	}
	failed := msg.Type == GoCardlessPaymentFailed

	eventType := eventmodels.TypePaymentSucceeded
	if failed {
		eventType = eventmodels.TypePaymentFailed
	}
	at := parseTime(p.ChargeDate)
	if at.IsZero() {
		at = parseTime(p.CreatedAt)
	}

	payment := &Payment{
		BillingMethod: "direct_debit",
		Tier:          p.Metadata["tier"],
		Cadence:       cadenceFromInterval(p.Metadata["interval"]),
	}
	if next := parseTime(p.NextChargeDate); !failed && !next.IsZero() {
		payment.NextExpected = &next
	}
	attrs := map[string]string{"payment_id": string(p.ID)}
	if p.Links.Subscription != "" {
		attrs["subscription_id"] = string(p.Links.Subscription)
	}

	return &Mapped{
		Signals: identity.Signals{Linked: linked(id.SourceGoCardless, p.Links.Customer)},
		Event: eventmodels.Event{
			Source:     id.SourceGoCardless,
			Type:       eventType,
			EventTime:  at,
			ExternalID: eventmodels.PaymentExternalID(id.SourceGoCardless, string(p.ID), failed),
			Amount:     p.Amount,
			Currency:   strings.ToUpper(p.Currency),
			Metadata:   eventmodels.Metadata{Attributes: attrs},
		},
		Payment: payment,
	}, nil
}

func cadenceFromInterval(interval string) models.Cadence {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case "month", "monthly":
		return models.CadenceMonthly
	case "year", "yearly", "annual":
		return models.CadenceAnnual
	default:
		return ""
	}
}

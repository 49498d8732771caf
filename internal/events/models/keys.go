package models

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	id "supporterhub/pkg/domain"
)

// IdempotencyKey identifies one logical upstream event. Live ingestion and
// reconciliation must derive the same key for the same event.
type IdempotencyKey struct {
	Source     id.SourceSystem
	ExternalID string
}

func (k IdempotencyKey) String() string {
	return string(k.Source) + "/" + k.ExternalID
}

// OrderExternalID formats "<source>-order-<id>".
func OrderExternalID(source id.SourceSystem, orderID string) string {
	return fmt.Sprintf("%s-order-%s", source, orderID)
}

// EntryExternalID formats "<source>-entry-<id>".
func EntryExternalID(source id.SourceSystem, entryID string) string {
	return fmt.Sprintf("%s-entry-%s", source, entryID)
}

// InvoiceExternalID formats "<source>-invoice-<id>" for paid invoices and
// "<source>-invoice-failed-<id>" for failed attempts, so a failure and the
// later payment of the same invoice are distinct events.
func InvoiceExternalID(source id.SourceSystem, invoiceID string, failed bool) string {
	if failed {
		return fmt.Sprintf("%s-invoice-failed-%s", source, invoiceID)
	}
	return fmt.Sprintf("%s-invoice-%s", source, invoiceID)
}

// ClickExternalID formats "<source>-click-<campaign>-<digest>". Click
// payloads have no id of their own, so the digest covers the fields that make
// one click unique.
func ClickExternalID(source id.SourceSystem, campaignID, email, url string, at time.Time) string {
	h := sha256.New()
	h.Write([]byte(email))
	h.Write([]byte{0})
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatInt(at.UTC().Unix(), 10)))
	return fmt.Sprintf("%s-click-%s-%s", source, campaignID, hex.EncodeToString(h.Sum(nil))[:16])
}

// PaymentExternalID formats "<source>-payment-<id>" and
// "<source>-payment-failed-<id>" for direct-debit payments.
func PaymentExternalID(source id.SourceSystem, paymentID string, failed bool) string {
	if failed {
		return fmt.Sprintf("%s-payment-failed-%s", source, paymentID)
	}
	return fmt.Sprintf("%s-payment-%s", source, paymentID)
}

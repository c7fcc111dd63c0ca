/**
 * @description
 * This file defines the Go structs that model incoming webhook payloads from Paystack,
 * together with the verified notification form the reconciler works with and the
 * transaction intent returned to clients when a payment is initialized.
 *
 * @notes
 * - Paystack sends `metadata` either as a JSON object or, when nothing was attached,
 *   as a (possibly empty) JSON string. `InvoiceIDFromMetadata` copes with both.
 */
package domain

import (
	"bytes"
	"encoding/json"
	"strings"
)

// EventChargeSuccess is the Paystack event emitted once a charge has completed.
const EventChargeSuccess = "charge.success"

// MetadataInvoiceIDKey is the metadata key the invoice identifier travels under.
const MetadataInvoiceIDKey = "invoiceId"

// PaystackWebhookEvent represents the top-level structure of a Paystack webhook.
type PaystackWebhookEvent struct {
	Event string     `json:"event"` // e.g., "charge.success"
	Data  ChargeData `json:"data"`
}

// ChargeData is the `data` object of a charge event or a verify response.
type ChargeData struct {
	ID        int64           `json:"id"`
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    string          `json:"paid_at,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// InvoiceIDFromMetadata extracts the invoice identifier embedded at initialization.
// It returns an empty string when metadata is absent or carries no identifier.
func (c ChargeData) InvoiceIDFromMetadata() string {
	raw := c.Metadata
	if len(raw) == 0 {
		return ""
	}

	// A string-encoded object is unwrapped first.
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		encoded = strings.TrimSpace(encoded)
		if encoded == "" {
			return ""
		}
		raw = json.RawMessage(encoded)
	}

	// Numeric ids keep their literal text; a float64 round trip would mangle large ones.
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return ""
	}
	switch v := fields[MetadataInvoiceIDKey].(type) {
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	}
	return ""
}

// PaymentNotification is a verified, parsed webhook.
type PaymentNotification struct {
	Kind      string
	InvoiceID string
	Reference string
	Amount    int64
	Currency  string
}

// NotificationFromEvent converts a decoded webhook into a PaymentNotification.
func NotificationFromEvent(event PaystackWebhookEvent) PaymentNotification {
	return PaymentNotification{
		Kind:      strings.TrimSpace(event.Event),
		InvoiceID: event.Data.InvoiceIDFromMetadata(),
		Reference: strings.TrimSpace(event.Data.Reference),
		Amount:    event.Data.Amount,
		Currency:  event.Data.Currency,
	}
}

// TransactionIntent is what the gateway hands back when a payment is initialized.
// Raw holds the gateway's `data` object verbatim so it can be relayed unmodified.
type TransactionIntent struct {
	Email            string          `json:"-"`
	Amount           int64           `json:"-"`
	InvoiceID        string          `json:"-"`
	AuthorizationURL string          `json:"authorization_url,omitempty"`
	AccessCode       string          `json:"access_code,omitempty"`
	Reference        string          `json:"reference,omitempty"`
	Raw              json.RawMessage `json:"-"`
}

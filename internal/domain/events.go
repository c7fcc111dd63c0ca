package domain

import "time"

// Routing keys for events published to the billing exchange.
const (
	RoutingKeyInvoicePaid    = "invoice.paid"
	RoutingKeyInvoiceOverdue = "invoice.overdue"
)

// InvoicePaidEvent is published once an invoice has moved to Paid.
type InvoicePaidEvent struct {
	EventID           string    `json:"event_id"`
	InvoiceID         string    `json:"invoice_id"`
	OwnerID           string    `json:"owner_id"`
	Amount            int64     `json:"amount"`
	PaystackReference string    `json:"paystack_reference"`
	PaidAt            time.Time `json:"paid_at"`
}

// InvoiceOverdueEvent is published for invoices left Pending past the configured age.
type InvoiceOverdueEvent struct {
	EventID   string    `json:"event_id"`
	InvoiceID string    `json:"invoice_id"`
	OwnerID   string    `json:"owner_id"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"created_at"`
}

/**
 * @description
 * This file defines the invoice model tracked by the payment-service. Invoices are
 * created by the billing flow elsewhere in the platform; this service only reads them
 * and moves them out of the Pending state once the payment gateway reports an outcome.
 */
package domain

import "time"

// InvoiceStatus is the lifecycle state of an invoice.
type InvoiceStatus string

const (
	InvoicePending InvoiceStatus = "Pending"
	InvoicePaid    InvoiceStatus = "Paid"
	InvoiceFailed  InvoiceStatus = "Failed"
)

// CanTransitionTo reports whether moving from s to next is a legal transition.
// Only Pending invoices may move, and only to Paid or Failed.
func (s InvoiceStatus) CanTransitionTo(next InvoiceStatus) bool {
	if s != InvoicePending {
		return false
	}
	return next == InvoicePaid || next == InvoiceFailed
}

// Invoice represents an amount owed by a user. Amount is held in kobo.
type Invoice struct {
	ID                string        `json:"id"`
	OwnerID           string        `json:"ownerId"`
	Amount            int64         `json:"amount"`
	Currency          string        `json:"currency"`
	Status            InvoiceStatus `json:"status"`
	PaystackReference *string       `json:"paystackReference,omitempty"`
	PaidAt            *time.Time    `json:"paidAt,omitempty"`
	CreatedAt         time.Time     `json:"createdAt"`
	UpdatedAt         time.Time     `json:"updatedAt"`
}

// InvoiceUpdate carries the partial set of fields to write to an invoice.
// Nil fields are left untouched.
type InvoiceUpdate struct {
	Status            *InvoiceStatus
	PaystackReference *string
	PaidAt            *time.Time
}

// IsEmpty reports whether the update would change nothing.
func (u InvoiceUpdate) IsEmpty() bool {
	return u.Status == nil && u.PaystackReference == nil && u.PaidAt == nil
}

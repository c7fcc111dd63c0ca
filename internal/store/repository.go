/**
 * @description
 * This file defines the storage contracts required by the payment-service. The
 * invoice store and the user role store are consumed through these interfaces so the
 * reconciler and access gate stay independent of the concrete database.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

var (
	ErrInvoiceNotFound = errors.New("invoice not found")
	ErrUserNotFound    = errors.New("user not found")
)

// InvoiceStore is the durable mapping from invoice identifier to invoice record.
// Failures other than the not-found sentinel are returned as *domain.StorageError.
type InvoiceStore interface {
	GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error)
	// UpdateInvoiceIfStatus applies update only while the stored status equals expected.
	// The status check and the write are atomic. It reports whether the row changed.
	UpdateInvoiceIfStatus(ctx context.Context, invoiceID string, expected domain.InvoiceStatus, update domain.InvoiceUpdate) (bool, error)
	ListPendingInvoicesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Invoice, error)
}

// UserRoleStore exposes the per-identity role attribute.
type UserRoleStore interface {
	// GetUserRole returns the raw role value, nil when the record has none,
	// or ErrUserNotFound when there is no record for the identity.
	GetUserRole(ctx context.Context, userID string) (*string, error)
}

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/transfa/payment-service/internal/domain"
)

// MemoryRepository is an in-process InvoiceStore and UserRoleStore used for local
// development (STORE_DRIVER=memory) and tests. Records are copied in and out so callers
// never share memory with the store.
type MemoryRepository struct {
	mu       sync.Mutex
	invoices map[string]domain.Invoice
	roles    map[string]*string
	writes   int
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		invoices: make(map[string]domain.Invoice),
		roles:    make(map[string]*string),
	}
}

// PutInvoice inserts or replaces an invoice. It is how seed data gets in.
func (m *MemoryRepository) PutInvoice(inv domain.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	if inv.UpdatedAt.IsZero() {
		inv.UpdatedAt = inv.CreatedAt
	}
	m.invoices[inv.ID] = cloneInvoice(inv)
}

// PutUser registers a user record. A nil role models a record without the attribute.
func (m *MemoryRepository) PutUser(userID string, role *string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if role != nil {
		v := *role
		role = &v
	}
	m.roles[userID] = role
}

// Writes returns how many updates actually changed a record.
func (m *MemoryRepository) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *MemoryRepository) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.StorageError{Op: "get invoice", Err: err}
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceID]
	if !ok {
		return nil, ErrInvoiceNotFound
	}
	out := cloneInvoice(inv)
	return &out, nil
}

func (m *MemoryRepository) UpdateInvoiceIfStatus(ctx context.Context, invoiceID string, expected domain.InvoiceStatus, update domain.InvoiceUpdate) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, &domain.StorageError{Op: "update invoice", Err: err}
	}
	if update.IsEmpty() {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceID]
	if !ok || inv.Status != expected {
		return false, nil
	}

	if update.Status != nil {
		inv.Status = *update.Status
	}
	if update.PaystackReference != nil {
		ref := *update.PaystackReference
		inv.PaystackReference = &ref
	}
	if update.PaidAt != nil {
		paidAt := *update.PaidAt
		inv.PaidAt = &paidAt
	}
	inv.UpdatedAt = time.Now().UTC()
	m.invoices[invoiceID] = inv
	m.writes++
	return true, nil
}

func (m *MemoryRepository) ListPendingInvoicesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Invoice, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list pending invoices", Err: err}
	}
	if limit <= 0 {
		limit = 100
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.Invoice, 0)
	for _, inv := range m.invoices {
		if inv.Status == domain.InvoicePending && inv.CreatedAt.Before(cutoff) {
			out = append(out, cloneInvoice(inv))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) GetUserRole(ctx context.Context, userID string) (*string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	role, ok := m.roles[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	if role == nil {
		return nil, nil
	}
	v := *role
	return &v, nil
}

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	if inv.PaystackReference != nil {
		ref := *inv.PaystackReference
		inv.PaystackReference = &ref
	}
	if inv.PaidAt != nil {
		paidAt := *inv.PaidAt
		inv.PaidAt = &paidAt
	}
	return inv
}

/**
 * @description
 * This file provides the PostgreSQL implementation of the invoice and user role stores.
 *
 * Expected tables:
 *   invoices(id text primary key, owner_id text, amount bigint, currency text,
 *            status text, paystack_reference text null, paid_at timestamptz null,
 *            created_at timestamptz, updated_at timestamptz)
 *   users(clerk_user_id text unique, role text null, ...)
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/payment-service/internal/domain"
)

// PostgresRepository implements InvoiceStore and UserRoleStore on PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const invoiceColumns = `id, owner_id, amount, currency, status, paystack_reference, paid_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var inv domain.Invoice
	var status string
	err := row.Scan(
		&inv.ID,
		&inv.OwnerID,
		&inv.Amount,
		&inv.Currency,
		&status,
		&inv.PaystackReference,
		&inv.PaidAt,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	inv.Status = domain.InvoiceStatus(status)
	return &inv, nil
}

// GetInvoice retrieves an invoice by its identifier.
func (r *PostgresRepository) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	query := `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`
	inv, err := scanInvoice(r.db.QueryRow(ctx, query, invoiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrInvoiceNotFound
		}
		return nil, &domain.StorageError{Op: "get invoice", Err: err}
	}
	return inv, nil
}

// UpdateInvoiceIfStatus performs a conditional update keyed on the current status.
// Two concurrent callers racing on the same invoice see exactly one affected row.
func (r *PostgresRepository) UpdateInvoiceIfStatus(ctx context.Context, invoiceID string, expected domain.InvoiceStatus, update domain.InvoiceUpdate) (bool, error) {
	if update.IsEmpty() {
		return false, nil
	}

	query, args := buildConditionalInvoiceUpdate(invoiceID, expected, update)
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		return false, &domain.StorageError{Op: "update invoice", Err: err}
	}
	return tag.RowsAffected() == 1, nil
}

// buildConditionalInvoiceUpdate renders the UPDATE statement for the non-nil fields of update.
func buildConditionalInvoiceUpdate(invoiceID string, expected domain.InvoiceStatus, update domain.InvoiceUpdate) (string, []any) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)

	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if update.Status != nil {
		add("status", string(*update.Status))
	}
	if update.PaystackReference != nil {
		add("paystack_reference", *update.PaystackReference)
	}
	if update.PaidAt != nil {
		add("paid_at", *update.PaidAt)
	}
	sets = append(sets, "updated_at = NOW()")

	args = append(args, invoiceID, string(expected))
	query := fmt.Sprintf(
		"UPDATE invoices SET %s WHERE id = $%d AND status = $%d",
		strings.Join(sets, ", "),
		len(args)-1,
		len(args),
	)
	return query, args
}

// ListPendingInvoicesOlderThan returns Pending invoices created before cutoff, oldest first.
func (r *PostgresRepository) ListPendingInvoicesOlderThan(ctx context.Context, cutoff time.Time, limit int) ([]domain.Invoice, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + invoiceColumns + `
		FROM invoices
		WHERE status = $1 AND created_at < $2
		ORDER BY created_at ASC
		LIMIT $3`

	rows, err := r.db.Query(ctx, query, string(domain.InvoicePending), cutoff, limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "list pending invoices", Err: err}
	}
	defer rows.Close()

	invoices := make([]domain.Invoice, 0)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "scan pending invoice", Err: err}
		}
		invoices = append(invoices, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "list pending invoices", Err: err}
	}
	return invoices, nil
}

// GetUserRole reads the role attribute for a Clerk user.
func (r *PostgresRepository) GetUserRole(ctx context.Context, userID string) (*string, error) {
	var role *string
	err := r.db.QueryRow(ctx, "SELECT role FROM users WHERE clerk_user_id = $1", userID).Scan(&role)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, &domain.StorageError{Op: "get user role", Err: err}
	}
	return role, nil
}

/**
 * @description
 * Scheduled job implementations for the payment-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/rabbitmq"
)

const overdueInvoiceBatchSize = 500

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	invoices     store.InvoiceStore
	publisher    rabbitmq.Publisher
	exchange     string
	overdueAfter time.Duration
	storeTimeout time.Duration
	logger       *slog.Logger
	now          func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(invoices store.InvoiceStore, publisher rabbitmq.Publisher, exchange string, overdueAfter, storeTimeout time.Duration, logger *slog.Logger) *Jobs {
	if overdueAfter <= 0 {
		overdueAfter = 72 * time.Hour
	}
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if exchange == "" {
		exchange = "billing_events"
	}
	return &Jobs{
		invoices:     invoices,
		publisher:    publisher,
		exchange:     exchange,
		overdueAfter: overdueAfter,
		storeTimeout: storeTimeout,
		logger:       logger,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// ProcessOverdueInvoices publishes an invoice.overdue event for every invoice that is
// still Pending after the configured age. Invoice state is not modified; consumers
// decide how to follow up and deduplicate on invoice_id.
func (j *Jobs) ProcessOverdueInvoices() {
	j.logger.Info("starting overdue invoice job")

	published, err := j.RunOverdueInvoiceSweep(context.Background())
	if err != nil {
		j.logger.Error("overdue invoice job failed", "error", err, "published", published)
		return
	}

	j.logger.Info("overdue invoice job finished", "published", published)
}

// RunOverdueInvoiceSweep performs one pass and returns how many events were published.
func (j *Jobs) RunOverdueInvoiceSweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.overdueAfter)

	listCtx, cancel := context.WithTimeout(ctx, j.storeTimeout)
	invoices, err := j.invoices.ListPendingInvoicesOlderThan(listCtx, cutoff, overdueInvoiceBatchSize)
	cancel()
	if err != nil {
		return 0, asStorageError("list pending invoices", err)
	}

	if len(invoices) == 0 {
		j.logger.Info("no overdue invoices to process")
		return 0, nil
	}
	if j.publisher == nil {
		j.logger.Warn("overdue invoices found but no publisher configured", "count", len(invoices))
		return 0, nil
	}

	j.logger.Info("found overdue invoices", "count", len(invoices), "cutoff", cutoff)

	published := 0
	for _, inv := range invoices {
		event := domain.InvoiceOverdueEvent{
			EventID:   uuid.NewString(),
			InvoiceID: inv.ID,
			OwnerID:   inv.OwnerID,
			Amount:    inv.Amount,
			CreatedAt: inv.CreatedAt,
		}
		if err := j.publisher.Publish(ctx, j.exchange, domain.RoutingKeyInvoiceOverdue, event); err != nil {
			j.logger.Error("failed to publish overdue invoice event", "invoice_id", inv.ID, "error", err)
			continue
		}
		published++
	}

	return published, nil
}

/**
 * @description
 * The webhook reconciler turns authenticated Paystack notifications into invoice state
 * transitions. It is the only writer of invoice status in this service.
 *
 * Key features:
 * - Signature verification runs on the raw body before anything is parsed.
 * - Pending→Paid is applied with a compare-and-swap on status, so duplicate or
 *   concurrent deliveries of the same charge produce exactly one write.
 * - Anything that is not a storage failure is acknowledged, so Paystack stops
 *   retrying notifications this service will never act on.
 *
 * @dependencies
 * - internal/store: InvoiceStore contract.
 * - pkg/rabbitmq: Publisher used for the `invoice.paid` event.
 */
package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/rabbitmq"
)

// Outcome describes what the reconciler did with an acknowledged notification.
type Outcome string

const (
	OutcomePaid             Outcome = "paid"
	OutcomeAlreadySettled   Outcome = "already_settled"
	OutcomeIgnoredEvent     Outcome = "ignored_event"
	OutcomeMissingInvoiceID Outcome = "missing_invoice_id"
	OutcomeInvoiceNotFound  Outcome = "invoice_not_found"
	OutcomeMalformedPayload Outcome = "malformed_payload"
)

// recognizedEvents lists the event kinds the reconciler acts on. Failure and refund
// kinds would be added here together with their transitions.
var recognizedEvents = map[string]bool{
	domain.EventChargeSuccess: true,
}

// WebhookReconciler applies verified gateway notifications to invoices.
type WebhookReconciler struct {
	verifier     *SignatureVerifier
	invoices     store.InvoiceStore
	publisher    rabbitmq.Publisher
	exchange     string
	storeTimeout time.Duration
	now          func() time.Time
}

// NewWebhookReconciler wires the reconciler. publisher may be nil.
func NewWebhookReconciler(verifier *SignatureVerifier, invoices store.InvoiceStore, publisher rabbitmq.Publisher, exchange string, storeTimeout time.Duration) *WebhookReconciler {
	if storeTimeout <= 0 {
		storeTimeout = 5 * time.Second
	}
	if exchange == "" {
		exchange = "billing_events"
	}
	return &WebhookReconciler{
		verifier:     verifier,
		invoices:     invoices,
		publisher:    publisher,
		exchange:     exchange,
		storeTimeout: storeTimeout,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile authenticates body and applies it. A nil error means the notification
// must be acknowledged. Errors are *domain.AuthenticationError (reject),
// *domain.ConfigurationError or *domain.StorageError (ask the sender to retry).
func (r *WebhookReconciler) Reconcile(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := r.verifier.Verify(body, signature); err != nil {
		return "", err
	}

	var event domain.PaystackWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=warn component=webhook_reconciler msg=\"verified payload is not valid json; acknowledging\" err=%v", err)
		return OutcomeMalformedPayload, nil
	}

	return r.Apply(ctx, domain.NotificationFromEvent(event))
}

// Apply runs the state transition for an already-authenticated notification. It is
// shared by the webhook path and the manual verification tool.
func (r *WebhookReconciler) Apply(ctx context.Context, n domain.PaymentNotification) (Outcome, error) {
	if !recognizedEvents[n.Kind] {
		log.Printf("level=info component=webhook_reconciler msg=\"unhandled event type; acknowledging\" event=%q reference=%s", n.Kind, n.Reference)
		return OutcomeIgnoredEvent, nil
	}

	if n.InvoiceID == "" {
		log.Printf("level=warn component=webhook_reconciler msg=\"charge without invoice id in metadata; acknowledging\" event=%s reference=%s", n.Kind, n.Reference)
		return OutcomeMissingInvoiceID, nil
	}

	// Store work is detached from the caller so an abandoned request cannot cut a write short.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.storeTimeout)
	defer cancel()

	invoice, err := r.invoices.GetInvoice(storeCtx, n.InvoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			log.Printf("level=warn component=webhook_reconciler msg=\"invoice not found; acknowledging\" invoice_id=%s reference=%s", n.InvoiceID, n.Reference)
			return OutcomeInvoiceNotFound, nil
		}
		log.Printf("level=error component=webhook_reconciler msg=\"invoice lookup failed\" invoice_id=%s err=%v", n.InvoiceID, err)
		return "", asStorageError("get invoice", err)
	}

	if !invoice.Status.CanTransitionTo(domain.InvoicePaid) {
		if invoice.Status == domain.InvoiceFailed {
			log.Printf("level=warn component=webhook_reconciler msg=\"charge succeeded for failed invoice; needs review\" invoice_id=%s reference=%s", n.InvoiceID, n.Reference)
		} else {
			log.Printf("level=info component=webhook_reconciler msg=\"invoice already settled; acknowledging\" invoice_id=%s status=%s reference=%s", n.InvoiceID, invoice.Status, n.Reference)
		}
		return OutcomeAlreadySettled, nil
	}

	if n.Amount > 0 && invoice.Amount > 0 && n.Amount != invoice.Amount {
		log.Printf("level=warn component=webhook_reconciler msg=\"charged amount differs from invoice amount\" invoice_id=%s invoice_amount=%d charged_amount=%d reference=%s", n.InvoiceID, invoice.Amount, n.Amount, n.Reference)
	}

	paid := domain.InvoicePaid
	reference := n.Reference
	paidAt := r.now()
	applied, err := r.invoices.UpdateInvoiceIfStatus(storeCtx, n.InvoiceID, domain.InvoicePending, domain.InvoiceUpdate{
		Status:            &paid,
		PaystackReference: &reference,
		PaidAt:            &paidAt,
	})
	if err != nil {
		log.Printf("level=error component=webhook_reconciler msg=\"invoice update failed; sender will retry\" invoice_id=%s reference=%s err=%v", n.InvoiceID, n.Reference, err)
		return "", asStorageError("update invoice", err)
	}
	if !applied {
		log.Printf("level=info component=webhook_reconciler msg=\"invoice settled concurrently; acknowledging\" invoice_id=%s reference=%s", n.InvoiceID, n.Reference)
		return OutcomeAlreadySettled, nil
	}

	log.Printf("level=info component=webhook_reconciler msg=\"invoice marked paid\" invoice_id=%s reference=%s", n.InvoiceID, n.Reference)
	r.publishPaid(storeCtx, invoice, reference, paidAt)
	return OutcomePaid, nil
}

func (r *WebhookReconciler) publishPaid(ctx context.Context, invoice *domain.Invoice, reference string, paidAt time.Time) {
	if r.publisher == nil {
		return
	}
	event := domain.InvoicePaidEvent{
		EventID:           uuid.NewString(),
		InvoiceID:         invoice.ID,
		OwnerID:           invoice.OwnerID,
		Amount:            invoice.Amount,
		PaystackReference: reference,
		PaidAt:            paidAt,
	}
	if err := r.publisher.Publish(ctx, r.exchange, domain.RoutingKeyInvoicePaid, event); err != nil {
		log.Printf("level=warn component=webhook_reconciler msg=\"invoice.paid publish failed\" invoice_id=%s err=%v", invoice.ID, err)
	}
}

func asStorageError(op string, err error) error {
	var storageErr *domain.StorageError
	if errors.As(err, &storageErr) {
		return storageErr
	}
	return &domain.StorageError{Op: op, Err: err}
}

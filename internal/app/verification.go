package app

import (
	"context"
	"strings"

	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/pkg/paystackclient"
)

// LookupTransaction asks the gateway for the current state of reference. It is used
// to repair invoices whose webhook was never delivered.
func (p *PaymentInitiator) LookupTransaction(ctx context.Context, reference string) (*paystackclient.Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, &domain.ValidationError{Field: "reference", Message: "is required"}
	}
	if p.gateway == nil {
		return nil, &domain.ConfigurationError{Setting: "PAYSTACK_SECRET_KEY"}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	tx, err := p.gateway.VerifyTransaction(callCtx, reference)
	if err != nil {
		return nil, classifyGatewayError("verify", err)
	}
	return tx, nil
}

// NotificationFromTransaction expresses a verified transaction as the notification the
// webhook would have carried. Only a "success" status maps to charge.success; other
// statuses produce kinds the reconciler ignores.
func NotificationFromTransaction(tx *paystackclient.Transaction) domain.PaymentNotification {
	status := strings.ToLower(strings.TrimSpace(tx.Status))
	kind := "charge." + status
	if status == "success" {
		kind = domain.EventChargeSuccess
	}
	return domain.PaymentNotification{
		Kind:      kind,
		InvoiceID: domain.ChargeData{Metadata: tx.Metadata}.InvoiceIDFromMetadata(),
		Reference: strings.TrimSpace(tx.Reference),
		Amount:    tx.Amount,
		Currency:  tx.Currency,
	}
}

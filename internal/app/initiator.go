package app

import (
	"context"
	"errors"
	"log"
	"net/mail"
	"strings"
	"time"

	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/pkg/paystackclient"
)

// PaymentGateway is the subset of the Paystack client the service depends on.
type PaymentGateway interface {
	InitializeTransaction(ctx context.Context, payload paystackclient.InitializeRequest) (*paystackclient.InitializeResponse, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystackclient.Transaction, error)
}

// InitializePaymentInput is the caller-supplied request to start a payment.
type InitializePaymentInput struct {
	Email     string
	Amount    int64
	InvoiceID string
}

// PaymentInitiator creates hosted payment transactions for invoices.
type PaymentInitiator struct {
	gateway     PaymentGateway
	callbackURL string
	timeout     time.Duration
}

// NewPaymentInitiator wires the initiator. timeout bounds the single gateway attempt.
func NewPaymentInitiator(gateway PaymentGateway, callbackURL string, timeout time.Duration) *PaymentInitiator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaymentInitiator{
		gateway:     gateway,
		callbackURL: strings.TrimSpace(callbackURL),
		timeout:     timeout,
	}
}

func validateInitializeInput(in InitializePaymentInput) (InitializePaymentInput, error) {
	in.Email = strings.TrimSpace(in.Email)
	in.InvoiceID = strings.TrimSpace(in.InvoiceID)

	if in.Email == "" {
		return in, &domain.ValidationError{Field: "email", Message: "is required"}
	}
	// Only a bare address is accepted; display names and angle brackets are rejected.
	if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		return in, &domain.ValidationError{Field: "email", Message: "is not a valid address"}
	}
	if in.InvoiceID == "" {
		return in, &domain.ValidationError{Field: "invoiceId", Message: "is required"}
	}
	if in.Amount <= 0 {
		return in, &domain.ValidationError{Field: "amount", Message: "must be a positive integer in kobo"}
	}
	return in, nil
}

// Initialize asks the gateway for a transaction handle. The invoice identifier rides
// along as metadata so the later webhook can be matched back to the invoice.
//
// The gateway call runs detached from ctx cancellation and is bounded by the
// initiator's own timeout; a client hanging up does not abort it midway.
func (p *PaymentInitiator) Initialize(ctx context.Context, in InitializePaymentInput) (*domain.TransactionIntent, error) {
	in, err := validateInitializeInput(in)
	if err != nil {
		return nil, err
	}
	if p.gateway == nil {
		return nil, &domain.ConfigurationError{Setting: "PAYSTACK_SECRET_KEY"}
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()

	resp, err := p.gateway.InitializeTransaction(callCtx, paystackclient.InitializeRequest{
		Email:       in.Email,
		Amount:      in.Amount,
		CallbackURL: p.callbackURL,
		Metadata:    map[string]any{domain.MetadataInvoiceIDKey: in.InvoiceID},
	})
	if err != nil {
		return nil, classifyGatewayError("initialize", err)
	}

	log.Printf("level=info component=payment_initiator msg=\"transaction initialized\" invoice_id=%s reference=%s amount=%d", in.InvoiceID, resp.Reference, in.Amount)

	return &domain.TransactionIntent{
		Email:            in.Email,
		Amount:           in.Amount,
		InvoiceID:        in.InvoiceID,
		AuthorizationURL: resp.AuthorizationURL,
		AccessCode:       resp.AccessCode,
		Reference:        resp.Reference,
		Raw:              resp.Raw,
	}, nil
}

// classifyGatewayError maps Paystack client errors onto the service's error taxonomy.
func classifyGatewayError(op string, err error) error {
	if errors.Is(err, paystackclient.ErrMissingSecretKey) {
		return &domain.ConfigurationError{Setting: "PAYSTACK_SECRET_KEY"}
	}

	var apiErr *paystackclient.APIError
	if errors.As(err, &apiErr) {
		return &domain.GatewayError{StatusCode: apiErr.StatusCode, Message: apiErr.Message}
	}

	log.Printf("level=error component=payment_initiator op=%s msg=\"gateway unreachable\" err=%v", op, err)
	return &domain.TransportError{Op: op, Err: err}
}

package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/pkg/paystackclient"
)

type gatewayStub struct {
	initReq  *paystackclient.InitializeRequest
	initResp *paystackclient.InitializeResponse
	initErr  error
	calls    int
	ctxErr   error
	deadline bool

	verifyResp *paystackclient.Transaction
	verifyErr  error
}

func (g *gatewayStub) InitializeTransaction(ctx context.Context, payload paystackclient.InitializeRequest) (*paystackclient.InitializeResponse, error) {
	g.calls++
	g.initReq = &payload
	g.ctxErr = ctx.Err()
	_, g.deadline = ctx.Deadline()
	return g.initResp, g.initErr
}

func (g *gatewayStub) VerifyTransaction(ctx context.Context, reference string) (*paystackclient.Transaction, error) {
	return g.verifyResp, g.verifyErr
}

func TestPaymentInitiator_EmbedsInvoiceIDAsMetadata(t *testing.T) {
	gateway := &gatewayStub{initResp: &paystackclient.InitializeResponse{
		AuthorizationURL: "https://checkout.paystack.com/x",
		AccessCode:       "x",
		Reference:        "R1",
		Raw:              json.RawMessage(`{"reference":"R1"}`),
	}}
	initiator := NewPaymentInitiator(gateway, "https://app.example.com/pay/callback", time.Second)

	intent, err := initiator.Initialize(context.Background(), InitializePaymentInput{Email: "a@b.com", Amount: 5000, InvoiceID: "INV1"})
	require.NoError(t, err)

	require.NotNil(t, gateway.initReq)
	assert.Equal(t, "a@b.com", gateway.initReq.Email)
	assert.Equal(t, int64(5000), gateway.initReq.Amount)
	assert.Equal(t, "INV1", gateway.initReq.Metadata["invoiceId"])
	assert.Equal(t, "https://app.example.com/pay/callback", gateway.initReq.CallbackURL)
	assert.True(t, gateway.deadline, "expected bounded gateway call")

	assert.Equal(t, "R1", intent.Reference)
	assert.Equal(t, "INV1", intent.InvoiceID)
	assert.JSONEq(t, `{"reference":"R1"}`, string(intent.Raw))
}

func TestPaymentInitiator_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		input InitializePaymentInput
		field string
	}{
		{name: "missing email", input: InitializePaymentInput{Amount: 100, InvoiceID: "INV1"}, field: "email"},
		{name: "bad email", input: InitializePaymentInput{Email: "nope", Amount: 100, InvoiceID: "INV1"}, field: "email"},
		{name: "display name email", input: InitializePaymentInput{Email: "Mallory <a@b.com>", Amount: 100, InvoiceID: "INV1"}, field: "email"},
		{name: "angle bracket email", input: InitializePaymentInput{Email: "<a@b.com>", Amount: 100, InvoiceID: "INV1"}, field: "email"},
		{name: "missing invoice", input: InitializePaymentInput{Email: "a@b.com", Amount: 100, InvoiceID: "  "}, field: "invoiceId"},
		{name: "zero amount", input: InitializePaymentInput{Email: "a@b.com", InvoiceID: "INV1"}, field: "amount"},
		{name: "negative amount", input: InitializePaymentInput{Email: "a@b.com", Amount: -5, InvoiceID: "INV1"}, field: "amount"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gateway := &gatewayStub{}
			initiator := NewPaymentInitiator(gateway, "", time.Second)

			_, err := initiator.Initialize(context.Background(), tt.input)
			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.Zero(t, gateway.calls, "gateway must not be called on invalid input")
		})
	}
}

func TestPaymentInitiator_MissingGatewayIsConfigurationError(t *testing.T) {
	initiator := NewPaymentInitiator(nil, "", time.Second)

	_, err := initiator.Initialize(context.Background(), InitializePaymentInput{Email: "a@b.com", Amount: 100, InvoiceID: "INV1"})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestPaymentInitiator_MissingSecretKeyIsConfigurationError(t *testing.T) {
	gateway := &gatewayStub{initErr: paystackclient.ErrMissingSecretKey}
	initiator := NewPaymentInitiator(gateway, "", time.Second)

	_, err := initiator.Initialize(context.Background(), InitializePaymentInput{Email: "a@b.com", Amount: 100, InvoiceID: "INV1"})
	var cfgErr *domain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "PAYSTACK_SECRET_KEY", cfgErr.Setting)
}

func TestPaymentInitiator_GatewayRejectionPropagatesStatusAndMessage(t *testing.T) {
	gateway := &gatewayStub{initErr: &paystackclient.APIError{StatusCode: 400, Message: "Invalid email"}}
	initiator := NewPaymentInitiator(gateway, "", time.Second)

	_, err := initiator.Initialize(context.Background(), InitializePaymentInput{Email: "a@b.com", Amount: 100, InvoiceID: "INV1"})
	var gwErr *domain.GatewayError
	require.ErrorAs(t, err, &gwErr)
	assert.Equal(t, 400, gwErr.StatusCode)
	assert.Equal(t, "Invalid email", gwErr.Message)
}

func TestPaymentInitiator_NetworkFailureIsTransportError(t *testing.T) {
	netErr := &net.OpError{Op: "dial", Err: errors.New("connection refused")}
	gateway := &gatewayStub{initErr: &paystackclient.RequestError{Op: "initialize", Err: netErr}}
	initiator := NewPaymentInitiator(gateway, "", time.Second)

	_, err := initiator.Initialize(context.Background(), InitializePaymentInput{Email: "a@b.com", Amount: 100, InvoiceID: "INV1"})
	var tErr *domain.TransportError
	require.ErrorAs(t, err, &tErr)
	assert.ErrorIs(t, err, netErr)
}

func TestPaymentInitiator_SurvivesCallerCancellation(t *testing.T) {
	gateway := &gatewayStub{initResp: &paystackclient.InitializeResponse{Reference: "R1"}}
	initiator := NewPaymentInitiator(gateway, "", time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := initiator.Initialize(ctx, InitializePaymentInput{Email: "a@b.com", Amount: 100, InvoiceID: "INV1"})
	require.NoError(t, err)
	assert.NoError(t, gateway.ctxErr, "gateway call must not inherit caller cancellation")
}

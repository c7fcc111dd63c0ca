package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/payment-service/internal/app"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
	"github.com/transfa/payment-service/pkg/paystackclient"
)

const (
	testSecretKey     = "sk_test_123"
	testWebhookSecret = "whsec_123"
)

type testEnv struct {
	handler  http.Handler
	repo     *store.MemoryRepository
	verifier *app.SignatureVerifier
}

type envOptions struct {
	gatewayURL    string
	secretKey     string
	webhookSecret string
	auth          AuthMiddlewareConfig
	limiter       app.RateLimiter
	limit         int
	trustProxy    bool
	// invoices replaces the reconciler's store; the memory repo still backs sessions.
	invoices store.InvoiceStore
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	repo := store.NewMemoryRepository()
	client := paystackclient.NewClient(opts.gatewayURL, opts.secretKey, 5*time.Second)
	initiator := app.NewPaymentInitiator(client, "", 5*time.Second)
	verifier := app.NewSignatureVerifier(opts.webhookSecret)
	var invoices store.InvoiceStore = repo
	if opts.invoices != nil {
		invoices = opts.invoices
	}
	reconciler := app.NewWebhookReconciler(verifier, invoices, nil, "billing_events", time.Second)
	gate := app.NewAccessGate("/login")
	roles := app.NewRoleResolver(repo)

	router := NewRouter(RouterConfig{
		Payments:                     NewPaymentHandlers(initiator, reconciler),
		Sessions:                     NewSessionHandlers(roles, repo, "/dashboard", "/admin"),
		Gate:                         gate,
		Roles:                        roles,
		Auth:                         opts.auth,
		AllowedOrigins:               []string{"https://*"},
		DashboardPath:                "/dashboard",
		RateLimiter:                  opts.limiter,
		InitializeRateLimitPerMinute: opts.limit,
		TrustProxyHeaders:            opts.trustProxy,
	})

	return &testEnv{handler: router, repo: repo, verifier: verifier}
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func newGatewayServer(t *testing.T, status int, response string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer "+testSecretKey, r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func TestInitializeThenWebhookEndToEnd(t *testing.T) {
	gateway, _ := newGatewayServer(t, http.StatusOK, `{"status":true,"message":"ok","data":{"reference":"R1"}}`)
	env := newTestEnv(t, envOptions{gatewayURL: gateway.URL, secretKey: testSecretKey, webhookSecret: testWebhookSecret})
	env.repo.PutInvoice(domain.Invoice{ID: "INV1", OwnerID: "user_1", Amount: 5000, Currency: "NGN", Status: domain.InvoicePending})

	rec := env.do(http.MethodPost, "/payments/initialize", []byte(`{"email":"a@b.com","amount":5000,"invoiceId":"INV1"}`), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"reference":"R1"}`, rec.Body.String())

	webhook := []byte(`{"event":"charge.success","data":{"reference":"R1","amount":5000,"metadata":{"invoiceId":"INV1"}}}`)
	headers := map[string]string{app.SignatureHeader: env.verifier.Sign(webhook)}

	first := env.do(http.MethodPost, "/payments/webhook", webhook, headers)
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "Webhook received", first.Body.String())

	inv, err := env.repo.GetInvoice(context.Background(), "INV1")
	require.NoError(t, err)
	assert.Equal(t, domain.InvoicePaid, inv.Status)
	require.NotNil(t, inv.PaystackReference)
	assert.Equal(t, "R1", *inv.PaystackReference)

	second := env.do(http.MethodPost, "/payments/webhook", webhook, headers)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, 1, env.repo.Writes())
}

func TestInitializePayment_ValidationErrors(t *testing.T) {
	gateway, calls := newGatewayServer(t, http.StatusOK, `{"status":true,"data":{"reference":"R1"}}`)
	env := newTestEnv(t, envOptions{gatewayURL: gateway.URL, secretKey: testSecretKey})

	tests := []struct {
		name string
		body string
	}{
		{"missing email", `{"amount":5000,"invoiceId":"INV1"}`},
		{"malformed email", `{"email":"nope","amount":5000,"invoiceId":"INV1"}`},
		{"email with display name", `{"email":"Mallory <a@b.com>","amount":5000,"invoiceId":"INV1"}`},
		{"missing amount", `{"email":"a@b.com","invoiceId":"INV1"}`},
		{"fractional amount", `{"email":"a@b.com","amount":50.5,"invoiceId":"INV1"}`},
		{"zero amount", `{"email":"a@b.com","amount":0,"invoiceId":"INV1"}`},
		{"missing invoice", `{"email":"a@b.com","amount":5000}`},
		{"not json", `email=a@b.com`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(http.MethodPost, "/payments/initialize", []byte(tt.body), nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
	assert.Zero(t, atomic.LoadInt32(calls), "gateway must not be called for invalid input")
}

func TestInitializePayment_MissingSecretKey(t *testing.T) {
	gateway, calls := newGatewayServer(t, http.StatusOK, `{"status":true,"data":{}}`)
	env := newTestEnv(t, envOptions{gatewayURL: gateway.URL, secretKey: ""})

	rec := env.do(http.MethodPost, "/payments/initialize", []byte(`{"email":"a@b.com","amount":5000,"invoiceId":"INV1"}`), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "PAYSTACK_SECRET_KEY")
	assert.Zero(t, atomic.LoadInt32(calls))
}

func TestInitializePayment_GatewayRejection(t *testing.T) {
	gateway, _ := newGatewayServer(t, http.StatusBadRequest, `{"status":false,"message":"Invalid Email Address Passed"}`)
	env := newTestEnv(t, envOptions{gatewayURL: gateway.URL, secretKey: testSecretKey})

	rec := env.do(http.MethodPost, "/payments/initialize", []byte(`{"email":"a@b.com","amount":5000,"invoiceId":"INV1"}`), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Invalid Email Address Passed", body["error"])
	assert.EqualValues(t, http.StatusBadRequest, body["gateway_status"])
}

func TestInitializePayment_GatewayUnreachable(t *testing.T) {
	env := newTestEnv(t, envOptions{gatewayURL: "http://127.0.0.1:1", secretKey: testSecretKey})

	rec := env.do(http.MethodPost, "/payments/initialize", []byte(`{"email":"a@b.com","amount":5000,"invoiceId":"INV1"}`), nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhook_StatusCodes(t *testing.T) {
	body := []byte(`{"event":"charge.success","data":{"reference":"R9","metadata":{"invoiceId":"INV9"}}}`)

	t.Run("bad signature is 401 and writes nothing", func(t *testing.T) {
		env := newTestEnv(t, envOptions{webhookSecret: testWebhookSecret})
		env.repo.PutInvoice(domain.Invoice{ID: "INV9", Status: domain.InvoicePending})

		rec := env.do(http.MethodPost, "/payments/webhook", body, map[string]string{app.SignatureHeader: strings.Repeat("0", 128)})
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Zero(t, env.repo.Writes())
	})

	t.Run("missing signature is 401", func(t *testing.T) {
		env := newTestEnv(t, envOptions{webhookSecret: testWebhookSecret})
		rec := env.do(http.MethodPost, "/payments/webhook", body, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("missing webhook secret is 500 with generic body", func(t *testing.T) {
		env := newTestEnv(t, envOptions{})
		rec := env.do(http.MethodPost, "/payments/webhook", body, map[string]string{app.SignatureHeader: "abc"})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "PAYSTACK_WEBHOOK_SECRET")
	})

	t.Run("unknown invoice is acknowledged", func(t *testing.T) {
		env := newTestEnv(t, envOptions{webhookSecret: testWebhookSecret})
		rec := env.do(http.MethodPost, "/payments/webhook", body, map[string]string{app.SignatureHeader: env.verifier.Sign(body)})
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("event without invoice id is acknowledged", func(t *testing.T) {
		env := newTestEnv(t, envOptions{webhookSecret: testWebhookSecret})
		noMeta := []byte(`{"event":"charge.success","data":{"reference":"R9"}}`)
		rec := env.do(http.MethodPost, "/payments/webhook", noMeta, map[string]string{app.SignatureHeader: env.verifier.Sign(noMeta)})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Zero(t, env.repo.Writes())
	})
}

// brokenInvoiceStore finds a pending invoice but every write fails.
type brokenInvoiceStore struct {
	store.InvoiceStore
	err error
}

func (b brokenInvoiceStore) GetInvoice(ctx context.Context, invoiceID string) (*domain.Invoice, error) {
	return &domain.Invoice{ID: invoiceID, Amount: 5000, Status: domain.InvoicePending}, nil
}

func (b brokenInvoiceStore) UpdateInvoiceIfStatus(ctx context.Context, invoiceID string, expected domain.InvoiceStatus, update domain.InvoiceUpdate) (bool, error) {
	return false, b.err
}

func TestPaystackWebhook_StoreFailureAsksForRedelivery(t *testing.T) {
	storeErr := errors.New("pq: connection to 10.1.2.3 refused (password authentication failed for user billing)")
	env := newTestEnv(t, envOptions{webhookSecret: testWebhookSecret, invoices: brokenInvoiceStore{err: storeErr}})
	body := []byte(`{"event":"charge.success","data":{"reference":"R1","amount":5000,"metadata":{"invoiceId":"INV1"}}}`)

	rec := env.do(http.MethodPost, "/payments/webhook", body, map[string]string{app.SignatureHeader: env.verifier.Sign(body)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", strings.TrimSpace(rec.Body.String()))
	assert.NotContains(t, rec.Body.String(), "10.1.2.3")
	assert.NotContains(t, rec.Body.String(), "password")
}

// quotaCounter mimics the shared limiter: one counter per subject, refused once
// any subject passes the limit.
type quotaCounter struct {
	mu       sync.Mutex
	counts   map[string]int
	subjects [][]app.QuotaSubject
}

func (q *quotaCounter) ConsumeQuota(ctx context.Context, scope string, subjects []app.QuotaSubject, limit int, window time.Duration) (app.QuotaDecision, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.counts == nil {
		q.counts = make(map[string]int)
	}
	q.subjects = append(q.subjects, subjects)

	decision := app.QuotaDecision{Allowed: true}
	for _, s := range subjects {
		key := scope + ":" + s.Kind + ":" + strings.ToLower(s.Value)
		q.counts[key]++
		if q.counts[key] > decision.Count {
			decision.Count = q.counts[key]
			if decision.Count > limit {
				decision.Allowed = false
				decision.RetryAfter = 42
				decision.Exhausted = s.Kind
			}
		}
	}
	return decision, nil
}

func TestInitializePayment_RateLimited(t *testing.T) {
	gateway, _ := newGatewayServer(t, http.StatusOK, `{"status":true,"data":{"reference":"R1"}}`)
	limiter := &quotaCounter{}
	env := newTestEnv(t, envOptions{gatewayURL: gateway.URL, secretKey: testSecretKey, limiter: limiter, limit: 1})
	payload := []byte(`{"email":"a@b.com","amount":5000,"invoiceId":"INV1"}`)

	first := env.do(http.MethodPost, "/payments/initialize", payload, nil)
	assert.Equal(t, http.StatusOK, first.Code, "buffered body must still reach the handler")

	second := env.do(http.MethodPost, "/payments/initialize", payload, nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "42", second.Header().Get("Retry-After"))

	require.NotEmpty(t, limiter.subjects)
	assert.Contains(t, limiter.subjects[0], app.QuotaSubject{Kind: "email", Value: "a@b.com"})
}

func TestInitializePayment_ForwardedForRotationStillLimited(t *testing.T) {
	gateway, calls := newGatewayServer(t, http.StatusOK, `{"status":true,"data":{"reference":"R1"}}`)
	limiter := &quotaCounter{}
	env := newTestEnv(t, envOptions{gatewayURL: gateway.URL, secretKey: testSecretKey, limiter: limiter, limit: 2})

	var codes []int
	for i := 0; i < 4; i++ {
		// A different payer each time, so only the address can trip the limit.
		payload := []byte(fmt.Sprintf(`{"email":"payer%d@b.com","amount":5000,"invoiceId":"INV1"}`, i))
		rec := env.do(http.MethodPost, "/payments/initialize", payload, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1),
		})
		codes = append(codes, rec.Code)
	}

	assert.Equal(t, []int{200, 200, 429, 429}, codes)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
	for _, subjects := range limiter.subjects {
		assert.Contains(t, subjects, app.QuotaSubject{Kind: "ip", Value: "192.0.2.1"}, "forwarded header must not replace the peer address")
	}
}

func TestInitializePayment_TrustedProxyStillLimitsByEmail(t *testing.T) {
	gateway, _ := newGatewayServer(t, http.StatusOK, `{"status":true,"data":{"reference":"R1"}}`)
	limiter := &quotaCounter{}
	env := newTestEnv(t, envOptions{gatewayURL: gateway.URL, secretKey: testSecretKey, limiter: limiter, limit: 2, trustProxy: true})
	payload := []byte(`{"email":"a@b.com","amount":5000,"invoiceId":"INV1"}`)

	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = env.do(http.MethodPost, "/payments/initialize", payload, map[string]string{
			"X-Forwarded-For": fmt.Sprintf("203.0.113.%d", i+1),
		})
	}

	assert.Equal(t, http.StatusTooManyRequests, last.Code)
	assert.Contains(t, limiter.subjects[2], app.QuotaSubject{Kind: "ip", Value: "203.0.113.3"})
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	rec := env.do(http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

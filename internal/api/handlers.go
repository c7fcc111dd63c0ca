/**
 * @description
 * HTTP handlers for the payment-service. Handlers parse the request, call the
 * application layer and translate its typed errors into status codes. Internal error
 * detail is logged, never returned to the webhook sender.
 */
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/payment-service/internal/app"
	"github.com/transfa/payment-service/internal/domain"
	"github.com/transfa/payment-service/internal/store"
)

const maxWebhookBodyBytes = 1 << 20

// PaymentHandlers serves the initialization and webhook endpoints.
type PaymentHandlers struct {
	initiator  *app.PaymentInitiator
	reconciler *app.WebhookReconciler
}

func NewPaymentHandlers(initiator *app.PaymentInitiator, reconciler *app.WebhookReconciler) *PaymentHandlers {
	return &PaymentHandlers{initiator: initiator, reconciler: reconciler}
}

type initializePaymentRequest struct {
	Email     string      `json:"email"`
	Amount    json.Number `json:"amount"`
	InvoiceID string      `json:"invoiceId"`
}

// InitializePaymentHandler handles POST /payments/initialize. On success the gateway's
// transaction object is returned as-is.
func (h *PaymentHandlers) InitializePaymentHandler(w http.ResponseWriter, r *http.Request) {
	decoder := json.NewDecoder(r.Body)
	decoder.UseNumber()

	var req initializePaymentRequest
	if err := decoder.Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	amount, err := parseAmount(req.Amount)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.initiator.Initialize(r.Context(), app.InitializePaymentInput{
		Email:     req.Email,
		Amount:    amount,
		InvoiceID: req.InvoiceID,
	})
	if err != nil {
		writeInitializeError(w, err)
		return
	}

	if len(intent.Raw) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(intent.Raw)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{
		"authorization_url": intent.AuthorizationURL,
		"access_code":       intent.AccessCode,
		"reference":         intent.Reference,
	})
}

func parseAmount(raw json.Number) (int64, error) {
	if strings.TrimSpace(raw.String()) == "" {
		return 0, &domain.ValidationError{Field: "amount", Message: "is required"}
	}
	amount, err := raw.Int64()
	if err != nil {
		return 0, &domain.ValidationError{Field: "amount", Message: "must be an integer in kobo"}
	}
	return amount, nil
}

func writeInitializeError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	var gatewayErr *domain.GatewayError
	var configErr *domain.ConfigurationError
	var transportErr *domain.TransportError

	switch {
	case errors.As(err, &validationErr):
		respondWithError(w, http.StatusBadRequest, validationErr.Error())
	case errors.As(err, &gatewayErr):
		log.Printf("level=warn component=api op=initialize msg=\"gateway rejected initialization\" gateway_status=%d err=%q", gatewayErr.StatusCode, gatewayErr.Message)
		respondWithJSON(w, http.StatusInternalServerError, map[string]any{
			"error":          gatewayErr.Message,
			"gateway_status": gatewayErr.StatusCode,
		})
	case errors.As(err, &configErr):
		log.Printf("level=error component=api op=initialize msg=\"payment gateway not configured\" setting=%s", configErr.Setting)
		respondWithError(w, http.StatusInternalServerError, "Payment service is not configured")
	case errors.As(err, &transportErr):
		respondWithError(w, http.StatusInternalServerError, "Payment gateway is unreachable")
	default:
		log.Printf("level=error component=api op=initialize msg=\"unexpected error\" err=%v", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// PaystackWebhookHandler handles POST /payments/webhook.
func (h *PaymentHandlers) PaystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if requestID == "" {
		requestID = uuid.NewString()
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBodyBytes))
	if err != nil {
		log.Printf("level=warn component=webhook request_id=%s msg=\"cannot read webhook body\" err=%v", requestID, err)
		http.Error(w, "Cannot read request body", http.StatusBadRequest)
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	outcome, err := h.reconciler.Reconcile(r.Context(), body, r.Header.Get(app.SignatureHeader))
	if err != nil {
		var authErr *domain.AuthenticationError
		if errors.As(err, &authErr) {
			log.Printf("level=warn component=webhook request_id=%s msg=\"rejected webhook\" reason=%q remote=%s", requestID, authErr.Reason, r.RemoteAddr)
			http.Error(w, "Invalid signature", http.StatusUnauthorized)
			return
		}
		log.Printf("level=error component=webhook request_id=%s msg=\"webhook processing failed\" err=%v", requestID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	log.Printf("level=info component=webhook request_id=%s msg=\"webhook processed\" outcome=%s", requestID, outcome)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Webhook received"))
}

// SessionHandlers serves the authentication entry point and the admin views.
type SessionHandlers struct {
	roles         *app.RoleResolver
	invoices      store.InvoiceStore
	dashboardPath string
	adminHomePath string
}

func NewSessionHandlers(roles *app.RoleResolver, invoices store.InvoiceStore, dashboardPath, adminHomePath string) *SessionHandlers {
	return &SessionHandlers{
		roles:         roles,
		invoices:      invoices,
		dashboardPath: dashboardPath,
		adminHomePath: adminHomePath,
	}
}

type sessionResponse struct {
	UserID     string      `json:"userId"`
	Email      string      `json:"email,omitempty"`
	Role       domain.Role `json:"role"`
	RedirectTo string      `json:"redirectTo"`
}

// SessionHandler handles GET /auth/session. It resolves the caller's role once and
// tells the client where to route them.
func (h *SessionHandlers) SessionHandler(w http.ResponseWriter, r *http.Request) {
	principal, ok := PrincipalFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	role := h.roles.ResolveRole(r.Context(), principal.UserID)
	redirectTo := h.dashboardPath
	if role == domain.RoleAdmin {
		redirectTo = h.adminHomePath
	}

	respondWithJSON(w, http.StatusOK, sessionResponse{
		UserID:     principal.UserID,
		Email:      principal.Email,
		Role:       role,
		RedirectTo: redirectTo,
	})
}

// AdminInvoiceHandler handles GET /admin/invoices/{invoiceID}.
func (h *SessionHandlers) AdminInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	invoiceID := strings.TrimSpace(chi.URLParam(r, "invoiceID"))
	if invoiceID == "" {
		respondWithError(w, http.StatusBadRequest, "invoice id is required")
		return
	}

	invoice, err := h.invoices.GetInvoice(r.Context(), invoiceID)
	if err != nil {
		if errors.Is(err, store.ErrInvoiceNotFound) {
			respondWithError(w, http.StatusNotFound, "Invoice not found")
			return
		}
		log.Printf("level=error component=api op=admin_get_invoice invoice_id=%s err=%v", invoiceID, err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, invoice)
}

// respondWithJSON is a helper function to write JSON responses.
func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

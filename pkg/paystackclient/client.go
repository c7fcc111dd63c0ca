/**
 * @description
 * This package provides a client for the Paystack transactions API. It encapsulates
 * authenticated HTTP requests to Paystack, request body construction, and decoding of
 * the `{status, message, data}` envelope Paystack wraps every response in.
 *
 * Errors:
 * - ErrMissingSecretKey when the client was built without a secret key.
 * - *APIError when Paystack answers with a non-2xx status or `status: false`.
 * - *RequestError when Paystack could not be reached or the response was unreadable.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package paystackclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is Paystack's production API host.
const DefaultBaseURL = "https://api.paystack.co"

// ErrMissingSecretKey is returned for every call when no secret key is configured.
var ErrMissingSecretKey = errors.New("paystack secret key is not configured")

// Client is a client for the Paystack API.
type Client struct {
	BaseURL    string
	SecretKey  string
	HTTPClient *http.Client
}

// NewClient creates a new Paystack API client. The timeout bounds every call.
func NewClient(baseURL, secretKey string, timeout time.Duration) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL:   baseURL,
		SecretKey: strings.TrimSpace(secretKey),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// InitializeRequest represents the payload for POST /transaction/initialize.
// Amount is in the currency's minor unit (kobo for NGN).
type InitializeRequest struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Currency    string         `json:"currency,omitempty"`
	Reference   string         `json:"reference,omitempty"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// InitializeResponse carries the transaction handle. Raw is Paystack's `data` object verbatim.
type InitializeResponse struct {
	AuthorizationURL string          `json:"authorization_url"`
	AccessCode       string          `json:"access_code"`
	Reference        string          `json:"reference"`
	Raw              json.RawMessage `json:"-"`
}

// Transaction is the `data` object returned by GET /transaction/verify/{reference}.
type Transaction struct {
	ID        int64           `json:"id"`
	Status    string          `json:"status"`
	Reference string          `json:"reference"`
	Amount    int64           `json:"amount"`
	Currency  string          `json:"currency"`
	PaidAt    string          `json:"paid_at"`
	Metadata  json.RawMessage `json:"metadata"`
	Customer  struct {
		Email string `json:"email"`
	} `json:"customer"`
}

// envelope is the wrapper Paystack puts around every response body.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// APIError represents an error reported by Paystack.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("paystack api error (status %d)", e.StatusCode)
	}
	return fmt.Sprintf("paystack api error (status %d): %s", e.StatusCode, e.Message)
}

// RequestError represents a failure to exchange a request with Paystack at all.
type RequestError struct {
	Op  string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("paystack %s request failed: %v", e.Op, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// InitializeTransaction asks Paystack to create a hosted payment page for a charge.
func (c *Client) InitializeTransaction(ctx context.Context, payload InitializeRequest) (*InitializeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal initialize request: %w", err)
	}

	data, err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body)
	if err != nil {
		return nil, err
	}

	var out InitializeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &RequestError{Op: "initialize", Err: fmt.Errorf("failed to decode data: %w", err)}
	}
	out.Raw = data
	return &out, nil
}

// VerifyTransaction fetches the current state of a transaction by its reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, errors.New("reference is required")
	}

	data, err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}

	var tx Transaction
	if err := json.Unmarshal(data, &tx); err != nil {
		return nil, &RequestError{Op: "verify", Err: fmt.Errorf("failed to decode data: %w", err)}
	}
	return &tx, nil
}

// do executes a single request and returns the `data` member of a successful envelope.
func (c *Client) do(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, error) {
	if c.SecretKey == "" {
		return nil, ErrMissingSecretKey
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &RequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &RequestError{Op: op, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	var env envelope
	decodeErr := json.Unmarshal(bodyBytes, &env)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		message := env.Message
		if decodeErr != nil || message == "" {
			log.Printf("level=warn component=paystack_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, resp.StatusCode)
			message = http.StatusText(resp.StatusCode)
		} else {
			log.Printf("level=warn component=paystack_client op=%s status=%d detail=%q", op, resp.StatusCode, message)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Message: message}
	}

	if decodeErr != nil {
		return nil, &RequestError{Op: op, Err: fmt.Errorf("failed to decode response: %w", decodeErr)}
	}
	if !env.Status {
		log.Printf("level=warn component=paystack_client op=%s status=%d detail=%q msg=\"request rejected\"", op, resp.StatusCode, env.Message)
		return nil, &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	return env.Data, nil
}

/**
 * @description
 * Webhook signature verification for Paystack notifications.
 *
 * Paystack signs every webhook with HMAC-SHA512 over the raw request body and sends
 * the hex digest in the `x-paystack-signature` header. Verification must run on the
 * exact bytes received, before any parsing.
 */
package app

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"

	"github.com/transfa/payment-service/internal/domain"
)

// SignatureHeader is the header Paystack carries the webhook signature in.
const SignatureHeader = "x-paystack-signature"

// SignatureVerifier validates webhook signatures with a shared secret.
type SignatureVerifier struct {
	secret []byte
}

// NewSignatureVerifier creates a verifier. An empty secret makes every check fail.
func NewSignatureVerifier(secret string) *SignatureVerifier {
	return &SignatureVerifier{secret: []byte(strings.TrimSpace(secret))}
}

// Sign returns the hex signature Paystack would send for body.
func (v *SignatureVerifier) Sign(body []byte) string {
	mac := hmac.New(sha512.New, v.secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify succeeds iff signature is the HMAC-SHA512 of body under the secret.
func (v *SignatureVerifier) Verify(body []byte, signature string) error {
	if v == nil || len(v.secret) == 0 {
		return &domain.ConfigurationError{Setting: "PAYSTACK_WEBHOOK_SECRET"}
	}

	provided := strings.TrimSpace(signature)
	if provided == "" {
		return &domain.AuthenticationError{Reason: "missing signature header"}
	}

	expected := v.Sign(body)
	if !hmac.Equal([]byte(expected), []byte(provided)) {
		return &domain.AuthenticationError{Reason: "signature mismatch"}
	}
	return nil
}

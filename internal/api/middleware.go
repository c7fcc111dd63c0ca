package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/transfa/payment-service/internal/app"
)

// RequireSession admits a request only once its identity has settled to a principal.
// Anonymous callers are redirected to the gate's login path; no error page is rendered.
func RequireSession(gate *app.AccessGate) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			feed, ok := IdentityFeedFromContext(r.Context())
			if !ok {
				http.Redirect(w, r, gate.LoginPath, http.StatusFound)
				return
			}

			decision, snapshot, err := gate.Await(r.Context(), feed)
			if err != nil {
				// Caller went away while the identity was loading; nothing to write.
				return
			}

			switch decision {
			case app.GateRender:
				ctx := context.WithValue(r.Context(), principalContextKey, snapshot.Principal)
				next.ServeHTTP(w, r.WithContext(ctx))
			default:
				http.Redirect(w, r, gate.LoginPath, http.StatusFound)
			}
		})
	}
}

// RequireAdmin redirects principals that do not resolve to the admin role. It must run
// after RequireSession.
func RequireAdmin(roles *app.RoleResolver, gate *app.AccessGate, fallbackPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Redirect(w, r, gate.LoginPath, http.StatusFound)
				return
			}

			principal.Role = roles.ResolveRole(r.Context(), principal.UserID)
			if !principal.IsAdmin() {
				log.Printf("level=info component=access_gate msg=\"non-admin redirected\" user_id=%s path=%s", principal.UserID, r.URL.Path)
				http.Redirect(w, r, fallbackPath, http.StatusFound)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// initializeBodyLimit bounds how much of the initialize body is buffered to read the payer email.
const initializeBodyLimit = 64 << 10

// RateLimitInitialize counts each initialize attempt against both the caller's
// address and the payer email, so rotating either one alone does not reset the
// budget. The body is buffered and handed on unchanged. Limiter failures let the
// request through.
func RateLimitInitialize(limiter app.RateLimiter, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, initializeBodyLimit))
			if err != nil {
				respondWithError(w, http.StatusBadRequest, "Invalid request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(raw))

			var peek struct {
				Email string `json:"email"`
			}
			_ = json.Unmarshal(raw, &peek)

			subjects := []app.QuotaSubject{
				{Kind: "ip", Value: clientAddress(r)},
				{Kind: "email", Value: peek.Email},
			}
			decision, err := limiter.ConsumeQuota(r.Context(), "initialize", subjects, limit, window)
			if err != nil {
				log.Printf("level=warn component=rate_limiter msg=\"rate limit check failed; allowing request\" scope=initialize err=%v", err)
				next.ServeHTTP(w, r)
				return
			}
			if !decision.Allowed {
				log.Printf("level=info component=rate_limiter msg=\"initialize throttled\" exhausted=%s retry_after=%d", decision.Exhausted, decision.RetryAfter)
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				respondWithError(w, http.StatusTooManyRequests, "Too many requests. Please try again later.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientAddress reads RemoteAddr. Forwarded headers only reach it when the router
// is configured to trust a proxy in front of the service.
func clientAddress(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// Package gateway enforces SIWA receipts in front of protected handlers and upstreams.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/agentrep/siwa-core/pkg/siwa"
)

// Request headers read and written by the middleware.
const (
	HeaderReceipt       = "X-SIWA-Receipt"
	HeaderAgentAddress  = "X-Agent-Address"
	HeaderAgentID       = "X-Agent-Id"
	HeaderAgentRegistry = "X-Agent-Registry"
	HeaderAgentVerified = "X-Agent-Verified"
)

type contextKey string

// ContextKeyClaims holds the verified *siwa.ReceiptClaims.
const ContextKeyClaims contextKey = "siwa-receipt-claims"

// ReceiptVerifier checks receipt tokens. *siwa.ReceiptIssuer implements it.
type ReceiptVerifier interface {
	Verify(token string) (*siwa.ReceiptClaims, error)
}

// Options configures the middleware.
type Options struct {
	// RequireVerified rejects receipts issued for agents that did not meet the policy.
	RequireVerified bool
}

// NewAuthMiddleware creates a middleware that enforces receipt validity.
func NewAuthMiddleware(verifier ReceiptVerifier, opts Options) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// 1. Extract Receipt
			token := ExtractReceipt(r)
			if token == "" {
				WriteError(w, siwa.NewError(siwa.ErrCodeInvalidReceipt, "receipt is required"))
				return
			}

			// 2. Verify
			claims, err := verifier.Verify(token)
			if err != nil {
				log.Printf("[gateway] receipt rejected: %v", err)
				WriteError(w, err)
				return
			}
			if opts.RequireVerified && !claims.Verified {
				WriteError(w, siwa.NewError(siwa.ErrCodePolicyUnmet, "receipt is not verified"))
				return
			}

			// 3. Add Telemetry
			duration := time.Since(start)
			w.Header().Set("Server-Timing", fmt.Sprintf("siwa-auth;dur=%.3f", float64(duration.Microseconds())/1000.0))

			// 4. Forward verified identity, replacing anything the client sent
			r.Header.Set(HeaderAgentAddress, claims.Subject)
			r.Header.Set(HeaderAgentID, strconv.FormatUint(claims.AgentID, 10))
			r.Header.Set(HeaderAgentRegistry, claims.AgentRegistry)
			r.Header.Set(HeaderAgentVerified, strconv.FormatBool(claims.Verified))

			ctx := context.WithValue(r.Context(), ContextKeyClaims, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the receipt claims injected by the middleware.
func ClaimsFromContext(ctx context.Context) (*siwa.ReceiptClaims, bool) {
	claims, ok := ctx.Value(ContextKeyClaims).(*siwa.ReceiptClaims)
	return claims, ok && claims != nil
}

// ExtractReceipt retrieves the receipt from headers.
func ExtractReceipt(r *http.Request) string {
	// 1. X-SIWA-Receipt
	if token := strings.TrimSpace(r.Header.Get(HeaderReceipt)); token != "" {
		return token
	}

	// 2. Authorization: Bearer
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}

	return ""
}

// ErrorBody is the JSON body written for rejected requests.
type ErrorBody struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Error  string `json:"error"`
}

// WriteError writes err as a JSON rejection with the status of its kind.
// Only the client-safe message of a *siwa.Error is written.
func WriteError(w http.ResponseWriter, err error) {
	body := ErrorBody{Status: "rejected", Code: siwa.ErrCodeInvalidReceipt, Error: "receipt is invalid"}
	status := http.StatusUnauthorized
	if siwaErr, ok := siwa.AsError(err); ok {
		body.Code = siwaErr.Code
		body.Error = siwaErr.Message
		status = siwaErr.Kind().HTTPStatus()
	}
	if status >= http.StatusInternalServerError {
		body.Status = "error"
	}

	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="siwa"`)
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

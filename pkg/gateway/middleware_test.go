package gateway_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentrep/siwa-core/pkg/gateway"
	"github.com/agentrep/siwa-core/pkg/identity"
	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	agentAddr     = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	agentRegistry = "eip155:8453:0x8004a169fb4a3325136eb29fa0ceb6d2e539a432"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newIssuer(t *testing.T, c *clock) *siwa.ReceiptIssuer {
	t.Helper()
	return siwa.NewReceiptIssuer(siwa.Config{
		Secret:          []byte("gateway-test-secret"),
		Domain:          "api.example.com",
		AllowUnverified: true,
		Now:             c.Now,
	})
}

func issueReceipt(t *testing.T, issuer *siwa.ReceiptIssuer, verified bool) string {
	t.Helper()
	claim, err := identity.NewClaim(agentAddr, 42, agentRegistry)
	require.NoError(t, err)
	receipt, err := issuer.Issue(&siwa.VerificationResult{Valid: true, Verified: verified, Claim: claim})
	require.NoError(t, err)
	return receipt.Token
}

func TestAuthMiddleware(t *testing.T) {
	c := &clock{now: time.Now()}
	issuer := newIssuer(t, c)
	token := issueReceipt(t, issuer, true)

	nextHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := gateway.ClaimsFromContext(r.Context())
		require.True(t, ok)
		assert.Equal(t, agentAddr, claims.Subject)

		// Verify headers were set
		assert.Equal(t, agentAddr, r.Header.Get(gateway.HeaderAgentAddress))
		assert.Equal(t, "42", r.Header.Get(gateway.HeaderAgentID))
		assert.Equal(t, agentRegistry, r.Header.Get(gateway.HeaderAgentRegistry))
		assert.Equal(t, "true", r.Header.Get(gateway.HeaderAgentVerified))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	middleware := gateway.NewAuthMiddleware(issuer, gateway.Options{})(nextHandler)

	tests := []struct {
		name           string
		headerKey      string
		headerValue    string
		expectedStatus int
		expectedCode   string
	}{
		{
			name:           "Valid receipt in X-SIWA-Receipt",
			headerKey:      gateway.HeaderReceipt,
			headerValue:    token,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Valid receipt in Authorization Bearer",
			headerKey:      "Authorization",
			headerValue:    "Bearer " + token,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Lowercase bearer scheme",
			headerKey:      "Authorization",
			headerValue:    "bearer " + token,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "Missing receipt",
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   siwa.ErrCodeInvalidReceipt,
		},
		{
			name:           "Invalid receipt",
			headerKey:      gateway.HeaderReceipt,
			headerValue:    "invalid.token.string",
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   siwa.ErrCodeInvalidReceipt,
		},
		{
			name:           "Basic auth is ignored",
			headerKey:      "Authorization",
			headerValue:    "Basic dXNlcjpwYXNz",
			expectedStatus: http.StatusUnauthorized,
			expectedCode:   siwa.ErrCodeInvalidReceipt,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tc.headerKey != "" {
				req.Header.Set(tc.headerKey, tc.headerValue)
			}

			rr := httptest.NewRecorder()
			middleware.ServeHTTP(rr, req)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			if tc.expectedStatus == http.StatusOK {
				assert.Contains(t, rr.Header().Get("Server-Timing"), "siwa-auth;dur=")
				return
			}

			var body gateway.ErrorBody
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
			assert.Equal(t, "rejected", body.Status)
			assert.Equal(t, tc.expectedCode, body.Code)
		})
	}
}

func TestAuthMiddleware_Expired(t *testing.T) {
	c := &clock{now: time.Now()}
	issuer := newIssuer(t, c)
	token := issueReceipt(t, issuer, true)

	c.now = c.now.Add(siwa.DefaultReceiptTTL + time.Second)

	called := false
	middleware := gateway.NewAuthMiddleware(issuer, gateway.Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(gateway.HeaderReceipt, token)
	rr := httptest.NewRecorder()
	middleware.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	var body gateway.ErrorBody
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Equal(t, siwa.ErrCodeReceiptExpired, body.Code)
}

func TestAuthMiddleware_RequireVerified(t *testing.T) {
	c := &clock{now: time.Now()}
	issuer := newIssuer(t, c)
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })

	strict := gateway.NewAuthMiddleware(issuer, gateway.Options{RequireVerified: true})(ok)
	lenient := gateway.NewAuthMiddleware(issuer, gateway.Options{})(ok)
	unverified := issueReceipt(t, issuer, false)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(gateway.HeaderReceipt, unverified)
	rr := httptest.NewRecorder()
	strict.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set(gateway.HeaderReceipt, unverified)
	rr = httptest.NewRecorder()
	lenient.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
}

func TestAuthMiddleware_OverridesSpoofedHeaders(t *testing.T) {
	c := &clock{now: time.Now()}
	issuer := newIssuer(t, c)

	var seen string
	middleware := gateway.NewAuthMiddleware(issuer, gateway.Options{})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get(gateway.HeaderAgentAddress)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set(gateway.HeaderReceipt, issueReceipt(t, issuer, true))
	req.Header.Set(gateway.HeaderAgentAddress, "0x0000000000000000000000000000000000000bad")
	middleware.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, agentAddr, seen)
}

func TestGateway_Proxy(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(gateway.HeaderReceipt))
		_, _ = io.WriteString(w, r.URL.Path+" "+r.Header.Get(gateway.HeaderAgentAddress))
	}))
	defer upstream.Close()

	c := &clock{now: time.Now()}
	issuer := newIssuer(t, c)
	gw, err := gateway.NewGateway(upstream.URL, issuer, gateway.Options{})
	require.NoError(t, err)
	assert.Equal(t, upstream.URL, gw.Target().String())

	front := httptest.NewServer(gw)
	defer front.Close()

	req, err := http.NewRequest("GET", front.URL+"/tools/run", nil)
	require.NoError(t, err)
	req.Header.Set(gateway.HeaderReceipt, issueReceipt(t, issuer, true))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/tools/run "+agentAddr, string(body))

	resp, err = http.Get(front.URL + "/tools/run")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGateway_InvalidTarget(t *testing.T) {
	_, err := gateway.NewGateway("://bad", nil, gateway.Options{})
	assert.Error(t, err)

	_, err = gateway.NewGateway("/relative", nil, gateway.Options{})
	assert.Error(t, err)
}

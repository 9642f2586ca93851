package gateway

import (
	"fmt"
	"log"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// Gateway is a reverse proxy that only forwards requests carrying a valid receipt.
type Gateway struct {
	target  *url.URL
	proxy   *httputil.ReverseProxy
	handler http.Handler
}

// NewGateway creates a new Gateway instance.
func NewGateway(targetURL string, verifier ReceiptVerifier, opts Options) (*Gateway, error) {
	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid target URL: %q must be absolute", targetURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		// Set forwarding headers
		req.Header.Set("X-Forwarded-Host", req.Host)
		req.Host = target.Host
		// The upstream trusts the X-Agent-* headers, not the receipt.
		req.Header.Del(HeaderReceipt)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Printf("[gateway] upstream %s failed: %v", target, err)
		http.Error(w, "Bad Gateway", http.StatusBadGateway)
	}

	return &Gateway{
		target:  target,
		proxy:   proxy,
		handler: NewAuthMiddleware(verifier, opts)(proxy),
	}, nil
}

// Target returns the upstream URL.
func (g *Gateway) Target() *url.URL {
	return g.target
}

// ServeHTTP implements the http.Handler interface.
// It verifies the receipt and proxies valid requests.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.handler.ServeHTTP(w, r)
}

// Package siwa implements Sign-In-With-Agent: an agent proves control of an
// onchain-registered identity by signing a server-issued, domain-bound
// message, and receives a short-lived receipt in exchange.
//
// The flow has two round trips:
//
//	POST /nonce   {address, agentId, agentRegistry} -> nonce token + message
//	POST /verify  {message, signature, nonceToken}  -> receipt
//
// Nonce tokens and receipts are HS256 JWS tokens keyed by separate keys
// derived from one server secret.
package siwa

import "github.com/agentrep/siwa-core/pkg/registry"

// Service bundles the nonce issuer, verifier and receipt issuer built from one Config.
type Service struct {
	Nonces   *NonceIssuer
	Verifier *Verifier
	Receipts *ReceiptIssuer

	cfg Config
}

// NewService creates the components sharing cfg, oracle and replay store.
func NewService(cfg Config, oracle registry.Oracle, replay ReplayStore) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		Nonces:   NewNonceIssuer(cfg, oracle),
		Verifier: NewVerifier(cfg, oracle, replay),
		Receipts: NewReceiptIssuer(cfg),
		cfg:      cfg,
	}
}

// Close releases resources the service created itself.
func (s *Service) Close() error {
	return s.Verifier.Close()
}

// Configured reports whether the server secret is set.
func (s *Service) Configured() bool {
	return s.cfg.HasSecret()
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

package siwa

import (
	"time"

	"github.com/agentrep/siwa-core/pkg/identity"
)

// Default lifetimes and timeouts.
const (
	DefaultNonceTTL      = 5 * time.Minute
	DefaultReceiptTTL    = 30 * time.Minute
	DefaultOracleTimeout = 5 * time.Second
)

// Config holds the settings shared by the nonce issuer, verifier and receipt issuer.
type Config struct {
	// Secret is the server secret from which token keys are derived.
	// An empty secret makes every operation fail with SERVER_MISCONFIGURED.
	Secret []byte

	// Domain is the relying party domain the message is bound to.
	Domain string

	// URI is the resource URI included in the message.
	URI string

	// Statement is an optional human-readable line included in the message.
	Statement string

	// AllowedRegistry restricts claims to one registry. Zero means any registry.
	AllowedRegistry identity.RegistryRef

	// NonceTTL is the nonce lifetime (default: 5 minutes).
	NonceTTL time.Duration

	// ReceiptTTL is the receipt lifetime (default: 30 minutes).
	ReceiptTTL time.Duration

	// OracleTimeout bounds every registration oracle call (default: 5 seconds).
	OracleTimeout time.Duration

	// AllowUnverified lets the receipt issuer sign results that are valid but
	// did not meet the policy. Such receipts carry verified=false.
	AllowUnverified bool

	// Now overrides the current time (for testing).
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.NonceTTL <= 0 {
		c.NonceTTL = DefaultNonceTTL
	}
	if c.ReceiptTTL <= 0 {
		c.ReceiptTTL = DefaultReceiptTTL
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = DefaultOracleTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// HasSecret reports whether a server secret is configured.
func (c Config) HasSecret() bool {
	return len(c.Secret) > 0
}

package siwa

import (
	"time"

	"github.com/agentrep/siwa-core/pkg/identity"
	"github.com/google/uuid"
)

// ReceiptClaims is the payload of a verification receipt.
type ReceiptClaims struct {
	// JTI is the unique receipt identifier.
	JTI string `json:"jti"`

	// Issuer is the domain that verified the agent.
	Issuer string `json:"iss"`

	// Subject is the lowercase agent address.
	Subject string `json:"sub"`

	AgentID       uint64 `json:"agentId"`
	AgentRegistry string `json:"agentRegistry"`
	ChainID       uint64 `json:"chainId"`

	// Verified is false only when unverified receipts are enabled and the policy was not met.
	Verified bool `json:"verified"`

	IssuedAt int64 `json:"iat"`
	Expiry   int64 `json:"exp"`
}

// Claim returns the identity the receipt attests to.
func (c *ReceiptClaims) Claim() (identity.Claim, error) {
	return identity.NewClaim(c.Subject, c.AgentID, c.AgentRegistry)
}

// ExpiresAt returns the expiry time.
func (c *ReceiptClaims) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0).UTC()
}

// IssuedAtTime returns the issuance time.
func (c *ReceiptClaims) IssuedAtTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}

// Receipt is a signed token attesting a completed verification.
type Receipt struct {
	Token     string
	ExpiresAt time.Time
	Claims    *ReceiptClaims
}

// ReceiptIssuer signs and checks verification receipts.
type ReceiptIssuer struct {
	cfg   Config
	codec *tokenCodec
}

// NewReceiptIssuer creates a receipt issuer. A missing secret is reported by
// Issue and Verify as SERVER_MISCONFIGURED.
func NewReceiptIssuer(cfg Config) *ReceiptIssuer {
	cfg = cfg.withDefaults()
	codec, _ := newTokenCodec(cfg.Secret, TypeReceipt)
	return &ReceiptIssuer{cfg: cfg, codec: codec}
}

// Issue signs a receipt for a verification result. Results that are not
// valid are refused, as are unverified results unless AllowUnverified is set.
func (r *ReceiptIssuer) Issue(result *VerificationResult) (*Receipt, error) {
	if r.codec == nil {
		return nil, ErrServerMisconfigured
	}
	if result == nil || !result.Valid {
		return nil, NewError(ErrCodeVerificationFailed, "cannot issue a receipt for a failed verification")
	}
	if !result.Verified && !r.cfg.AllowUnverified {
		return nil, NewError(ErrCodePolicyUnmet, "agent does not meet the verification policy")
	}

	now := r.cfg.Now().UTC().Truncate(time.Second)
	claims := &ReceiptClaims{
		JTI:           uuid.NewString(),
		Issuer:        r.cfg.Domain,
		Subject:       result.Claim.Address,
		AgentID:       result.Claim.AgentID,
		AgentRegistry: result.Claim.AgentRegistry.String(),
		ChainID:       result.Claim.ChainID(),
		Verified:      result.Verified,
		IssuedAt:      now.Unix(),
		Expiry:        now.Add(r.cfg.ReceiptTTL).Unix(),
	}

	token, err := r.codec.sign(claims)
	if err != nil {
		return nil, WrapError(ErrCodeServerMisconfigured, "failed to sign receipt", err)
	}

	return &Receipt{Token: token, ExpiresAt: claims.ExpiresAt(), Claims: claims}, nil
}

// Verify checks a receipt token and returns its claims.
func (r *ReceiptIssuer) Verify(token string) (*ReceiptClaims, error) {
	if r.codec == nil {
		return nil, ErrServerMisconfigured
	}
	if token == "" {
		return nil, NewError(ErrCodeInvalidReceipt, "receipt is required")
	}

	var claims ReceiptClaims
	if err := r.codec.open(token, &claims); err != nil {
		return nil, WrapError(ErrCodeInvalidReceipt, "receipt is invalid", err)
	}
	if claims.JTI == "" || claims.Expiry == 0 {
		return nil, NewError(ErrCodeInvalidReceipt, "receipt claims are incomplete")
	}
	if _, err := claims.Claim(); err != nil {
		return nil, WrapError(ErrCodeInvalidReceipt, "receipt identity is invalid", err)
	}
	if r.cfg.Domain != "" && claims.Issuer != r.cfg.Domain {
		return nil, NewError(ErrCodeInvalidReceipt, "receipt was issued for another domain")
	}
	if r.cfg.Now().After(claims.ExpiresAt()) {
		return nil, NewError(ErrCodeReceiptExpired, "receipt has expired")
	}
	return &claims, nil
}

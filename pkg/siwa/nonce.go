package siwa

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/agentrep/siwa-core/pkg/identity"
	"github.com/agentrep/siwa-core/pkg/registry"
	"github.com/google/uuid"
)

// NonceSize is the number of random bytes in a nonce (128 bits of entropy).
const NonceSize = 16

// NonceRequest is a client's request for a sign-in nonce.
type NonceRequest struct {
	Address string
	// AgentID is a pointer so that a missing id can be told apart from id 0.
	AgentID       *uint64
	AgentRegistry string
}

// IssuedNonce is a nonce bound to a claim, plus the message to sign.
type IssuedNonce struct {
	// Nonce is the random challenge value, hex encoded.
	Nonce string

	// Token is the signed nonce token the client returns on verification.
	Token string

	IssuedAt  time.Time
	ExpiresAt time.Time

	// Claim is the canonicalized identity the nonce was issued for.
	Claim identity.Claim

	// Message is the canonical message the client must sign.
	Message string
}

// NonceClaims is the payload of a nonce token.
type NonceClaims struct {
	// JTI identifies the nonce for single-use tracking.
	JTI           string `json:"jti"`
	Nonce         string `json:"nonce"`
	Address       string `json:"address"`
	AgentID       uint64 `json:"agentId"`
	AgentRegistry string `json:"agentRegistry"`
	IssuedAt      int64  `json:"iat"`
	Expiry        int64  `json:"exp"`
}

// Claim returns the identity the token was issued for.
func (c *NonceClaims) Claim() (identity.Claim, error) {
	return identity.NewClaim(c.Address, c.AgentID, c.AgentRegistry)
}

// IssuedAtTime returns the issuance time.
func (c *NonceClaims) IssuedAtTime() time.Time {
	return time.Unix(c.IssuedAt, 0).UTC()
}

// ExpiresAt returns the expiry time.
func (c *NonceClaims) ExpiresAt() time.Time {
	return time.Unix(c.Expiry, 0).UTC()
}

// NonceIssuer binds fresh nonces to registered agent identities.
type NonceIssuer struct {
	cfg    Config
	codec  *tokenCodec
	oracle registry.Oracle
}

// NewNonceIssuer creates a nonce issuer. A missing secret is not an error
// here; IssueNonce reports it as SERVER_MISCONFIGURED.
func NewNonceIssuer(cfg Config, oracle registry.Oracle) *NonceIssuer {
	cfg = cfg.withDefaults()
	codec, _ := newTokenCodec(cfg.Secret, TypeNonce)
	return &NonceIssuer{
		cfg:    cfg,
		codec:  codec,
		oracle: registry.WithTimeout(oracle, cfg.OracleTimeout),
	}
}

// IssueNonce validates the request, confirms the identity onchain and issues
// a signed nonce token. Malformed requests never reach the oracle.
func (n *NonceIssuer) IssueNonce(ctx context.Context, req NonceRequest) (*IssuedNonce, error) {
	if n.codec == nil {
		return nil, ErrServerMisconfigured
	}

	claim, err := n.validate(req)
	if err != nil {
		return nil, err
	}

	if _, err := n.oracle.Lookup(ctx, claim, registry.LookupOptions{}); err != nil {
		return nil, oracleError(err)
	}

	nonce, err := GenerateNonce()
	if err != nil {
		return nil, err
	}

	now := n.cfg.Now().UTC().Truncate(time.Second)
	claims := &NonceClaims{
		JTI:           uuid.NewString(),
		Nonce:         nonce,
		Address:       claim.Address,
		AgentID:       claim.AgentID,
		AgentRegistry: claim.AgentRegistry.String(),
		IssuedAt:      now.Unix(),
		Expiry:        now.Add(n.cfg.NonceTTL).Unix(),
	}

	token, err := n.codec.sign(claims)
	if err != nil {
		return nil, WrapError(ErrCodeServerMisconfigured, "failed to sign nonce token", err)
	}

	return &IssuedNonce{
		Nonce:     nonce,
		Token:     token,
		IssuedAt:  claims.IssuedAtTime(),
		ExpiresAt: claims.ExpiresAt(),
		Claim:     claim,
		Message:   expectedMessage(n.cfg, claims).String(),
	}, nil
}

func (n *NonceIssuer) validate(req NonceRequest) (identity.Claim, error) {
	address := strings.TrimSpace(req.Address)
	if address == "" {
		return identity.Claim{}, NewError(ErrCodeMissingField, "address is required")
	}
	if err := identity.ValidateAddress(address); err != nil {
		return identity.Claim{}, WrapError(ErrCodeInvalidAddress, "address is not a valid account address", err)
	}
	if req.AgentID == nil {
		return identity.Claim{}, NewError(ErrCodeMissingField, "agentId is required")
	}
	if strings.TrimSpace(req.AgentRegistry) == "" {
		return identity.Claim{}, NewError(ErrCodeMissingField, "agentRegistry is required")
	}

	claim, err := identity.NewClaim(address, *req.AgentID, strings.TrimSpace(req.AgentRegistry))
	if err != nil {
		return identity.Claim{}, WrapError(ErrCodeInvalidRegistry, "agentRegistry must be namespace:chainId:contractAddress", err)
	}

	if !n.cfg.AllowedRegistry.IsZero() && !n.cfg.AllowedRegistry.Equal(claim.AgentRegistry) {
		return identity.Claim{}, NewError(ErrCodeUnsupportedRegistry, fmt.Sprintf("agent registry %s is not served by this server", claim.AgentRegistry))
	}
	return claim, nil
}

// GenerateNonce creates a cryptographically secure random nonce, hex encoded.
func GenerateNonce() (string, error) {
	b := make([]byte, NonceSize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// expectedMessage rebuilds the canonical message for a nonce token.
func expectedMessage(cfg Config, claims *NonceClaims) Message {
	ref, _ := identity.ParseRegistryRef(claims.AgentRegistry)
	return Message{
		Domain:         cfg.Domain,
		Address:        claims.Address,
		Statement:      cfg.Statement,
		URI:            cfg.URI,
		Version:        MessageVersion,
		AgentID:        claims.AgentID,
		AgentRegistry:  claims.AgentRegistry,
		ChainID:        ref.ChainID,
		Nonce:          claims.Nonce,
		IssuedAt:       claims.IssuedAtTime(),
		ExpirationTime: claims.ExpiresAt(),
	}
}

// oracleError maps an oracle failure to a coded error. Causes stay server side.
func oracleError(err error) *Error {
	switch {
	case registry.IsNotRegistered(err):
		return WrapError(ErrCodeNotRegistered, "agent is not registered onchain", err)
	case errors.Is(err, registry.ErrUnsupportedChain):
		return WrapError(ErrCodeUnsupportedRegistry, "agent registry chain is not served by this server", err)
	default:
		return WrapError(ErrCodeOracleUnavailable, "registration oracle is unavailable", err)
	}
}

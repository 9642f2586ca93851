package siwa

import (
	"context"
	"strings"

	"github.com/agentrep/siwa-core/pkg/identity"
	"github.com/agentrep/siwa-core/pkg/registry"
)

// VerifyRequest is a signed sign-in message presented with its nonce token.
type VerifyRequest struct {
	Message    string
	Signature  string
	NonceToken string
}

// Policy is the trust bar applied after the signature is proven.
type Policy struct {
	// MustBeActive requires the agent's registration file not to mark it inactive.
	MustBeActive bool

	// MinScore is the minimum reputation score (0-100). Zero skips the reputation read.
	MinScore float64
}

// VerificationResult is the outcome of a verification attempt.
type VerificationResult struct {
	// Valid is true when the signature, nonce and registration checks passed.
	Valid bool

	// Verified is true when Valid and the policy was met.
	Verified bool

	// Claim is the identity bound to the nonce token, when it could be decoded.
	Claim identity.Claim

	// Active is the resolved active flag (true when not requested).
	Active bool

	// Score is the resolved reputation score (0 when not requested).
	Score float64

	// NonceID is the jti of the consumed nonce.
	NonceID string

	// Code and Error describe the failure when Valid is false, or the unmet
	// policy when Valid is true and Verified is false.
	Code  string
	Error string
}

// Verifier checks signed sign-in messages against their nonce tokens.
type Verifier struct {
	cfg    Config
	codec  *tokenCodec
	oracle registry.Oracle
	replay ReplayStore

	// owned is set when the verifier created its own replay store.
	owned *MemoryReplayStore
}

// NewVerifier creates a verifier. A nil replay store gets an in-memory one,
// released by Close.
func NewVerifier(cfg Config, oracle registry.Oracle, replay ReplayStore) *Verifier {
	cfg = cfg.withDefaults()
	codec, _ := newTokenCodec(cfg.Secret, TypeNonce)
	v := &Verifier{
		cfg:    cfg,
		codec:  codec,
		oracle: registry.WithTimeout(oracle, cfg.OracleTimeout),
		replay: replay,
	}
	if replay == nil {
		v.owned = NewMemoryReplayStore(nil)
		v.replay = v.owned
	}
	return v
}

// Close stops the replay store created by NewVerifier. A store passed in by
// the caller is left open.
func (v *Verifier) Close() error {
	if v.owned == nil {
		return nil
	}
	return v.owned.Close()
}

// Verify runs the verification flow. Any failing step short-circuits: the
// returned result has Valid=false and err is the coded *Error. A policy
// failure is not an error: the result is Valid with Verified=false.
func (v *Verifier) Verify(ctx context.Context, req VerifyRequest, policy Policy) (*VerificationResult, error) {
	result := &VerificationResult{}
	fail := func(err *Error) (*VerificationResult, error) {
		result.Valid = false
		result.Verified = false
		result.Code = err.Code
		result.Error = err.Message
		return result, err
	}

	if v.codec == nil {
		return fail(ErrServerMisconfigured)
	}
	if req.Message == "" || req.Signature == "" {
		return fail(NewError(ErrCodeVerificationFailed, "message and signature are required"))
	}
	if req.NonceToken == "" {
		return fail(NewError(ErrCodeInvalidNonce, "nonceToken is required"))
	}

	// Step 1: Open the nonce token
	var claims NonceClaims
	if err := v.codec.open(req.NonceToken, &claims); err != nil {
		return fail(WrapError(ErrCodeInvalidNonce, "nonce token is invalid", err))
	}
	claim, err := claims.Claim()
	if err != nil || claims.JTI == "" || claims.Nonce == "" || claims.Expiry == 0 {
		return fail(WrapError(ErrCodeInvalidNonce, "nonce token claims are invalid", err))
	}
	result.Claim = claim
	result.NonceID = claims.JTI

	now := v.cfg.Now()
	if now.After(claims.ExpiresAt()) {
		return fail(NewError(ErrCodeNonceExpired, "nonce token has expired"))
	}

	// Step 2: Compare against the canonical message
	expected := expectedMessage(v.cfg, &claims)
	if req.Message != expected.String() {
		return fail(classifyMismatch(req.Message, expected))
	}

	// Step 3: Recover the signer
	signer, err := RecoverAddress(req.Message, req.Signature)
	if err != nil {
		return fail(WrapError(ErrCodeVerificationFailed, "signature verification failed", err))
	}
	if !identity.SameAddress(signer, claim.Address) {
		return fail(NewError(ErrCodeAddressMismatch, "signer does not match the claimed address"))
	}

	// Step 4: Consume the nonce
	first, err := v.replay.Consume(ctx, claims.JTI, claims.ExpiresAt())
	if err != nil {
		return fail(WrapError(ErrCodeReplayUnavailable, "nonce replay check is unavailable", err))
	}
	if !first {
		return fail(NewError(ErrCodeNonceReplayed, "nonce has already been used"))
	}

	// Step 5: Re-check registration
	opts := registry.LookupOptions{
		Activity:   policy.MustBeActive,
		Reputation: policy.MinScore > 0,
	}
	record, err := v.oracle.Lookup(ctx, claim, opts)
	if err != nil {
		return fail(oracleError(err))
	}

	// Step 6: Apply policy
	result.Valid = true
	result.Active = record.IsActive()
	result.Score = record.ScoreValue()
	result.Verified = (!policy.MustBeActive || result.Active) && result.Score >= policy.MinScore
	if !result.Verified {
		result.Code = ErrCodePolicyUnmet
		result.Error = policyReason(policy, result)
	}
	return result, nil
}

func classifyMismatch(presented string, expected Message) *Error {
	parsed, err := ParseMessage(presented)
	if err != nil {
		return WrapError(ErrCodeMessageMismatch, "message does not match the issued nonce", err)
	}
	if parsed.Domain != expected.Domain {
		return NewError(ErrCodeDomainMismatch, "message was signed for another domain")
	}
	if !identity.SameAddress(strings.TrimSpace(parsed.Address), expected.Address) {
		return NewError(ErrCodeAddressMismatch, "message address does not match the nonce")
	}
	return NewError(ErrCodeMessageMismatch, "message does not match the issued nonce")
}

func policyReason(policy Policy, result *VerificationResult) string {
	if policy.MustBeActive && !result.Active {
		return "agent is marked inactive"
	}
	return "agent reputation is below the required score"
}

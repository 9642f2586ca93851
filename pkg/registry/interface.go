// Package registry implements the onchain registration oracle used by
// Sign-In-With-Agent. An Oracle answers whether an (address, agentId, agentRegistry)
// claim is a registered identity, and optionally whether it is active and what its
// reputation score is.
package registry

import (
	"context"
	"errors"

	"github.com/agentrep/siwa-core/pkg/identity"
)

// Common errors returned by this package.
// Any other error returned by an Oracle means the oracle is unavailable.
var (
	// ErrNotRegistered is returned when the agent id has no owner on the registry,
	// or when its owner is not the claimed address.
	ErrNotRegistered = errors.New("agent is not registered")

	// ErrUnsupportedChain is returned when no oracle is configured for the claim's chain.
	ErrUnsupportedChain = errors.New("no oracle configured for chain")
)

// Oracle is a read-only accessor over onchain registration state.
type Oracle interface {
	// Lookup resolves the onchain record for a claim.
	// Returns ErrNotRegistered if the claim is not a registered identity.
	Lookup(ctx context.Context, claim identity.Claim, opts LookupOptions) (*AgentRecord, error)
}

// LookupOptions selects the optional reads performed by Lookup.
type LookupOptions struct {
	// Activity resolves the agent's active flag from its registration file.
	Activity bool

	// Reputation resolves the agent's reputation score.
	Reputation bool
}

// AgentRecord is the onchain state of a registered agent.
type AgentRecord struct {
	// Owner is the lowercase owner address of the agent id.
	Owner string `json:"owner"`

	// TokenURI is the registration file URI, when it was read.
	TokenURI string `json:"tokenUri,omitempty"`

	// Active is set when LookupOptions.Activity was requested.
	Active *bool `json:"active,omitempty"`

	// Score is set when LookupOptions.Reputation was requested (0-100).
	Score *float64 `json:"score,omitempty"`
}

// IsActive returns true unless the record was resolved as inactive.
func (r *AgentRecord) IsActive() bool {
	return r.Active == nil || *r.Active
}

// ScoreValue returns the resolved score, or 0 when it was not resolved.
func (r *AgentRecord) ScoreValue() float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// IsNotRegistered reports whether err means the claim is not registered.
func IsNotRegistered(err error) bool {
	return errors.Is(err, ErrNotRegistered)
}

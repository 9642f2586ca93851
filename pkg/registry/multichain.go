package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/agentrep/siwa-core/pkg/identity"
)

// MultiChainRegistry dispatches lookups to a per-chain Oracle.
type MultiChainRegistry struct {
	chains map[uint64]Oracle
}

// NewMultiChainRegistry creates an empty MultiChainRegistry.
func NewMultiChainRegistry() *MultiChainRegistry {
	return &MultiChainRegistry{chains: make(map[uint64]Oracle)}
}

// Add registers the oracle serving chainID. Not safe for use concurrently with Lookup;
// register all chains before serving.
func (m *MultiChainRegistry) Add(chainID uint64, oracle Oracle) {
	m.chains[chainID] = oracle
}

// Chains returns the number of configured chains.
func (m *MultiChainRegistry) Chains() int {
	return len(m.chains)
}

// Lookup implements Oracle.
func (m *MultiChainRegistry) Lookup(ctx context.Context, claim identity.Claim, opts LookupOptions) (*AgentRecord, error) {
	oracle, ok := m.chains[claim.ChainID()]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, claim.ChainID())
	}
	return oracle.Lookup(ctx, claim, opts)
}

type timeoutOracle struct {
	next    Oracle
	timeout time.Duration
}

// WithTimeout bounds every Lookup on oracle to d. A non-positive d returns oracle unchanged.
func WithTimeout(oracle Oracle, d time.Duration) Oracle {
	if d <= 0 {
		return oracle
	}
	return &timeoutOracle{next: oracle, timeout: d}
}

func (o *timeoutOracle) Lookup(ctx context.Context, claim identity.Claim, opts LookupOptions) (*AgentRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	return o.next.Lookup(ctx, claim, opts)
}

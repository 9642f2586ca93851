package identity

import (
	"fmt"
	"strconv"
	"strings"
)

// NamespaceEIP155 is the CAIP-2 namespace for EVM chains.
const NamespaceEIP155 = "eip155"

// RegistryRef identifies the onchain registry contract that governs an agent id.
//
// Format: <namespace>:<chainId>:<contractAddress>
// Example: eip155:2741:0x8004a169fb4a3325136eb29fa0ceb6d2e539a432
type RegistryRef struct {
	// Namespace is the chain namespace (only "eip155" is supported).
	Namespace string

	// ChainID is the numeric chain id within the namespace.
	ChainID uint64

	// Address is the registry contract address, lowercase.
	Address string
}

// ParseRegistryRef parses a namespace:chainId:contractAddress reference.
//
// Returns ErrInvalidRegistry if the format is invalid.
func ParseRegistryRef(s string) (RegistryRef, error) {
	if s == "" {
		return RegistryRef{}, fmt.Errorf("%w: empty reference", ErrInvalidRegistry)
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return RegistryRef{}, fmt.Errorf("%w: expected namespace:chainId:address, got %d parts", ErrInvalidRegistry, len(parts))
	}

	if parts[0] != NamespaceEIP155 {
		return RegistryRef{}, fmt.Errorf("%w: unsupported namespace %q", ErrInvalidRegistry, parts[0])
	}

	chainID, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil || chainID == 0 {
		return RegistryRef{}, fmt.Errorf("%w: invalid chain id %q", ErrInvalidRegistry, parts[1])
	}

	addr, err := NormalizeAddress(parts[2])
	if err != nil {
		return RegistryRef{}, fmt.Errorf("%w: contract address: %v", ErrInvalidRegistry, err)
	}

	return RegistryRef{
		Namespace: parts[0],
		ChainID:   chainID,
		Address:   addr,
	}, nil
}

// String renders the canonical form of the reference.
func (r RegistryRef) String() string {
	return fmt.Sprintf("%s:%d:%s", r.Namespace, r.ChainID, r.Address)
}

// Equal reports whether r and other name the same registry contract.
func (r RegistryRef) Equal(other RegistryRef) bool {
	return r.Namespace == other.Namespace && r.ChainID == other.ChainID && r.Address == other.Address
}

// IsZero reports whether r is the zero reference.
func (r RegistryRef) IsZero() bool {
	return r == RegistryRef{}
}

// Claim is the tuple identifying which registered agent identity is being
// authenticated. A claim is only meaningful relative to its registry.
type Claim struct {
	Address       string
	AgentID       uint64
	AgentRegistry RegistryRef
}

// NewClaim validates and canonicalizes a claim.
func NewClaim(address string, agentID uint64, agentRegistry string) (Claim, error) {
	addr, err := NormalizeAddress(address)
	if err != nil {
		return Claim{}, err
	}
	ref, err := ParseRegistryRef(agentRegistry)
	if err != nil {
		return Claim{}, err
	}
	return Claim{Address: addr, AgentID: agentID, AgentRegistry: ref}, nil
}

// ChainID returns the chain id of the claim's registry.
func (c Claim) ChainID() uint64 {
	return c.AgentRegistry.ChainID
}

// Key returns a stable identifier for the claim, unique across registries.
func (c Claim) Key() string {
	return fmt.Sprintf("%s#%d@%s", c.Address, c.AgentID, c.AgentRegistry)
}

package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"

	"github.com/agentrep/siwa-core/pkg/identity"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// IdentityRegistryABI is the subset of the ERC-8004 identity registry (ERC-721) used here.
const IdentityRegistryABI = `[
  {"type":"function","name":"ownerOf","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view",
   "inputs":[{"name":"tokenId","type":"uint256"}],
   "outputs":[{"name":"","type":"string"}]}
]`

// ReputationRegistryABI is the subset of the ERC-8004 reputation registry used here.
const ReputationRegistryABI = `[
  {"type":"function","name":"getSummary","stateMutability":"view",
   "inputs":[{"name":"agentId","type":"uint256"},{"name":"clientAddresses","type":"address[]"},
             {"name":"tag1","type":"bytes32"},{"name":"tag2","type":"bytes32"}],
   "outputs":[{"name":"count","type":"uint64"},{"name":"averageScore","type":"uint8"}]}
]`

var (
	identityABI   = mustParseABI(IdentityRegistryABI)
	reputationABI = mustParseABI(ReputationRegistryABI)
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("registry: invalid ABI: %v", err))
	}
	return parsed
}

// ContractCaller performs read-only contract calls.
// It is satisfied by *ethclient.Client.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// EthereumConfig configures an EthereumRegistry.
type EthereumConfig struct {
	// ChainID is the chain this registry serves.
	ChainID uint64

	// ReputationRegistry is the optional reputation registry contract address.
	ReputationRegistry string

	// Metadata resolves registration files for activity checks.
	// If nil, a default fetcher is used.
	Metadata *MetadataFetcher
}

// EthereumRegistry implements Oracle against ERC-8004 registries on one EVM chain.
type EthereumRegistry struct {
	caller     ContractCaller
	chainID    uint64
	reputation *common.Address
	metadata   *MetadataFetcher
}

// NewEthereumRegistry creates an EthereumRegistry on top of a contract caller.
func NewEthereumRegistry(caller ContractCaller, cfg EthereumConfig) (*EthereumRegistry, error) {
	if caller == nil {
		return nil, errors.New("contract caller is required")
	}
	if cfg.ChainID == 0 {
		return nil, errors.New("chain id is required")
	}

	r := &EthereumRegistry{
		caller:   caller,
		chainID:  cfg.ChainID,
		metadata: cfg.Metadata,
	}
	if r.metadata == nil {
		r.metadata = NewMetadataFetcher("")
	}
	if cfg.ReputationRegistry != "" {
		if err := identity.ValidateAddress(cfg.ReputationRegistry); err != nil {
			return nil, fmt.Errorf("reputation registry: %w", err)
		}
		addr := common.HexToAddress(cfg.ReputationRegistry)
		r.reputation = &addr
	}
	return r, nil
}

// DialEthereumRegistry connects to a JSON-RPC endpoint and checks that it serves the
// expected chain. The returned close function releases the connection.
func DialEthereumRegistry(ctx context.Context, rpcURL string, cfg EthereumConfig) (*EthereumRegistry, func(), error) {
	cli, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("rpc dial: %w", err)
	}

	chainID, err := cli.ChainID(ctx)
	if err != nil {
		cli.Close()
		return nil, nil, fmt.Errorf("chain id: %w", err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		cli.Close()
		return nil, nil, fmt.Errorf("rpc %s serves chain %s, expected %d", rpcURL, chainID, cfg.ChainID)
	}
	cfg.ChainID = chainID.Uint64()

	r, err := NewEthereumRegistry(cli, cfg)
	if err != nil {
		cli.Close()
		return nil, nil, err
	}
	if r.reputation == nil {
		log.Printf("[registry] chain %d: no reputation registry configured, scores resolve to 0", cfg.ChainID)
	}
	return r, cli.Close, nil
}

// ChainID returns the chain served by this registry.
func (r *EthereumRegistry) ChainID() uint64 {
	return r.chainID
}

// Lookup implements Oracle.
func (r *EthereumRegistry) Lookup(ctx context.Context, claim identity.Claim, opts LookupOptions) (*AgentRecord, error) {
	if claim.ChainID() != r.chainID {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChain, claim.ChainID())
	}

	registryAddr := common.HexToAddress(claim.AgentRegistry.Address)
	tokenID := new(big.Int).SetUint64(claim.AgentID)

	// 1. Ownership
	out, err := r.call(ctx, identityABI, registryAddr, "ownerOf", tokenID)
	if err != nil {
		if isRevert(err) {
			return nil, fmt.Errorf("%w: agent %d does not exist on %s", ErrNotRegistered, claim.AgentID, claim.AgentRegistry)
		}
		return nil, fmt.Errorf("ownerOf: %w", err)
	}
	owner, ok := out[0].(common.Address)
	if !ok {
		return nil, fmt.Errorf("ownerOf: unexpected output type %T", out[0])
	}
	if owner == (common.Address{}) {
		return nil, fmt.Errorf("%w: agent %d has no owner", ErrNotRegistered, claim.AgentID)
	}
	ownerHex := strings.ToLower(owner.Hex())
	if !identity.SameAddress(ownerHex, claim.Address) {
		return nil, fmt.Errorf("%w: agent %d is owned by another account", ErrNotRegistered, claim.AgentID)
	}

	record := &AgentRecord{Owner: ownerHex}

	// 2. Activity from the registration file
	if opts.Activity {
		out, err := r.call(ctx, identityABI, registryAddr, "tokenURI", tokenID)
		if err != nil {
			return nil, fmt.Errorf("tokenURI: %w", err)
		}
		uri, _ := out[0].(string)
		record.TokenURI = uri

		// Without a registration file there is no active flag, which reads as active.
		active := true
		if uri != "" {
			reg, err := r.metadata.Fetch(ctx, uri)
			if err != nil {
				return nil, fmt.Errorf("registration file: %w", err)
			}
			active = reg.IsActive()
		}
		record.Active = &active
	}

	// 3. Reputation
	if opts.Reputation {
		score := 0.0
		if r.reputation != nil {
			out, err := r.call(ctx, reputationABI, *r.reputation, "getSummary",
				tokenID, []common.Address{}, [32]byte{}, [32]byte{})
			if err != nil {
				return nil, fmt.Errorf("getSummary: %w", err)
			}
			count, _ := out[0].(uint64)
			avg, _ := out[1].(uint8)
			if count > 0 {
				score = float64(avg)
			}
		}
		record.Score = &score
	}

	return record, nil
}

func (r *EthereumRegistry) call(ctx context.Context, contract abi.ABI, to common.Address, method string, args ...interface{}) ([]interface{}, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack call: %w", err)
	}

	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty result from %s (no contract code?)", to.Hex())
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack result: %w", err)
	}
	if len(out) == 0 {
		return nil, errors.New("empty result")
	}
	return out, nil
}

// isRevert reports whether err is an EVM execution revert (JSON-RPC error code 3
// or the standard "execution reverted" message).
func isRevert(err error) bool {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == 3 {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

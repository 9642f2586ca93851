// Package config loads the siwa server configuration from the environment.
package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agentrep/siwa-core/pkg/identity"
	"github.com/agentrep/siwa-core/pkg/registry"
	"github.com/agentrep/siwa-core/pkg/siwa"
)

// Environment variable names.
const (
	EnvSecret               = "SIWA_SECRET"
	EnvDomain               = "SIWA_DOMAIN"
	EnvURI                  = "SIWA_URI"
	EnvStatement            = "SIWA_STATEMENT"
	EnvRegistry             = "SIWA_REGISTRY"
	EnvRPCURLs              = "SIWA_RPC_URLS"
	EnvReputationRegistries = "SIWA_REPUTATION_REGISTRIES"
	EnvAgentsFile           = "SIWA_AGENTS_FILE"
	EnvIPFSGateway          = "SIWA_IPFS_GATEWAY"
	EnvNonceTTL             = "SIWA_NONCE_TTL"
	EnvReceiptTTL           = "SIWA_RECEIPT_TTL"
	EnvOracleTimeout        = "SIWA_ORACLE_TIMEOUT"
	EnvRequireActive        = "SIWA_REQUIRE_ACTIVE"
	EnvMinScore             = "SIWA_MIN_SCORE"
	EnvAllowUnverified      = "SIWA_ALLOW_UNVERIFIED"
	EnvRedisURL             = "SIWA_REDIS_URL"
	EnvAddr                 = "SIWA_ADDR"
	EnvGRPCAddr             = "SIWA_GRPC_ADDR"
	EnvCORSOrigins          = "SIWA_CORS_ORIGINS"
)

// Defaults for optional settings.
const (
	DefaultAddr   = ":8080"
	DefaultDomain = "localhost:8080"
	DefaultURI    = "http://localhost:8080"
)

// Config is the full server configuration.
type Config struct {
	// Secret keys nonce tokens and receipts. When empty the server still
	// starts, but /nonce and /verify answer 500.
	Secret string

	Domain    string
	URI       string
	Statement string

	// Registry is the only agent registry accepted, as namespace:chainId:address.
	// Empty accepts any registry a configured oracle serves.
	Registry string

	// RPCURLs maps chain ids to JSON-RPC endpoints for the onchain oracle.
	RPCURLs map[uint64]string

	// ReputationRegistries maps chain ids to reputation registry contracts.
	ReputationRegistries map[uint64]string

	// AgentsFile selects the local file oracle instead of JSON-RPC.
	AgentsFile string

	IPFSGateway string

	NonceTTL      time.Duration
	ReceiptTTL    time.Duration
	OracleTimeout time.Duration

	RequireActive   bool
	MinScore        float64
	AllowUnverified bool

	// RedisURL selects the shared replay store. Empty uses process memory.
	RedisURL string

	Addr     string
	GRPCAddr string

	CORSOrigins []string
}

// Default returns a configuration with every optional value set.
func Default() *Config {
	return &Config{
		Domain:               DefaultDomain,
		URI:                  DefaultURI,
		RPCURLs:              map[uint64]string{},
		ReputationRegistries: map[uint64]string{},
		IPFSGateway:          registry.DefaultIPFSGateway,
		NonceTTL:             siwa.DefaultNonceTTL,
		ReceiptTTL:           siwa.DefaultReceiptTTL,
		OracleTimeout:        siwa.DefaultOracleTimeout,
		Addr:                 DefaultAddr,
	}
}

// FromEnv loads the configuration from the process environment.
func FromEnv() (*Config, error) {
	return Load(os.Getenv)
}

// Load builds a configuration from getenv on top of Default.
func Load(getenv func(string) string) (*Config, error) {
	c := Default()

	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str(EnvDomain, &c.Domain)
	str(EnvURI, &c.URI)
	str(EnvRegistry, &c.Registry)
	str(EnvAgentsFile, &c.AgentsFile)
	str(EnvIPFSGateway, &c.IPFSGateway)
	str(EnvRedisURL, &c.RedisURL)
	str(EnvAddr, &c.Addr)
	str(EnvGRPCAddr, &c.GRPCAddr)

	// The secret and statement are used verbatim.
	c.Secret = getenv(EnvSecret)
	c.Statement = getenv(EnvStatement)

	var err error
	if c.RPCURLs, err = parseChainMap(EnvRPCURLs, getenv(EnvRPCURLs)); err != nil {
		return nil, err
	}
	if c.ReputationRegistries, err = parseChainMap(EnvReputationRegistries, getenv(EnvReputationRegistries)); err != nil {
		return nil, err
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{EnvNonceTTL, &c.NonceTTL},
		{EnvReceiptTTL, &c.ReceiptTTL},
		{EnvOracleTimeout, &c.OracleTimeout},
	}
	for _, d := range durations {
		if v := strings.TrimSpace(getenv(d.key)); v != "" {
			if *d.dst, err = time.ParseDuration(v); err != nil {
				return nil, fmt.Errorf("%s: %w", d.key, err)
			}
		}
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{EnvRequireActive, &c.RequireActive},
		{EnvAllowUnverified, &c.AllowUnverified},
	}
	for _, b := range bools {
		if v := strings.TrimSpace(getenv(b.key)); v != "" {
			if *b.dst, err = strconv.ParseBool(v); err != nil {
				return nil, fmt.Errorf("%s: %w", b.key, err)
			}
		}
	}

	if v := strings.TrimSpace(getenv(EnvMinScore)); v != "" {
		if c.MinScore, err = strconv.ParseFloat(v, 64); err != nil {
			return nil, fmt.Errorf("%s: %w", EnvMinScore, err)
		}
	}

	if v := strings.TrimSpace(getenv(EnvCORSOrigins)); v != "" {
		c.CORSOrigins = splitList(v)
	}

	return c, nil
}

// Validate checks the configuration for values the server cannot run with.
// A missing secret is not an error here.
func (c *Config) Validate() error {
	if c.Domain == "" {
		return fmt.Errorf("config: %s is required", EnvDomain)
	}
	if c.URI == "" {
		return fmt.Errorf("config: %s is required", EnvURI)
	}
	if strings.ContainsAny(c.Statement, "\r\n") {
		return fmt.Errorf("config: %s must be a single line", EnvStatement)
	}
	if c.Registry != "" {
		if _, err := identity.ParseRegistryRef(c.Registry); err != nil {
			return fmt.Errorf("config: %s: %w", EnvRegistry, err)
		}
	}
	if c.AgentsFile == "" && len(c.RPCURLs) == 0 {
		return fmt.Errorf("config: one of %s or %s is required", EnvAgentsFile, EnvRPCURLs)
	}
	for chainID, addr := range c.ReputationRegistries {
		if err := identity.ValidateAddress(addr); err != nil {
			return fmt.Errorf("config: %s: chain %d: %w", EnvReputationRegistries, chainID, err)
		}
		if c.AgentsFile == "" {
			if _, ok := c.RPCURLs[chainID]; !ok {
				return fmt.Errorf("config: %s: chain %d has no RPC URL", EnvReputationRegistries, chainID)
			}
		}
	}
	if c.NonceTTL <= 0 || c.ReceiptTTL <= 0 || c.OracleTimeout <= 0 {
		return fmt.Errorf("config: TTLs and timeouts must be positive")
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return fmt.Errorf("config: %s must be between 0 and 100", EnvMinScore)
	}
	return nil
}

// HasSecret reports whether the server secret is set.
func (c *Config) HasSecret() bool {
	return c.Secret != ""
}

// SIWA converts the configuration to the authentication core settings.
// Validate must have succeeded.
func (c *Config) SIWA() siwa.Config {
	var allowed identity.RegistryRef
	if c.Registry != "" {
		allowed, _ = identity.ParseRegistryRef(c.Registry)
	}
	return siwa.Config{
		Secret:          []byte(c.Secret),
		Domain:          c.Domain,
		URI:             c.URI,
		Statement:       c.Statement,
		AllowedRegistry: allowed,
		NonceTTL:        c.NonceTTL,
		ReceiptTTL:      c.ReceiptTTL,
		OracleTimeout:   c.OracleTimeout,
		AllowUnverified: c.AllowUnverified,
	}
}

// Policy returns the verification policy applied by /verify.
func (c *Config) Policy() siwa.Policy {
	return siwa.Policy{MustBeActive: c.RequireActive, MinScore: c.MinScore}
}

// Chains returns the chain ids with an RPC URL, sorted.
func (c *Config) Chains() []uint64 {
	ids := make([]uint64, 0, len(c.RPCURLs))
	for id := range c.RPCURLs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// parseChainMap parses "chainId=value,chainId=value".
func parseChainMap(key, s string) (map[uint64]string, error) {
	m := map[uint64]string{}
	for _, item := range splitList(s) {
		id, value, ok := strings.Cut(item, "=")
		if !ok || strings.TrimSpace(value) == "" {
			return nil, fmt.Errorf("%s: expected chainId=value, got %q", key, item)
		}
		chainID, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		if err != nil || chainID == 0 {
			return nil, fmt.Errorf("%s: invalid chain id %q", key, id)
		}
		if _, dup := m[chainID]; dup {
			return nil, fmt.Errorf("%s: duplicate chain id %d", key, chainID)
		}
		m[chainID] = strings.TrimSpace(value)
	}
	return m, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

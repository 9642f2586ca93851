package config

import (
	"testing"
	"time"

	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, DefaultDomain, c.Domain)
	assert.Equal(t, DefaultURI, c.URI)
	assert.Equal(t, DefaultAddr, c.Addr)
	assert.Equal(t, siwa.DefaultNonceTTL, c.NonceTTL)
	assert.Equal(t, siwa.DefaultReceiptTTL, c.ReceiptTTL)
	assert.Equal(t, siwa.DefaultOracleTimeout, c.OracleTimeout)
	assert.False(t, c.HasSecret())
	assert.Empty(t, c.RPCURLs)
}

func TestLoad_Full(t *testing.T) {
	c, err := Load(envMap(map[string]string{
		EnvSecret:               "s3cret",
		EnvDomain:               "api.example.com",
		EnvURI:                  "https://api.example.com",
		EnvStatement:            "Welcome, agent.",
		EnvRegistry:             "eip155:8453:0x8004a169fb4a3325136eb29fa0ceb6d2e539a432",
		EnvRPCURLs:              "8453=https://mainnet.base.org, 84532=https://sepolia.base.org",
		EnvReputationRegistries: "8453=0x8004b269fb4a3325136eb29fa0ceb6d2e539a432",
		EnvNonceTTL:             "2m",
		EnvReceiptTTL:           "1h",
		EnvOracleTimeout:        "3s",
		EnvRequireActive:        "true",
		EnvMinScore:             "60",
		EnvAllowUnverified:      "1",
		EnvRedisURL:             "redis://localhost:6379/0",
		EnvAddr:                 ":9000",
		EnvCORSOrigins:          "https://a.example.com, https://b.example.com",
	}))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	assert.True(t, c.HasSecret())
	assert.Equal(t, map[uint64]string{8453: "https://mainnet.base.org", 84532: "https://sepolia.base.org"}, c.RPCURLs)
	assert.Equal(t, []uint64{8453, 84532}, c.Chains())
	assert.Equal(t, 2*time.Minute, c.NonceTTL)
	assert.Equal(t, time.Hour, c.ReceiptTTL)
	assert.Equal(t, 3*time.Second, c.OracleTimeout)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, c.CORSOrigins)

	sc := c.SIWA()
	assert.Equal(t, []byte("s3cret"), sc.Secret)
	assert.Equal(t, "Welcome, agent.", sc.Statement)
	assert.Equal(t, uint64(8453), sc.AllowedRegistry.ChainID)
	assert.True(t, sc.AllowUnverified)

	assert.Equal(t, siwa.Policy{MustBeActive: true, MinScore: 60}, c.Policy())
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad rpc entry", map[string]string{EnvRPCURLs: "8453"}},
		{"bad chain id", map[string]string{EnvRPCURLs: "base=https://mainnet.base.org"}},
		{"zero chain id", map[string]string{EnvRPCURLs: "0=https://x"}},
		{"duplicate chain", map[string]string{EnvRPCURLs: "1=https://a,1=https://b"}},
		{"bad duration", map[string]string{EnvNonceTTL: "five minutes"}},
		{"bad bool", map[string]string{EnvRequireActive: "yes please"}},
		{"bad score", map[string]string{EnvMinScore: "high"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		c := Default()
		c.AgentsFile = "agents.json"
		return c
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no oracle", func(c *Config) { c.AgentsFile = "" }},
		{"bad registry", func(c *Config) { c.Registry = "eip155:x:0x1" }},
		{"multi-line statement", func(c *Config) { c.Statement = "a\nb" }},
		{"empty domain", func(c *Config) { c.Domain = "" }},
		{"negative ttl", func(c *Config) { c.NonceTTL = -time.Second }},
		{"score out of range", func(c *Config) { c.MinScore = 101 }},
		{"bad reputation address", func(c *Config) { c.ReputationRegistries = map[uint64]string{1: "0x12"} }},
		{"reputation without rpc", func(c *Config) {
			c.AgentsFile = ""
			c.RPCURLs = map[uint64]string{1: "https://eth.example.com"}
			c.ReputationRegistries = map[uint64]string{10: "0x8004b269fb4a3325136eb29fa0ceb6d2e539a432"}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidate_MissingSecretIsAllowed(t *testing.T) {
	c := Default()
	c.AgentsFile = "agents.json"
	c.Secret = ""
	assert.NoError(t, c.Validate())
	assert.False(t, c.HasSecret())
}

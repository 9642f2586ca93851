package main

import (
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

// EnvAgentKey holds the agent's hex private key for client commands.
const EnvAgentKey = "SIWA_AGENT_KEY"

var (
	keyOutPrivate string
	agentKeyHex   string
)

var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Manage agent account keys",
}

var keyGenCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate a new secp256k1 agent account key",
	Long: `Generate a new secp256k1 key for an agent account.

The private key is written hex encoded (0600) and the account address is
printed. Register the address as the owner of an agent id before signing in.`,
	Example: `  siwa key gen --out-priv agent.key`,
	RunE: func(_ *cobra.Command, _ []string) error {
		key, err := crypto.GenerateKey()
		if err != nil {
			return fmt.Errorf("failed to generate key: %w", err)
		}

		privHex := hex.EncodeToString(crypto.FromECDSA(key))
		if err := os.WriteFile(keyOutPrivate, []byte(privHex+"\n"), 0600); err != nil {
			return fmt.Errorf("failed to write private key: %w", err)
		}

		fmt.Printf("✅ Private key saved to %s\n", keyOutPrivate)
		fmt.Printf("Address: %s\n", crypto.PubkeyToAddress(key.PublicKey).Hex())
		return nil
	},
}

// loadAgentKey reads the key from --key, which is a hex string or a file
// containing one, falling back to SIWA_AGENT_KEY.
func loadAgentKey() (*ecdsa.PrivateKey, error) {
	value := agentKeyHex
	if value == "" {
		value = os.Getenv(EnvAgentKey)
	}
	if value == "" {
		return nil, fmt.Errorf("agent key is required (--key or %s)", EnvAgentKey)
	}

	if data, err := os.ReadFile(value); err == nil {
		value = string(data)
	}
	value = strings.TrimPrefix(strings.TrimSpace(value), "0x")

	key, err := crypto.HexToECDSA(value)
	if err != nil {
		return nil, fmt.Errorf("invalid agent key: %w", err)
	}
	return key, nil
}

func init() {
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyGenCmd)

	keyGenCmd.Flags().StringVar(&keyOutPrivate, "out-priv", "agent.key", "Output path for the private key")
}

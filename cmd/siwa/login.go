package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/agentrep/siwa-core/internal/api"
	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/spf13/cobra"
)

var (
	loginServer   string
	loginAgentID  uint64
	loginRegistry string
	loginTimeout  time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to a SIWA server and print the receipt",
	Long: `Run the full Sign-In-With-Agent flow against a server: request a nonce for
the agent identity, sign the returned message with the agent key and exchange
the signature for a receipt. The receipt is printed on stdout.`,
	Example: `  siwa login --server https://api.example.com --key agent.key \
    --agent-id 42 --registry eip155:8453:0x8004a169fb4a3325136eb29fa0ceb6d2e539a432`,
	RunE: func(_ *cobra.Command, _ []string) error {
		key, err := loadAgentKey()
		if err != nil {
			return err
		}
		address, err := agentAddress()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		client := &http.Client{Timeout: loginTimeout}
		base := strings.TrimRight(loginServer, "/")

		// 1. Request Nonce
		var nonce api.NonceResponse
		err = postJSON(ctx, client, base+"/nonce", api.NonceRequest{
			Address:       address,
			AgentID:       api.AgentID{Value: loginAgentID, Set: true},
			AgentRegistry: loginRegistry,
		}, &nonce)
		if err != nil {
			return fmt.Errorf("nonce: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Nonce issued, expires %s\n", nonce.ExpirationTime)

		// 2. Sign
		sig, err := siwa.SignMessage(key, nonce.Message)
		if err != nil {
			return err
		}

		// 3. Verify
		var result api.VerifyResponse
		err = postJSON(ctx, client, base+"/verify", api.VerifyRequest{
			Message:    nonce.Message,
			Signature:  sig,
			NonceToken: nonce.NonceToken,
		}, &result)
		if err != nil {
			return fmt.Errorf("verify: %w", err)
		}

		fmt.Fprintf(os.Stderr, "✅ Authenticated (verified=%t), receipt expires %s\n", result.Verified, result.ReceiptExpiresAt)
		fmt.Println(result.Receipt)
		return nil
	},
}

// postJSON posts body and decodes a 200 response into out. Other statuses
// are returned as errors carrying the server's code and message.
func postJSON(ctx context.Context, client *http.Client, url string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr api.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil || apiErr.Code == "" {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		return fmt.Errorf("server returned %d %s: %s", resp.StatusCode, apiErr.Code, apiErr.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(loginCmd)

	loginCmd.Flags().StringVar(&loginServer, "server", "http://localhost:8080", "SIWA server base URL")
	loginCmd.Flags().StringVar(&agentKeyHex, "key", "", "Agent private key, hex or path to a file (env SIWA_AGENT_KEY)")
	loginCmd.Flags().Uint64Var(&loginAgentID, "agent-id", 0, "Agent id in the registry")
	loginCmd.Flags().StringVar(&loginRegistry, "registry", "", "Agent registry as namespace:chainId:address")
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 30*time.Second, "Overall timeout")
	_ = loginCmd.MarkFlagRequired("registry")
}

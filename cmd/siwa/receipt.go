package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/agentrep/siwa-core/internal/config"
	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/spf13/cobra"
)

var receiptCmd = &cobra.Command{
	Use:   "receipt",
	Short: "Inspect verification receipts",
}

var receiptVerifyCmd = &cobra.Command{
	Use:   "verify <receipt>",
	Short: "Verify a receipt and print its claims",
	Long: `Verify a receipt with SIWA_SECRET and SIWA_DOMAIN and print its claims.

Exits non-zero with the error code when the receipt is invalid or expired.`,
	Args: cobra.ExactArgs(1),
	RunE: func(_ *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		if !cfg.HasSecret() {
			return fmt.Errorf("%s is required to verify receipts", config.EnvSecret)
		}

		claims, err := siwa.NewReceiptIssuer(cfg.SIWA()).Verify(args[0])
		if err != nil {
			if siwaErr, ok := siwa.AsError(err); ok {
				return fmt.Errorf("❌ %s: %s", siwaErr.Code, siwaErr.Message)
			}
			return err
		}

		fmt.Fprintln(os.Stderr, "✅ Receipt is valid")
		return printJSON(claims)
	},
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	rootCmd.AddCommand(receiptCmd)
	receiptCmd.AddCommand(receiptVerifyCmd)
}

// Package main is the entry point for the siwa CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "siwa",
	Short: "Sign-In-With-Agent server and tools",
	Long: `Sign-In-With-Agent authenticates AI agents that control an onchain-registered
identity. Agents request a nonce, sign the returned message with their account
key, and exchange the signature for a short-lived receipt.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/agentrep/siwa-core/internal/config"
	"github.com/agentrep/siwa-core/pkg/gateway"
	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/spf13/cobra"
)

var (
	gatewayPort            int
	gatewayTarget          string
	gatewayRequireVerified bool
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Receipt-enforcing reverse proxy",
}

var gatewayStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the gateway server",
	Long: `Start a reverse proxy that forwards only requests carrying a valid SIWA receipt
(X-SIWA-Receipt or Authorization: Bearer). The verified identity is passed to the
upstream in X-Agent-Address, X-Agent-Id and X-Agent-Registry.

The gateway must share SIWA_SECRET and SIWA_DOMAIN with the issuing server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		if !cfg.HasSecret() {
			return fmt.Errorf("%s is required to verify receipts", config.EnvSecret)
		}

		receipts := siwa.NewReceiptIssuer(cfg.SIWA())
		gw, err := gateway.NewGateway(gatewayTarget, receipts, gateway.Options{RequireVerified: gatewayRequireVerified})
		if err != nil {
			return err
		}

		addr := fmt.Sprintf(":%d", gatewayPort)
		log.Printf("[gateway] listening on %s -> %s", addr, gw.Target())
		server := &http.Server{
			Addr:              addr,
			Handler:           gw,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		return server.ListenAndServe()
	},
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
	gatewayCmd.AddCommand(gatewayStartCmd)

	gatewayStartCmd.Flags().IntVar(&gatewayPort, "port", 8081, "Port to listen on")
	gatewayStartCmd.Flags().StringVar(&gatewayTarget, "target", "http://localhost:3000", "Upstream target URL")
	gatewayStartCmd.Flags().BoolVar(&gatewayRequireVerified, "require-verified", true, "Reject receipts issued for unverified agents")
}

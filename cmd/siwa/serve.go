package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentrep/siwa-core/internal/api"
	"github.com/agentrep/siwa-core/internal/config"
	"github.com/agentrep/siwa-core/internal/rpc"
	"github.com/agentrep/siwa-core/pkg/siwa"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

var (
	serveAddr       string
	serveGRPCAddr   string
	serveAgentsFile string
	serveRedisURL   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the SIWA HTTP server",
	Long: `Start the HTTP server exposing POST /nonce, POST /verify, GET /session and GET /healthz.

Configuration is read from SIWA_* environment variables; flags override them.
If SIWA_SECRET is not set the server still starts, but /nonce and /verify
answer 500 until it is configured.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "HTTP listen address (env SIWA_ADDR, default :8080)")
	serveCmd.Flags().StringVar(&serveGRPCAddr, "grpc-addr", "", "gRPC health listen address (env SIWA_GRPC_ADDR, disabled when empty)")
	serveCmd.Flags().StringVar(&serveAgentsFile, "agents-file", "", "Local agents JSON file used instead of JSON-RPC (env SIWA_AGENTS_FILE)")
	serveCmd.Flags().StringVar(&serveRedisURL, "redis-url", "", "Redis URL for the shared replay store (env SIWA_REDIS_URL)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Addr = serveAddr
	}
	if serveGRPCAddr != "" {
		cfg.GRPCAddr = serveGRPCAddr
	}
	if serveAgentsFile != "" {
		cfg.AgentsFile = serveAgentsFile
	}
	if serveRedisURL != "" {
		cfg.RedisURL = serveRedisURL
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Setup Oracle
	dialCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	oracle, closeOracle, err := buildOracle(dialCtx, cfg)
	cancel()
	if err != nil {
		return err
	}
	defer closeOracle()

	// 2. Setup Replay Store
	replay, closeReplay, err := buildReplayStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = closeReplay() }()

	// 3. Setup Service
	if !cfg.HasSecret() {
		log.Printf("[siwa] WARNING: %s is not set; /nonce and /verify will answer 500", config.EnvSecret)
	}
	service := siwa.NewService(cfg.SIWA(), oracle, replay)
	defer func() { _ = service.Close() }()
	server := api.NewServer(service, api.Options{
		Policy:         cfg.Policy(),
		CORSOrigins:    cfg.CORSOrigins,
		RequestTimeout: 30 * time.Second,
		AccessLog:      true,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      35 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 2)

	// 4. Optional gRPC health
	var grpcServer *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
		}
		grpcServer = grpc.NewServer()
		health := rpc.RegisterServices(grpcServer)
		rpc.SetServing(health, service.Configured())
		go func() {
			log.Printf("[siwa] gRPC health listening on tcp://%s", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				errCh <- fmt.Errorf("grpc: %w", err)
			}
		}()
	}

	// 5. Start Server
	go func() {
		log.Printf("[siwa] listening on %s (domain %s)", cfg.Addr, cfg.Domain)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("[siwa] shutting down...")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"

	"github.com/agentrep/siwa-core/internal/config"
	"github.com/agentrep/siwa-core/pkg/registry"
	"github.com/agentrep/siwa-core/pkg/siwa"
)

// buildOracle creates the registration oracle selected by cfg. The returned
// function releases RPC connections.
func buildOracle(ctx context.Context, cfg *config.Config) (registry.Oracle, func(), error) {
	if cfg.AgentsFile != "" {
		log.Printf("[siwa] oracle: LOCAL MODE (agents file: %s)", cfg.AgentsFile)
		return registry.NewLocalRegistry(cfg.AgentsFile), func() {}, nil
	}

	metadata := registry.NewMetadataFetcher(cfg.IPFSGateway)
	multi := registry.NewMultiChainRegistry()
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	for _, chainID := range cfg.Chains() {
		reg, closeFn, err := registry.DialEthereumRegistry(ctx, cfg.RPCURLs[chainID], registry.EthereumConfig{
			ChainID:            chainID,
			ReputationRegistry: cfg.ReputationRegistries[chainID],
			Metadata:           metadata,
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("chain %d: %w", chainID, err)
		}
		closers = append(closers, closeFn)
		multi.Add(chainID, reg)
		log.Printf("[siwa] oracle: chain %d via JSON-RPC", chainID)
	}

	return multi, closeAll, nil
}

// buildReplayStore creates the consumed-nonce store selected by cfg.
func buildReplayStore(ctx context.Context, cfg *config.Config) (siwa.ReplayStore, func() error, error) {
	if cfg.RedisURL == "" {
		log.Printf("[siwa] replay store: memory (single instance only)")
		store := siwa.NewMemoryReplayStore(nil)
		return store, store.Close, nil
	}

	store, closeFn, err := siwa.DialRedisReplayStore(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("[siwa] replay store: redis")
	return store, closeFn, nil
}

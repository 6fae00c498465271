// Package main provides the API server entry point for the wallet analyzer service.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wallet-analyzer/internal/adapter"
	"github.com/wallet-analyzer/internal/api"
	"github.com/wallet-analyzer/internal/circuitbreaker"
	"github.com/wallet-analyzer/internal/config"
	"github.com/wallet-analyzer/internal/logging"
	"github.com/wallet-analyzer/internal/ratelimit"
	"github.com/wallet-analyzer/internal/service"
	"github.com/wallet-analyzer/internal/storage"
	"github.com/wallet-analyzer/internal/types"
)

const (
	clientTimeout   = 15 * time.Second
	shutdownTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	defer logging.Sync()

	logger := logging.Global()
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	// Database connections
	postgres, err := storage.NewPostgresDB(&cfg.Database.Postgres)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Postgres")
	}
	defer postgres.Close()

	clickhouse, err := storage.NewClickHouseDB(&cfg.Database.ClickHouse)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to ClickHouse")
	}
	defer clickhouse.Close()

	redis, err := storage.NewRedisCache(&cfg.Database.Redis)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redis.Close()

	logger.Info("Database connections established")

	// Storage layer
	priceCache := storage.NewPriceCache(redis, cfg.Cache.PriceTTL, cfg.Cache.PortfolioTTL)
	priceHistory := storage.NewPriceHistoryRepository(clickhouse)
	snapshots := storage.NewSnapshotRepository(postgres.Pool())

	// Ledger providers with failover per chain
	ledgers := make(map[types.ChainID]service.Ledger)

	helius := adapter.NewHeliusClient(
		cfg.Ledger.HeliusURL,
		cfg.Ledger.HeliusAPIURL,
		cfg.Ledger.HeliusAPIKey,
		cfg.Ledger.MaxTransferEvents,
		clientTimeout,
	)
	solanaLedger, err := adapter.NewFailoverLedger(types.ChainSolana, helius)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Solana ledger")
	}
	ledgers[types.ChainSolana] = solanaLedger

	etherscan := adapter.NewEtherscanClient(
		cfg.Ledger.EtherscanURL,
		cfg.Ledger.EtherscanAPIKey,
		cfg.Ledger.MaxTransferEvents,
		clientTimeout,
	)
	ethereumLedger, err := adapter.NewFailoverLedger(types.ChainEthereum, etherscan)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize Ethereum ledger")
	}
	ledgers[types.ChainEthereum] = ethereumLedger

	// Price sources in priority order. Jupiter and DexScreener only
	// quote Solana mints; CoinGecko serves both via its platform
	// parameter, so each chain carries its own source list.
	limiter := ratelimit.NewSourceLimiter(5, 2)
	limiter.SetSourceRate("coingecko", 0.5)
	breakers := circuitbreaker.NewCircuitBreakerManager()

	solanaSources := []adapter.PriceSource{
		adapter.NewJupiterClient(cfg.Sources.JupiterURL, clientTimeout),
		adapter.NewCoinGeckoClient(cfg.Sources.CoinGeckoURL, "solana", clientTimeout),
		adapter.NewDexScreenerClient(cfg.Sources.DexScreenerURL, clientTimeout),
	}
	ethereumSources := []adapter.PriceSource{
		adapter.NewCoinGeckoClient(cfg.Sources.CoinGeckoURL, "ethereum", clientTimeout),
		adapter.NewDexScreenerClient(cfg.Sources.DexScreenerURL, clientTimeout),
	}

	resolver := service.NewChainResolver(map[types.ChainID]*service.PriceResolver{
		types.ChainSolana:   service.NewPriceResolver(solanaSources, priceCache, priceHistory, limiter, breakers, cfg.Resolver),
		types.ChainEthereum: service.NewPriceResolver(ethereumSources, priceCache, priceHistory, limiter, breakers, cfg.Resolver),
	})

	// Background price sampler keeps the historical store warm for
	// every asset the analyzer has seen
	sampler := service.NewPriceSampler(resolver, cfg.Sampler.Interval)

	analyzer := service.NewAnalyzerService(
		ledgers,
		resolver,
		priceCache,
		snapshots,
		sampler,
		cfg.Ledger.MaxTransferEvents,
		cfg.Resolver.MaxConcurrent,
	)

	logger.Info("Services initialized")

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.Sampler.Enabled {
		if err := sampler.Start(rootCtx); err != nil {
			logger.WithError(err).Warn("Failed to start price sampler")
		} else {
			defer sampler.Stop()
		}
	}

	serverConfig := &api.ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   shutdownTimeout,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}

	server := api.NewServer(serverConfig, analyzer, snapshots, priceCache)

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	rootCancel()

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Fatal("Server forced to shutdown")
	}

	logger.Info("Server exited")
}

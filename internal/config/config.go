// Package config provides configuration management for the wallet analyzer application.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Resolver  ResolverConfig
	Sources   SourcesConfig
	Ledger    LedgerConfig
	Sampler   SamplerConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// CacheConfig holds cache TTL configuration. Current prices expire in
// minutes; composed portfolios a little later; historical quotes never
// expire since the past does not change.
type CacheConfig struct {
	PriceTTL     time.Duration
	PortfolioTTL time.Duration
}

// ResolverConfig holds price resolution configuration
type ResolverConfig struct {
	SourceTimeout    time.Duration // per upstream call
	InterChunkDelay  time.Duration // pause between batch chunks to one source
	MaxConcurrent    int           // concurrent lookups per source
	HistoricalWindow time.Duration // how far a stored sample may be from the requested time
	SeedPrices       map[string]map[string]float64
}

// SourcesConfig holds upstream price source configuration
type SourcesConfig struct {
	JupiterURL     string
	CoinGeckoURL   string
	DexScreenerURL string
}

// LedgerConfig holds ledger provider configuration
type LedgerConfig struct {
	HeliusURL         string // JSON-RPC endpoint (balances)
	HeliusAPIURL      string // enhanced transactions API (history)
	HeliusAPIKey      string
	EtherscanURL      string
	EtherscanAPIKey   string
	MaxTransferEvents int
}

// SamplerConfig holds background price sampler configuration
type SamplerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// RateLimitConfig holds API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond int
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "wallet_analyzer"),
				User:           getEnv("POSTGRES_USER", "analyzer"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "wallet_analyzer"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Cache: CacheConfig{
			PriceTTL:     getEnvAsDuration("CACHE_PRICE_TTL", 5*time.Minute),
			PortfolioTTL: getEnvAsDuration("CACHE_PORTFOLIO_TTL", 10*time.Minute),
		},
		Resolver: ResolverConfig{
			SourceTimeout:    getEnvAsDuration("RESOLVER_SOURCE_TIMEOUT", 10*time.Second),
			InterChunkDelay:  getEnvAsDuration("RESOLVER_INTER_CHUNK_DELAY", 200*time.Millisecond),
			MaxConcurrent:    getEnvAsInt("RESOLVER_MAX_CONCURRENT", 4),
			HistoricalWindow: getEnvAsDuration("RESOLVER_HISTORICAL_WINDOW", 7*24*time.Hour),
			SeedPrices:       defaultSeedPrices(),
		},
		Sources: SourcesConfig{
			JupiterURL:     getEnv("JUPITER_URL", "https://lite-api.jup.ag/price/v2"),
			CoinGeckoURL:   getEnv("COINGECKO_URL", "https://api.coingecko.com/api/v3"),
			DexScreenerURL: getEnv("DEXSCREENER_URL", "https://api.dexscreener.com/latest/dex"),
		},
		Ledger: LedgerConfig{
			HeliusURL:         getEnv("HELIUS_URL", "https://mainnet.helius-rpc.com"),
			HeliusAPIURL:      getEnv("HELIUS_API_URL", "https://api.helius.xyz"),
			HeliusAPIKey:      getEnv("HELIUS_API_KEY", ""),
			EtherscanURL:      getEnv("ETHERSCAN_URL", "https://api.etherscan.io/v2/api"),
			EtherscanAPIKey:   getEnv("ETHERSCAN_API_KEY", ""),
			MaxTransferEvents: getEnvAsInt("LEDGER_MAX_TRANSFER_EVENTS", 500),
		},
		Sampler: SamplerConfig{
			Enabled:  getEnvAsBool("SAMPLER_ENABLED", true),
			Interval: getEnvAsDuration("SAMPLER_INTERVAL", 15*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 10),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// defaultSeedPrices is the quote of last resort for a small allowlist
// of highly liquid assets, keyed by chain then asset id. The resolver
// reads it only after every live source and the sample store have
// failed.
func defaultSeedPrices() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"solana": {
			"So11111111111111111111111111111111111111112":  138.25, // wSOL
			"EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v": 1.0,    // USDC
			"Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB": 1.0,    // USDT
		},
		"ethereum": {
			"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2": 1800.0, // WETH
			"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48": 1.0,    // USDC
			"0xdac17f958d2ee523a2206206994597c13d831ec7": 1.0,    // USDT
		},
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package config loads FuseVault's runtime configuration. Secrets and
// endpoints come from the environment, the way the teacher's
// pkg/config/config.go reads ETHEREUM_URL/DATABASE_URL/ETH_PRIVATE_KEY with
// no production defaults. Static operational settings (gateway URLs,
// rate-limit defaults, batch ceilings) live in a companion YAML file, the
// way the teacher layers pkg/config/anchor_config.go on top of config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything FuseVault needs to start.
type Config struct {
	// Server
	ListenAddr string

	// Database
	DatabaseURL         string
	DatabaseMaxConns    int
	DatabaseMinConns    int
	DatabaseMaxIdleTime time.Duration
	DatabaseMaxLifetime time.Duration

	// Redis (pending-transaction coordinator + rate limiting)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Ethereum
	EthereumURL           string
	EthChainID            int64
	EthPrivateKey         string
	EthAccountAddress     string
	AssetRegistryContract string

	// Content store (IPFS)
	ContentStoreGatewayURL string
	ContentStoreTimeout    time.Duration

	// API keys
	APIKeySecret            string
	APIKeyMaxPerWallet      int
	APIKeyDefaultExpiration time.Duration
	APIKeyRateLimitPerMin   int

	// Pending transactions
	PendingTxTTL time.Duration

	// Batch ceilings (spec.md §5)
	MaxBatchSize int

	LogLevel string
}

// Load reads configuration from the environment. Required secrets have no
// defaults; call Validate afterward before starting the service.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0:8080"),

		DatabaseURL:         getEnv("DATABASE_URL", ""),
		DatabaseMaxConns:    getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMinConns:    getEnvInt("DATABASE_MIN_CONNS", 5),
		DatabaseMaxIdleTime: getEnvDuration("DATABASE_MAX_IDLE_TIME", 5*time.Minute),
		DatabaseMaxLifetime: getEnvDuration("DATABASE_MAX_LIFETIME", time.Hour),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		EthereumURL:           getEnv("ETHEREUM_URL", ""),
		EthChainID:            getEnvInt64("ETH_CHAIN_ID", 11155111),
		EthPrivateKey:         getEnv("ETH_PRIVATE_KEY", ""),
		EthAccountAddress:     getEnv("ETH_ACCOUNT_ADDRESS", ""),
		AssetRegistryContract: getEnv("ASSET_REGISTRY_CONTRACT_ADDRESS", ""),

		ContentStoreGatewayURL: getEnv("CONTENT_STORE_GATEWAY_URL", ""),
		ContentStoreTimeout:    getEnvDuration("CONTENT_STORE_TIMEOUT", 90*time.Second),

		APIKeySecret:            getEnv("API_KEY_HMAC_SECRET", ""),
		APIKeyMaxPerWallet:      getEnvInt("API_KEY_MAX_PER_WALLET", 10),
		APIKeyDefaultExpiration: getEnvDuration("API_KEY_DEFAULT_EXPIRATION", 365*24*time.Hour),
		APIKeyRateLimitPerMin:   getEnvInt("API_KEY_RATE_LIMIT_PER_MINUTE", 120),

		PendingTxTTL: getEnvDuration("PENDING_TX_TTL", 300*time.Second),

		MaxBatchSize: getEnvInt("MAX_BATCH_SIZE", 50),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return cfg, nil
}

// Validate fails closed on missing required secrets, mirroring the
// teacher's Config.Validate for ETHEREUM_URL/DATABASE_URL/JWT_SECRET.
func (c *Config) Validate() error {
	var errs []string

	if c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required but not set")
	}
	if c.EthereumURL == "" {
		errs = append(errs, "ETHEREUM_URL is required but not set")
	}
	if c.EthPrivateKey == "" {
		errs = append(errs, "ETH_PRIVATE_KEY is required but not set")
	}
	if c.AssetRegistryContract == "" {
		errs = append(errs, "ASSET_REGISTRY_CONTRACT_ADDRESS is required but not set")
	}
	if c.APIKeySecret == "" {
		errs = append(errs, "API_KEY_HMAC_SECRET is required but not set")
	} else if len(c.APIKeySecret) < 32 {
		errs = append(errs, "API_KEY_HMAC_SECRET must be at least 32 characters")
	}
	if c.MaxBatchSize <= 0 || c.MaxBatchSize > 50 {
		errs = append(errs, "MAX_BATCH_SIZE must be between 1 and 50")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

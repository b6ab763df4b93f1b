package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// AppConfig is the process configuration. Per-network values are not part
// of it; they are resolved per invocation by a Resolver.
type AppConfig struct {
	Service  ServiceConfig
	Store    StoreConfig
	Events   EventsConfig
	Pricing  PricingConfig
	Resolver ResolverConfig
}

type ServiceConfig struct {
	HTTPPort      int
	HMACSecret    string
	HMACClockSkew time.Duration
	Environment   string
	LogLevel      string
	LogPretty     bool
	// PinTimeout bounds one call to the pinning service.
	PinTimeout time.Duration
	// ChainFake swaps the RPC connector and the pinning service for
	// in-memory fakes. Local runs only.
	ChainFake bool
}

// StoreConfig selects the job store backend: memory, file or postgres.
type StoreConfig struct {
	Backend     string
	FilePath    string
	PostgresDSN string
}

type EventsConfig struct {
	KafkaBrokers []string
}

type PricingConfig struct {
	CoinbaseURL string
	HTTPTimeout time.Duration
}

// ResolverConfig points at the files network configuration is read from.
type ResolverConfig struct {
	NetworkSecretsPath string
	PinningSecretsPath string
	DeploymentsPath    string
	ABIDir             string
	ReceiptTimeout     time.Duration
	GasLimitMargin     uint64
	IPFSGatewayURL     string
}

const (
	defaultCoinbaseURL     = "https://api.coinbase.com/v2/exchange-rates"
	defaultIPFSGatewayURL  = "https://gateway.pinata.cloud/ipfs/"
	defaultGasLimitMargin  = 100000
	defaultNetworkSecrets  = "./secrets/networks.json"
	defaultPinningSecrets  = "./secrets/pinning.json"
	defaultDeploymentsPath = "./deployments.json"
)

// Load aggregates configuration from the environment, reading a .env file
// first when one exists.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:      envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:    envOr("HMAC_SECRET", ""),
		HMACClockSkew: time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		Environment:   envOr("ENVIRONMENT", "local"),
		LogLevel:      envOr("LOG_LEVEL", "info"),
		LogPretty:     envOr("LOG_PRETTY", "") == "true",
		PinTimeout:    time.Duration(envOrInt("PIN_TIMEOUT_MS", 15000)) * time.Millisecond,
		ChainFake:     envOr("CHAIN_FAKE", "") == "true",
	}

	storeCfg := StoreConfig{
		Backend:     envOr("JOB_STORE", "file"),
		FilePath:    envOr("JOB_STORE_PATH", filepath.Join(os.TempDir(), "nftcore-jobs.json")),
		PostgresDSN: envOr("POSTGRES_DSN", ""),
	}
	switch storeCfg.Backend {
	case "memory", "file", "postgres":
	default:
		return nil, fmt.Errorf("unknown job store backend %q", storeCfg.Backend)
	}
	if storeCfg.Backend == "postgres" && storeCfg.PostgresDSN == "" {
		return nil, errors.New("POSTGRES_DSN is required for the postgres job store")
	}

	eventsCfg := EventsConfig{
		KafkaBrokers: splitList(envOr("KAFKA_BROKERS", "")),
	}

	pricingCfg := PricingConfig{
		CoinbaseURL: envOr("COINBASE_RATES_URL", defaultCoinbaseURL),
		HTTPTimeout: time.Duration(envOrInt("PRICE_TIMEOUT_MS", 5000)) * time.Millisecond,
	}

	resolverCfg := ResolverConfig{
		NetworkSecretsPath: envOr("NETWORK_SECRETS_PATH", defaultNetworkSecrets),
		PinningSecretsPath: envOr("PINNING_SECRETS_PATH", defaultPinningSecrets),
		DeploymentsPath:    envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath),
		ABIDir:             envOr("ABI_DIR", ""),
		ReceiptTimeout:     time.Duration(envOrInt("TIME_OUT", 0)) * time.Millisecond,
		GasLimitMargin:     uint64(envOrInt("GAS_INCREASE_NUM", defaultGasLimitMargin)),
		IPFSGatewayURL:     envOr("IPFS_BASE_URL", defaultIPFSGatewayURL),
	}

	return &AppConfig{
		Service:  serviceCfg,
		Store:    storeCfg,
		Events:   eventsCfg,
		Pricing:  pricingCfg,
		Resolver: resolverCfg,
	}, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return parsed
		}
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

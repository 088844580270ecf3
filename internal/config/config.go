package config

import (
	"context"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	infisical "github.com/infisical/go-sdk"
	"github.com/joho/godotenv"
)

const (
	pythHermesLatest = "https://hermes.pyth.network/v2/updates/price/latest"

	defaultCacheTTL        = 300000 * time.Millisecond
	defaultMonitorInterval = 5 * time.Second
)

// Network holds the upstream endpoints and price feed ids of one Aptos
// environment.
type Network struct {
	Name        string
	PriceAPIURL string
	GraphQLURL  string
	FeedIDs     map[string]string
}

var priceFeedIDs = map[string]string{
	"aptUsd": "03ae4db29ed4ae33d323568895aa00337e658e348b37509f5372ae51f0af00d5",
	"btcUsd": "e62df6c8b4a85fe1a67db44dc12de5db330f7ac66b72dc658afedf0f4a415b43",
}

// Networks are the supported environments keyed by name.
var Networks = map[string]Network{
	"testnet": {
		Name:        "testnet",
		PriceAPIURL: pythHermesLatest,
		GraphQLURL:  "https://api.testnet.aptoslabs.com/v1/graphql",
		FeedIDs:     priceFeedIDs,
	},
	"mainnet": {
		Name:        "mainnet",
		PriceAPIURL: pythHermesLatest,
		GraphQLURL:  "https://api.mainnet.aptoslabs.com/v1/graphql",
		FeedIDs:     priceFeedIDs,
	},
}

// NetworkFor returns the named network, falling back to testnet.
func NetworkFor(name string) Network {
	if n, ok := Networks[strings.ToLower(strings.TrimSpace(name))]; ok {
		return n
	}
	return Networks["testnet"]
}

type Config struct {
	Port            string
	DatabaseURL     string
	FrontendOrigin  string
	RedisURL        string
	RedisPassword   string
	OpenAIAPIKey    string
	TelegramToken   string
	TelegramChatID  int64
	NotifySeverity  string
	Network         Network
	CacheTTL        time.Duration
	MonitorInterval time.Duration
}

func Load() Config {
	// .env is optional and never overrides variables already set.
	_ = godotenv.Load()

	cfg := Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		FrontendOrigin:  envOr("FRONTEND_ORIGIN", "*"),
		RedisURL:        os.Getenv("REDIS_URL"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		OpenAIAPIKey:    os.Getenv("OPENAI_API_KEY"),
		TelegramToken:   os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:  envInt64("TELEGRAM_CHAT_ID"),
		NotifySeverity:  envOr("NOTIFY_MIN_SEVERITY", "high"),
		Network:         NetworkFor(envOr("DEFILENS_ENV", "testnet")),
		CacheTTL:        envMillis("CACHE_TTL_MS", defaultCacheTTL),
		MonitorInterval: envDuration("MONITOR_INTERVAL", defaultMonitorInterval),
	}

	// If Infisical credentials are available, fetch secrets from Infisical
	clientID := os.Getenv("INFISICAL_CLIENT_ID")
	clientSecret := os.Getenv("INFISICAL_CLIENT_SECRET")
	if clientID != "" && clientSecret != "" {
		loadFromInfisical(&cfg, clientID, clientSecret)
	}

	return cfg
}

func loadFromInfisical(cfg *Config, clientID, clientSecret string) {
	siteURL := envOr("INFISICAL_SITE_URL", "https://app.infisical.com")
	projectID := os.Getenv("INFISICAL_PROJECT_ID")
	envSlug := envOr("INFISICAL_ENV", "prod")

	if projectID == "" {
		slog.Warn("INFISICAL_PROJECT_ID not set, skipping Infisical")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := infisical.NewInfisicalClient(ctx, infisical.Config{
		SiteUrl:          siteURL,
		AutoTokenRefresh: false,
	})

	if _, err := client.Auth().UniversalAuthLogin(clientID, clientSecret); err != nil {
		slog.Error("infisical auth failed", "error", err)
		return
	}

	secrets := map[string]*string{
		"OPENAI_API_KEY":     &cfg.OpenAIAPIKey,
		"REDIS_PASSWORD":     &cfg.RedisPassword,
		"TELEGRAM_BOT_TOKEN": &cfg.TelegramToken,
	}

	for key, target := range secrets {
		if *target != "" {
			continue
		}
		secret, err := client.Secrets().Retrieve(infisical.RetrieveSecretOptions{
			SecretKey:   key,
			Environment: envSlug,
			ProjectID:   projectID,
			SecretPath:  "/",
		})
		if err != nil {
			slog.Warn("failed to retrieve secret from infisical", "key", key, "error", err)
			continue
		}
		*target = secret.SecretValue
		slog.Info("loaded secret from infisical", "key", key)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string) int64 {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		slog.Warn("invalid integer in env, ignoring", "key", key, "value", v)
		return 0
	}
	return n
}

// envMillis reads a positive integer count of milliseconds.
func envMillis(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil || ms <= 0 {
		slog.Warn("invalid duration in env, using default", "key", key, "value", v)
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

// envDuration reads a Go duration string such as "5s".
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration in env, using default", "key", key, "value", v)
		return fallback
	}
	return d
}

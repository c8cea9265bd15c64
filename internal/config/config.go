package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration sourced from the environment.
type Config struct {
	AppEnv           string
	LogLevel         string
	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	DatabaseURL    string
	DatabaseSchema string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	WhatsAppStorePath string
	WhatsAppLogLevel  string

	ChainRPCURL         string
	ChainID             int64
	EscrowAddress       string
	EscrowPrivateKey    string
	WeiPerBamekap       int64
	LedgerTimeout       time.Duration
	LedgerConfirmations uint64

	WebhookUsernameMD5 string
	WebhookPasswordMD5 string

	SessionTTL time.Duration
	BcryptCost int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   getEnv("PUBLIC_BASE_PATH", ""),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "trocswap"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: getEnv("DATABASE_SCHEMA", "public"),

		RedisAddr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "INFO"),

		ChainRPCURL:      os.Getenv("CHAIN_RPC_URL"),
		EscrowAddress:    os.Getenv("ESCROW_ADDRESS"),
		EscrowPrivateKey: os.Getenv("ESCROW_PRIVATE_KEY"),

		WebhookUsernameMD5: os.Getenv("LEDGER_WEBHOOK_USERNAME_MD5"),
		WebhookPasswordMD5: os.Getenv("LEDGER_WEBHOOK_PASSWORD_MD5"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ChainRPCURL == "" {
		return nil, fmt.Errorf("CHAIN_RPC_URL is required")
	}
	if cfg.EscrowAddress == "" || cfg.EscrowPrivateKey == "" {
		return nil, fmt.Errorf("ESCROW_ADDRESS and ESCROW_PRIVATE_KEY are required")
	}

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", 0); err != nil {
		return nil, err
	}
	if cfg.RedisTLS, err = getEnvBool("REDIS_TLS", false); err != nil {
		return nil, err
	}
	if cfg.ChainID, err = getEnvInt64("CHAIN_ID", 137); err != nil {
		return nil, err
	}
	if cfg.WeiPerBamekap, err = getEnvInt64("WEI_PER_BAMEKAP", 1_000_000_000_000); err != nil {
		return nil, err
	}
	if cfg.LedgerTimeout, err = getEnvDuration("LEDGER_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	confirmations, err := getEnvInt64("LEDGER_CONFIRMATIONS", 1)
	if err != nil {
		return nil, err
	}
	cfg.LedgerConfirmations = uint64(confirmations)
	if cfg.SessionTTL, err = getEnvDuration("SESSION_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getEnvInt("BCRYPT_COST", 12); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	parsed, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return parsed, nil
}

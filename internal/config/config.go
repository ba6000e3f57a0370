// Package config provides environment-aware configuration management.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vaultauth/core/infrastructure/runtime"
)

// ServerConfig groups HTTP listener settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DatabaseConfig groups Postgres connection settings.
type DatabaseConfig struct {
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig groups Redis connection settings, used for the shared
// rate-limit backend, unlock-cache fan-out, and settings-invalidation pub/sub.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig groups access/refresh token signing settings.
type JWTConfig struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	Issuer          string
	Audience        string
	PrivateKeyPEM   string
	LegacyHS256Secret string
	LegacyGraceUntil  time.Time
}

// CSRFConfig groups double-submit cookie settings.
type CSRFConfig struct {
	CookieName string
	HeaderName string
	CookieDomain string
	Secure     bool
	TokenTTL   time.Duration
}

// RateLimitConfig groups the per-key sliding-window limiter settings.
type RateLimitConfig struct {
	WindowSize    time.Duration
	MaxRequests   int
	RedisKeyPrefix string
}

// WalletConfig groups custodial wallet settings.
type WalletConfig struct {
	UnlockCacheTTL time.Duration
	RotationGrace  time.Duration
	EnvelopeKeyHex string
}

// SidecarConfig groups the signing/submission sidecar HTTP client settings.
type SidecarConfig struct {
	BaseURL       string
	SharedSecret  string
	Timeout       time.Duration
	MaxBodyBytes  int64
}

// DepositConfig groups deposit-pipeline settings.
type DepositConfig struct {
	RequiredConfirmations int
	ExpiryWindow          time.Duration
	MicroDepositMax       int64
	WorkerInterval        time.Duration
	HoldExpiryInterval    time.Duration
}

// PrivacyConfig groups private-deposit privacy-period settings: whether the
// feature is enabled at all, the key sealing a reconstructed note key at
// rest between deposit and withdrawal, and the withdrawal worker's tunables.
type PrivacyConfig struct {
	Enabled                    bool
	NoteEncryptionKeyHex       string
	DefaultPeriod              time.Duration
	WorkerInterval             time.Duration
	WithdrawalBatchSize        int
	WithdrawalMaxRetries       int
	CompanyWalletAddress       string
	CompanyCurrency            string
	PartialWithdrawalEnabled   bool
	PartialWithdrawalDustFloor int64
}

// Config holds all application configuration, grouped by concern.
type Config struct {
	Env       runtime.Environment
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CSRF      CSRFConfig
	RateLimit RateLimitConfig
	Wallet    WalletConfig
	Sidecar   SidecarConfig
	Deposit   DepositConfig
	Privacy   PrivacyConfig

	LogLevel  string
	LogFormat string

	MetricsEnabled bool
	MetricsPort    int
}

// Load loads configuration based on the APP_ENV environment variable,
// optionally sourcing an environment-specific .env file first.
func Load() (*Config, error) {
	env := runtime.Env()

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("Warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.Server = ServerConfig{
		Port:            getIntEnv("SERVER_PORT", 8080),
		ReadTimeout:     getDurationEnv("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDurationEnv("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		CORSOrigins:     strings.Split(getEnv("CORS_ALLOWED_ORIGINS", "*"), ","),
	}

	c.Database = DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getIntEnv("DB_PORT", 5432),
		User:            getEnv("DB_USER", "postgres"),
		Password:        getEnv("DB_PASSWORD", ""),
		Name:            getEnv("DB_NAME", "authd"),
		SSLMode:         getEnv("DB_SSLMODE", "require"),
		MaxOpenConns:    getIntEnv("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getIntEnv("DB_MAX_IDLE_CONNS", 25),
		ConnMaxLifetime: getDurationEnv("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	c.Redis = RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getIntEnv("REDIS_DB", 0),
	}

	legacyGrace := getEnv("LEGACY_HS256_GRACE_UNTIL", "")
	var graceUntil time.Time
	if legacyGrace != "" {
		parsed, err := time.Parse(time.RFC3339, legacyGrace)
		if err != nil {
			return fmt.Errorf("invalid LEGACY_HS256_GRACE_UNTIL: %w", err)
		}
		graceUntil = parsed
	}
	c.JWT = JWTConfig{
		AccessTokenTTL:    getDurationEnv("JWT_ACCESS_TTL", 15*time.Minute),
		RefreshTokenTTL:   getDurationEnv("JWT_REFRESH_TTL", 30*24*time.Hour),
		Issuer:            getEnv("JWT_ISSUER", "vaultauth"),
		Audience:          getEnv("JWT_AUDIENCE", "vaultauth-clients"),
		PrivateKeyPEM:     getEnv("JWT_PRIVATE_KEY_PEM", ""),
		LegacyHS256Secret: getEnv("LEGACY_HS256_SECRET", ""),
		LegacyGraceUntil:  graceUntil,
	}

	c.CSRF = CSRFConfig{
		CookieName:   getEnv("CSRF_COOKIE_NAME", "__Host-csrf"),
		HeaderName:   getEnv("CSRF_HEADER_NAME", "X-CSRF-Token"),
		CookieDomain: getEnv("CSRF_COOKIE_DOMAIN", ""),
		Secure:       getBoolEnv("CSRF_COOKIE_SECURE", runtime.IsProduction()),
		TokenTTL:     getDurationEnv("CSRF_TOKEN_TTL", 24*time.Hour),
	}

	c.RateLimit = RateLimitConfig{
		WindowSize:     getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		MaxRequests:    getIntEnv("RATE_LIMIT_MAX_REQUESTS", 100),
		RedisKeyPrefix: getEnv("RATE_LIMIT_REDIS_PREFIX", "ratelimit:"),
	}

	c.Wallet = WalletConfig{
		UnlockCacheTTL: getDurationEnv("WALLET_UNLOCK_CACHE_TTL", 5*time.Minute),
		RotationGrace:  getDurationEnv("WALLET_ROTATION_GRACE", 72*time.Hour),
		EnvelopeKeyHex: getEnv("WALLET_ENVELOPE_KEY_HEX", ""),
	}

	c.Sidecar = SidecarConfig{
		BaseURL:      getEnv("SIDECAR_BASE_URL", "http://localhost:9000"),
		SharedSecret: getEnv("SIDECAR_SHARED_SECRET", ""),
		Timeout:      getDurationEnv("SIDECAR_TIMEOUT", 10*time.Second),
		MaxBodyBytes: int64(getIntEnv("SIDECAR_MAX_BODY_BYTES", 1<<20)),
	}

	c.Deposit = DepositConfig{
		RequiredConfirmations: getIntEnv("DEPOSIT_REQUIRED_CONFIRMATIONS", 32),
		ExpiryWindow:          getDurationEnv("DEPOSIT_EXPIRY_WINDOW", 24*time.Hour),
		MicroDepositMax:       int64(getIntEnv("DEPOSIT_MICRO_MAX_LAMPORTS", 1_000_000)),
		WorkerInterval:        getDurationEnv("DEPOSIT_WORKER_INTERVAL", 30*time.Second),
		HoldExpiryInterval:    getDurationEnv("DEPOSIT_HOLD_EXPIRY_INTERVAL", time.Minute),
	}

	c.Privacy = PrivacyConfig{
		Enabled:                    getBoolEnv("PRIVACY_ENABLED", false),
		NoteEncryptionKeyHex:       getEnv("PRIVACY_NOTE_ENCRYPTION_KEY_HEX", ""),
		DefaultPeriod:              getDurationEnv("PRIVACY_DEFAULT_PERIOD", 7*24*time.Hour),
		WorkerInterval:             getDurationEnv("PRIVACY_WORKER_INTERVAL", time.Minute),
		WithdrawalBatchSize:        getIntEnv("PRIVACY_WITHDRAWAL_BATCH_SIZE", 25),
		WithdrawalMaxRetries:       getIntEnv("PRIVACY_WITHDRAWAL_MAX_RETRIES", 5),
		CompanyWalletAddress:       getEnv("PRIVACY_COMPANY_WALLET_ADDRESS", ""),
		CompanyCurrency:            getEnv("PRIVACY_COMPANY_CURRENCY", "SOL"),
		PartialWithdrawalEnabled:   getBoolEnv("PRIVACY_PARTIAL_WITHDRAWAL_ENABLED", false),
		PartialWithdrawalDustFloor: int64(getIntEnv("PRIVACY_PARTIAL_WITHDRAWAL_DUST_FLOOR", 1000)),
	}

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", runtime.IsDevelopmentOrTesting())
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	return nil
}

// IsDevelopment returns true if running in the development environment.
func (c *Config) IsDevelopment() bool { return c.Env == runtime.Development }

// IsTesting returns true if running in the testing environment.
func (c *Config) IsTesting() bool { return c.Env == runtime.Testing }

// IsProduction returns true if running in the production environment.
func (c *Config) IsProduction() bool { return c.Env == runtime.Production }

// Validate checks production-critical invariants that environment variables
// alone can't enforce (e.g. presence of signing secrets).
func (c *Config) Validate() error {
	if c.IsProduction() {
		if c.JWT.PrivateKeyPEM == "" {
			return fmt.Errorf("JWT_PRIVATE_KEY_PEM must be set in production")
		}
		if c.Wallet.EnvelopeKeyHex == "" {
			return fmt.Errorf("WALLET_ENVELOPE_KEY_HEX must be set in production")
		}
		if c.Sidecar.SharedSecret == "" {
			return fmt.Errorf("SIDECAR_SHARED_SECRET must be set in production")
		}
		if !c.CSRF.Secure {
			return fmt.Errorf("CSRF_COOKIE_SECURE must be true in production")
		}
		if c.Privacy.Enabled && c.Privacy.NoteEncryptionKeyHex == "" {
			return fmt.Errorf("PRIVACY_NOTE_ENCRYPTION_KEY_HEX must be set in production when PRIVACY_ENABLED is true")
		}
		if c.Privacy.Enabled && c.Privacy.CompanyWalletAddress == "" {
			return fmt.Errorf("PRIVACY_COMPANY_WALLET_ADDRESS must be set in production when PRIVACY_ENABLED is true")
		}
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT: %d", c.Server.Port)
	}
	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// Package config provides configuration management for fleetd.
//
// Configuration is loaded from:
// 1. config.yaml file (optional)
// 2. Environment variables (standard names like DATABASE_URL, SERVER_PORT)
// 3. Default values
//
// Import Path: fleetd.io/fleetd/internal/config
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Dispatcher and store backends selectable under engine.
const (
	DispatcherLocal = "local"
	DispatcherRiver = "river"

	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config is the root configuration structure.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	River     RiverConfig     `mapstructure:"river"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Security  SecurityConfig  `mapstructure:"security"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// CORS. A "*" origin is honoured only with UnsafeAllowAllOrigins.
	AllowedOrigins        []string `mapstructure:"allowed_origins"`
	AllowCredentials      bool     `mapstructure:"allow_credentials"`
	UnsafeAllowAllOrigins bool     `mapstructure:"unsafe_allow_all_origins"`

	// MaxWaitSeconds caps GET /v1/actions/:id/wait.
	MaxWaitSeconds int `mapstructure:"max_wait_seconds"`
}

// DatabaseConfig contains PostgreSQL connection settings.
// One pgxpool is shared by the store and River.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`

	AutoMigrate bool `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
// Priority: DATABASE_URL > constructed from individual fields.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	sslmode := c.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslmode,
	)
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json or console
}

// RiverConfig contains River Queue settings.
type RiverConfig struct {
	MaxWorkers                  int           `mapstructure:"max_workers"`
	ActionWorkers               int           `mapstructure:"action_workers"`
	CompletedJobRetentionPeriod time.Duration `mapstructure:"completed_job_retention_period"`
}

// WorkerConfig contains worker pool settings.
type WorkerConfig struct {
	GeneralPoolSize int `mapstructure:"general_pool_size"`
	ActionPoolSize  int `mapstructure:"action_pool_size"`
}

// EngineConfig selects the engine backends and tunes action execution.
type EngineConfig struct {
	Dispatcher string `mapstructure:"dispatcher"` // local or river
	Store      string `mapstructure:"store"`      // memory or postgres

	// SweepInterval is how often stale READY actions are republished.
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	// StaleAfter is how long a READY action may wait before a sweep
	// republishes it.
	StaleAfter time.Duration `mapstructure:"stale_after"`

	LockRetryBase     time.Duration `mapstructure:"lock_retry_base"`
	LockRetryMax      time.Duration `mapstructure:"lock_retry_max"`
	LockRetryAttempts int           `mapstructure:"lock_retry_attempts"`

	// DefaultActionTimeout bounds actions whose target has no timeout.
	DefaultActionTimeout time.Duration `mapstructure:"default_action_timeout"`
	WaitInterval         time.Duration `mapstructure:"wait_interval"`
}

// SecurityConfig contains security-related settings.
// Missing secrets are generated on first boot.
type SecurityConfig struct {
	JWTSigningKey string        `mapstructure:"jwt_signing_key"`
	JWTIssuer     string        `mapstructure:"jwt_issuer"`
	TokenLifetime time.Duration `mapstructure:"token_lifetime"`
}

// RateLimitConfig limits API requests per client.
type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

var (
	bootstrapLoggerOnce sync.Once
	bootstrapLogger     *zap.Logger
)

// Load reads configuration from file and environment variables.
// Standard environment variables without prefix (DATABASE_URL, SERVER_PORT, etc.).
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/fleetd")

	// Maps nested config: engine.sweep_interval → ENGINE_SWEEP_INTERVAL
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.ensureSecrets(); err != nil {
		return nil, fmt.Errorf("ensure secrets: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Validate checks for critical configuration errors.
func (c *Config) Validate() error {
	if len(c.Security.JWTSigningKey) < 32 {
		return fmt.Errorf("security.jwt_signing_key must be at least 32 characters")
	}
	switch c.Engine.Dispatcher {
	case DispatcherLocal, DispatcherRiver:
	default:
		return fmt.Errorf("engine.dispatcher must be %q or %q, got %q",
			DispatcherLocal, DispatcherRiver, c.Engine.Dispatcher)
	}
	switch c.Engine.Store {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("engine.store must be %q or %q, got %q",
			StoreMemory, StorePostgres, c.Engine.Store)
	}
	if c.Engine.Dispatcher == DispatcherRiver && c.Engine.Store != StorePostgres {
		return fmt.Errorf("engine.dispatcher %q requires engine.store %q", DispatcherRiver, StorePostgres)
	}
	if c.Engine.LockRetryBase > c.Engine.LockRetryMax {
		return fmt.Errorf("engine.lock_retry_base must not exceed engine.lock_retry_max")
	}
	return nil
}

// NeedsDatabase reports whether the configured backends use PostgreSQL.
func (c *Config) NeedsDatabase() bool {
	return c.Engine.Store == StorePostgres
}

// ensureSecrets auto-generates missing secrets.
func (c *Config) ensureSecrets() error {
	if c.Security.JWTSigningKey == "" {
		key, err := generateSecureRandomHex(32)
		if err != nil {
			return fmt.Errorf("auto-generate jwt signing key: %w", err)
		}
		c.Security.JWTSigningKey = key
		logBootstrapWarn(
			"auto-generated jwt_signing_key; set SECURITY_JWT_SIGNING_KEY env var for persistence",
			zap.Int("length", len(key)),
		)
	}
	return nil
}

func logBootstrapWarn(msg string, fields ...zap.Field) {
	bootstrapLoggerOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)

		l, err := cfg.Build()
		if err != nil {
			bootstrapLogger = zap.NewNop()
			return
		}
		bootstrapLogger = l
	})

	bootstrapLogger.Warn(msg, fields...)
}

// generateSecureRandomHex produces a hex-encoded string of n random bytes.
func generateSecureRandomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto/rand: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func setDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "330s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.allowed_origins", []string{})
	v.SetDefault("server.allow_credentials", true)
	v.SetDefault("server.unsafe_allow_all_origins", false)
	v.SetDefault("server.max_wait_seconds", 300)

	// Database
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "fleetd")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "fleetd")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 50)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", "1h")
	v.SetDefault("database.max_conn_idle_time", "10m")
	v.SetDefault("database.auto_migrate", false)

	// Log
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// River
	v.SetDefault("river.max_workers", 10)
	v.SetDefault("river.action_workers", 20)
	v.SetDefault("river.completed_job_retention_period", "24h")

	// Worker pools
	v.SetDefault("worker.general_pool_size", 100)
	v.SetDefault("worker.action_pool_size", 50)

	// Engine
	v.SetDefault("engine.dispatcher", DispatcherLocal)
	v.SetDefault("engine.store", StoreMemory)
	v.SetDefault("engine.sweep_interval", "1m")
	v.SetDefault("engine.stale_after", "1m")
	v.SetDefault("engine.lock_retry_base", "50ms")
	v.SetDefault("engine.lock_retry_max", "2s")
	v.SetDefault("engine.lock_retry_attempts", 50)
	v.SetDefault("engine.default_action_timeout", "1h")
	v.SetDefault("engine.wait_interval", "200ms")

	// Security
	v.SetDefault("security.jwt_issuer", "fleetd")
	v.SetDefault("security.token_lifetime", "24h")

	// Rate limit
	v.SetDefault("rate_limit.per_minute", 600)
	v.SetDefault("rate_limit.burst", 100)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Store    StoreConfig    `mapstructure:"store"`
	Log      LogConfig      `mapstructure:"log"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port            int    `mapstructure:"port"`
	Host            string `mapstructure:"host"`
	Environment     string `mapstructure:"environment"`
	MetricsEnabled  bool   `mapstructure:"metrics_enabled"`
	HealthCheckPath string `mapstructure:"health_check_path"`
}

// RedisConfig holds Redis-related configuration
type RedisConfig struct {
	URL          string        `mapstructure:"url"`
	MaxRetries   int           `mapstructure:"max_retries"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// PostgresConfig holds Postgres document-store configuration.
// Only used when store.backend is "postgres".
type PostgresConfig struct {
	DSN          string        `mapstructure:"dsn"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// AuthConfig holds authentication provider configuration
type AuthConfig struct {
	JWTSecret        string        `mapstructure:"jwt_secret"`
	JWTIssuer        string        `mapstructure:"jwt_issuer"`
	JWTExpiration    time.Duration `mapstructure:"jwt_expiration"`
	RecoveryTokenTTL time.Duration `mapstructure:"recovery_token_ttl"`
}

// StoreConfig holds document store configuration
type StoreConfig struct {
	Backend         string `mapstructure:"backend"` // redis or postgres
	UsersCollection string `mapstructure:"users_collection"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
	Encoding    string `mapstructure:"encoding"`
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/passport")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Config file is optional, env vars and defaults cover everything
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// Server defaults
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.host", "localhost")
	viper.SetDefault("server.environment", "development")
	viper.SetDefault("server.metrics_enabled", true)
	viper.SetDefault("server.health_check_path", "/health")

	// Redis defaults
	viper.SetDefault("redis.url", "redis://localhost:6379/0")
	viper.SetDefault("redis.max_retries", 3)
	viper.SetDefault("redis.pool_size", 10)
	viper.SetDefault("redis.dial_timeout", "5s")
	viper.SetDefault("redis.read_timeout", "3s")
	viper.SetDefault("redis.write_timeout", "3s")

	// Postgres defaults
	viper.SetDefault("postgres.dsn", "")
	viper.SetDefault("postgres.max_open_conns", 10)
	viper.SetDefault("postgres.max_idle_conns", 5)
	viper.SetDefault("postgres.conn_lifetime", "30m")

	// Auth defaults
	viper.SetDefault("auth.jwt_secret", "dev-jwt-secret-change-in-production")
	viper.SetDefault("auth.jwt_issuer", "passport")
	viper.SetDefault("auth.jwt_expiration", "24h")
	viper.SetDefault("auth.recovery_token_ttl", "1h")

	// Store defaults
	viper.SetDefault("store.backend", "redis")
	viper.SetDefault("store.users_collection", "users")

	// Log defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.environment", "development")
	viper.SetDefault("log.encoding", "console")
}

// validateConfig validates the loaded configuration
func validateConfig(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", cfg.Server.Port)
	}

	if cfg.Server.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}

	if cfg.Redis.URL == "" {
		return fmt.Errorf("redis url cannot be empty")
	}

	if cfg.Redis.PoolSize < 1 {
		return fmt.Errorf("redis pool size must be at least 1")
	}

	switch cfg.Store.Backend {
	case "redis":
	case "postgres":
		if cfg.Postgres.DSN == "" {
			return fmt.Errorf("postgres dsn is required for postgres store backend")
		}
	default:
		return fmt.Errorf("unknown store backend: %s", cfg.Store.Backend)
	}

	if cfg.Store.UsersCollection == "" {
		return fmt.Errorf("users collection cannot be empty")
	}

	if cfg.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt secret cannot be empty")
	}

	if cfg.Auth.JWTExpiration <= 0 {
		return fmt.Errorf("jwt expiration must be positive")
	}

	return nil
}

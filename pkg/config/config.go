// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/taskscope/taskscope/pkg/observability"
	"github.com/taskscope/taskscope/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server  ServerConfig
	Storage storage.Config
	Auth    AuthConfig
	Authz   AuthzConfig

	LogLevel observability.LogLevel
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// AuthConfig holds token issuing configuration
type AuthConfig struct {
	JWTSecret       string
	AccessDuration  time.Duration
	RefreshDuration time.Duration

	// How often expired rows are purged from the revocation table.
	RevocationPurgeSchedule string
}

// AuthzConfig holds authorization engine configuration
type AuthzConfig struct {
	// TTL of the in-process membership cache. Zero disables caching so
	// every decision reads the database.
	MembershipCacheTTL time.Duration
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("TASKSCOPE_HOST", "0.0.0.0"),
			Port:            getEnv("TASKSCOPE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("TASKSCOPE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("TASKSCOPE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("TASKSCOPE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("TASKSCOPE_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Storage: storage.Config{
			PostgresURL:     getEnv("TASKSCOPE_POSTGRES_URL", ""),
			MaxOpenConns:    getEnvInt("TASKSCOPE_POSTGRES_MAX_CONNS", 25),
			MaxIdleConns:    getEnvInt("TASKSCOPE_POSTGRES_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("TASKSCOPE_POSTGRES_CONN_LIFETIME", 5*time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:               getEnv("TASKSCOPE_JWT_SECRET", ""),
			AccessDuration:          getEnvDuration("TASKSCOPE_ACCESS_TOKEN_TTL", 15*time.Minute),
			RefreshDuration:         getEnvDuration("TASKSCOPE_REFRESH_TOKEN_TTL", 24*time.Hour),
			RevocationPurgeSchedule: getEnv("TASKSCOPE_REVOCATION_PURGE_SCHEDULE", "@hourly"),
		},
		Authz: AuthzConfig{
			MembershipCacheTTL: getEnvDuration("TASKSCOPE_AUTHZ_CACHE_TTL", 0),
		},
		LogLevel: observability.ParseLogLevel(getEnv("TASKSCOPE_LOG_LEVEL", "info")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required")
	}
	if c.Auth.AccessDuration <= 0 || c.Auth.RefreshDuration <= 0 {
		return fmt.Errorf("token durations must be positive")
	}
	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

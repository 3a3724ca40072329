// Package config loads service configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig
	Audit  AuditConfig
	Log    LogConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string
}

// AuditConfig holds audit subsystem configuration.
type AuditConfig struct {
	PostgresURL string

	// RedisAddr, when set, switches the request-context store to the
	// redis-backed implementation shared across instances.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	RetentionDays   int
	CleanupSchedule string
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("AUDIT_HOST", "0.0.0.0"),
			Port:            getEnv("AUDIT_PORT", "8080"),
			ReadTimeout:     getEnvDuration("AUDIT_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("AUDIT_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("AUDIT_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("AUDIT_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("AUDIT_HEALTH_PORT", "9090"),
		},
		Audit: AuditConfig{
			PostgresURL:     getEnv("AUDIT_POSTGRES_URL", "postgres://localhost/audittrail?sslmode=disable"),
			RedisAddr:       getEnv("AUDIT_REDIS_ADDR", ""),
			RedisPassword:   getEnv("AUDIT_REDIS_PASSWORD", ""),
			RedisDB:         getEnvInt("AUDIT_REDIS_DB", 0),
			RetentionDays:   getEnvInt("AUDIT_RETENTION_DAYS", 90),
			CleanupSchedule: getEnv("AUDIT_CLEANUP_SCHEDULE", "0 0 * * *"),
		},
		Log: LogConfig{
			Level: getEnv("AUDIT_LOG_LEVEL", "info"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Audit.PostgresURL == "" {
		return fmt.Errorf("AUDIT_POSTGRES_URL is required")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be positive, got %d", c.Audit.RetentionDays)
	}
	if c.Audit.CleanupSchedule == "" {
		return fmt.Errorf("AUDIT_CLEANUP_SCHEDULE is required")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}

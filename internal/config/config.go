package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates runtime configuration for the bucketd API.
type Config struct {
	Server   ServerConfig
	Postgres PostgresConfig
	Storage  StorageConfig
	Quota    QuotaConfig
	Sweep    SweepConfig
	Auth     AuthConfig
	Metrics  MetricsConfig
}

// ServerConfig parameterizes the HTTP server.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Address returns the listen address in host:port form.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PostgresConfig contains PostgreSQL connection details.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the PostgreSQL DSN string.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// StorageConfig locates the blob filesystem root.
type StorageConfig struct {
	Path string
}

// QuotaConfig controls per-user storage accounting.
type QuotaConfig struct {
	DefaultLimitBytes int64
	ReservationTTL    time.Duration
}

// SweepConfig controls the background reconciliation loop.
type SweepConfig struct {
	Interval    time.Duration
	OrphanGrace time.Duration
}

// AuthConfig groups authentication-related settings.
type AuthConfig struct {
	TokenSecret   string
	TokenTTL      time.Duration
	BcryptCost    int
	AdminEmail    string
	AdminPassword string
}

// MetricsConfig groups observability settings.
type MetricsConfig struct {
	PrometheusPath string
}

// Load reads configuration values from environment variables, applying defaults.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host:         getString("BUCKETD_API_HOST", "0.0.0.0"),
			Port:         getInt("BUCKETD_API_PORT", 8080),
			ReadTimeout:  getDuration("BUCKETD_API_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDuration("BUCKETD_API_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getDuration("BUCKETD_API_IDLE_TIMEOUT", 60*time.Second),
		},
		Postgres: PostgresConfig{
			Host:     getString("POSTGRES_HOST", "localhost"),
			Port:     getInt("POSTGRES_PORT", 5432),
			User:     getString("POSTGRES_USER", "bucketd_app"),
			Password: getString("POSTGRES_PASSWORD", "change-me"),
			Database: getString("POSTGRES_DB", "bucketd"),
			SSLMode:  strings.ToLower(getString("POSTGRES_SSL_MODE", "disable")),
		},
		Storage: StorageConfig{
			Path: getString("STORAGE_PATH", "/var/lib/bucketd/storage"),
		},
		Quota: QuotaConfig{
			DefaultLimitBytes: getInt64("BUCKETD_STORAGE_LIMIT_BYTES", 1<<30),
			ReservationTTL:    getDuration("BUCKETD_RESERVATION_TTL", 15*time.Minute),
		},
		Sweep: SweepConfig{
			Interval:    getDuration("BUCKETD_SWEEP_INTERVAL", 5*time.Minute),
			OrphanGrace: getDuration("BUCKETD_ORPHAN_GRACE", 30*time.Minute),
		},
		Auth: loadAuthConfig(),
		Metrics: MetricsConfig{
			PrometheusPath: getString("BUCKETD_METRICS_PATH", "/metrics"),
		},
	}

	return cfg, nil
}

func getString(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func getInt64(key string, fallback int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := strconv.ParseInt(val, 10, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func loadAuthConfig() AuthConfig {
	cost := getInt("BUCKETD_AUTH_BCRYPT_COST", 12)
	if cost < 4 || cost > 31 {
		cost = 12
	}

	return AuthConfig{
		TokenSecret:   getString("BUCKETD_JWT_SECRET", "change-me-to-a-32-byte-secret"),
		TokenTTL:      getDuration("BUCKETD_AUTH_TOKEN_TTL", 15*time.Minute),
		BcryptCost:    cost,
		AdminEmail:    getString("BUCKETD_ADMIN_EMAIL", "admin@example.com"),
		AdminPassword: getString("BUCKETD_ADMIN_PASSWORD", ""),
	}
}

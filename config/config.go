// Package config loads service configuration from the environment and the
// provider definitions from a YAML file, and watches that file for changes.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the complete service configuration
type Config struct {
	Environment string
	Server      ServerConfig
	Providers   ProvidersConfig
	Database    DatabaseConfig
	Ledger      LedgerConfig
	Health      HealthConfig
	Fallback    FallbackConfig
	Auth        AuthConfig
	Logging     LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Addr returns the host:port listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ProvidersConfig points at the provider definitions file
type ProvidersConfig struct {
	// File is the path to the providers YAML file
	File string

	// WatchEnabled turns on hot reload of the providers file
	WatchEnabled bool
}

// DatabaseConfig holds the optional ledger database settings. The ledger is
// disabled when ConnectionString is empty.
type DatabaseConfig struct {
	ConnectionString string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// Enabled reports whether a ledger database is configured
func (d DatabaseConfig) Enabled() bool {
	return d.ConnectionString != ""
}

// LogString returns the connection target with credentials removed
func (d DatabaseConfig) LogString() string {
	u, err := url.Parse(d.ConnectionString)
	if err != nil {
		return "(unparseable connection string)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

// LedgerConfig holds ledger buffering and retention settings
type LedgerConfig struct {
	BufferSize      int
	WorkerCount     int
	Retention       time.Duration
	CleanupInterval time.Duration
}

// HealthConfig holds health-monitor thresholds
type HealthConfig struct {
	SoftLatencyCeilingMs float64
	HardLatencyCeilingMs float64
	DegradedErrorRate    float64
	UnhealthyErrorRate   float64
	MaxSamples           int
}

// FallbackConfig holds orchestrator settings
type FallbackConfig struct {
	// Budget bounds the search for a replacement provider
	Budget time.Duration

	// EventLogSize caps the in-memory fallback event ring
	EventLogSize int
}

// AuthConfig holds the admin-endpoint token settings. Admin auth is disabled
// when TokenSecret is empty.
type AuthConfig struct {
	TokenSecret string
}

// Enabled reports whether admin endpoints require a bearer token
func (a AuthConfig) Enabled() bool {
	return a.TokenSecret != ""
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level string
}

// New creates a Config by loading environment variables. A .env file in the
// working directory is honored when present.
func New() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 90*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Providers: ProvidersConfig{
			File:         getEnv("PROVIDERS_FILE", "providers.yaml"),
			WatchEnabled: getEnvAsBool("PROVIDERS_WATCH", true),
		},
		Database: DatabaseConfig{
			ConnectionString: getEnv("DATABASE_URL", ""),
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
		},
		Ledger: LedgerConfig{
			BufferSize:      getEnvAsInt("LEDGER_BUFFER_SIZE", 10000),
			WorkerCount:     getEnvAsInt("LEDGER_WORKER_COUNT", 4),
			Retention:       getEnvAsDuration("LEDGER_RETENTION", 30*24*time.Hour),
			CleanupInterval: getEnvAsDuration("LEDGER_CLEANUP_INTERVAL", time.Hour),
		},
		Health: HealthConfig{
			SoftLatencyCeilingMs: getEnvAsFloat("HEALTH_SOFT_LATENCY_MS", 2000),
			HardLatencyCeilingMs: getEnvAsFloat("HEALTH_HARD_LATENCY_MS", 10000),
			DegradedErrorRate:    getEnvAsFloat("HEALTH_DEGRADED_ERROR_RATE", 0.10),
			UnhealthyErrorRate:   getEnvAsFloat("HEALTH_UNHEALTHY_ERROR_RATE", 0.50),
			MaxSamples:           getEnvAsInt("HEALTH_MAX_SAMPLES", 5000),
		},
		Fallback: FallbackConfig{
			Budget:       getEnvAsDuration("FALLBACK_BUDGET", 3*time.Second),
			EventLogSize: getEnvAsInt("FALLBACK_EVENT_LOG_SIZE", 256),
		},
		Auth: AuthConfig{
			TokenSecret: getEnv("ADMIN_TOKEN_SECRET", ""),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Providers.File == "" {
		return fmt.Errorf("PROVIDERS_FILE must not be empty")
	}
	if c.Fallback.Budget <= 0 {
		return fmt.Errorf("FALLBACK_BUDGET must be positive")
	}
	if c.Health.DegradedErrorRate < 0 || c.Health.DegradedErrorRate > 1 {
		return fmt.Errorf("HEALTH_DEGRADED_ERROR_RATE must be within [0,1]")
	}
	if c.Health.UnhealthyErrorRate < c.Health.DegradedErrorRate || c.Health.UnhealthyErrorRate > 1 {
		return fmt.Errorf("HEALTH_UNHEALTHY_ERROR_RATE must be within [degraded rate, 1]")
	}
	if c.Database.Enabled() && c.Ledger.WorkerCount <= 0 {
		return fmt.Errorf("LEDGER_WORKER_COUNT must be positive when the ledger is enabled")
	}
	return nil
}

// IsDevelopment reports whether the service runs in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction reports whether the service runs in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Environment variable helpers

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

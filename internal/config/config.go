package config

import (
	"fmt"
	"time"

	pkgconfig "github.com/lacehub/storefront/pkg/config"
)

// Config holds all configuration for the storefront service.
type Config struct {
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort int `env:"STOREFRONT_HTTP_PORT" envDefault:"8080"`

	// PostgreSQL
	PostgresHost string `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort int    `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser string `env:"POSTGRES_USER" envDefault:"storefront"`
	PostgresPass string `env:"POSTGRES_PASSWORD" envDefault:"storefront_secret"`
	PostgresDB   string `env:"STOREFRONT_DB_NAME" envDefault:"storefront_db"`
	PostgresSSL  string `env:"POSTGRES_SSL_MODE" envDefault:"disable"`

	// Database pool
	DBMaxConns            int32 `env:"DB_MAX_CONNS" envDefault:"25"`
	DBMinConns            int32 `env:"DB_MIN_CONNS" envDefault:"5"`
	DBMaxConnLifetimeMins int   `env:"DB_MAX_CONN_LIFETIME_MINUTES" envDefault:"60"`
	DBMaxConnIdleTimeMins int   `env:"DB_MAX_CONN_IDLE_TIME_MINUTES" envDefault:"30"`

	// Redis (cart storage, idempotency keys)
	RedisHost string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPass string `env:"REDIS_PASSWORD" envDefault:""`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	// Kafka
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`
	KafkaGroupID string   `env:"KAFKA_GROUP_ID" envDefault:"storefront"`

	// Reservation TTL in seconds (default 15 minutes)
	ReservationTTL int `env:"RESERVATION_TTL_SECONDS" envDefault:"900"`

	// Expiration sweep interval in seconds
	SweepInterval int `env:"RESERVATION_SWEEP_INTERVAL_SECONDS" envDefault:"60"`

	// Cart revalidation period in seconds
	CartRevalidationInterval int `env:"CART_REVALIDATION_INTERVAL_SECONDS" envDefault:"30"`

	// Cart TTL in hours (abandoned carts expire from Redis)
	CartTTLHours int `env:"CART_TTL_HOURS" envDefault:"72"`

	// Low stock alert threshold
	LowStockThreshold int `env:"LOW_STOCK_THRESHOLD" envDefault:"5"`

	// Catalog service (product metadata lookups)
	CatalogBaseURL string `env:"CATALOG_BASE_URL" envDefault:"http://localhost:8001"`

	// OpenTelemetry
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Slow query logging
	SlowQueryThresholdMs int `env:"LOG_SLOW_QUERY_MS" envDefault:"500"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load storefront config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}
	if c.PostgresHost == "" {
		return fmt.Errorf("POSTGRES_HOST is required")
	}
	if c.PostgresUser == "" {
		return fmt.Errorf("POSTGRES_USER is required")
	}
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.OTELSampleRate < 0 || c.OTELSampleRate > 1.0 {
		return fmt.Errorf("OTEL_SAMPLE_RATE must be between 0.0 and 1.0, got %f", c.OTELSampleRate)
	}
	if c.ReservationTTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL_SECONDS must be > 0, got %d", c.ReservationTTL)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("RESERVATION_SWEEP_INTERVAL_SECONDS must be > 0, got %d", c.SweepInterval)
	}
	if c.CartRevalidationInterval <= 0 {
		return fmt.Errorf("CART_REVALIDATION_INTERVAL_SECONDS must be > 0, got %d", c.CartRevalidationInterval)
	}
	if c.LowStockThreshold < 0 {
		return fmt.Errorf("LOW_STOCK_THRESHOLD must be >= 0, got %d", c.LowStockThreshold)
	}
	return nil
}

// PostgresDSN returns the PostgreSQL connection string.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.PostgresUser, c.PostgresPass, c.PostgresHost, c.PostgresPort, c.PostgresDB, c.PostgresSSL,
	)
}

// RedisAddr returns the Redis address in host:port form.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// ReservationTTLDuration returns the reservation TTL as a time.Duration.
func (c *Config) ReservationTTLDuration() time.Duration {
	return time.Duration(c.ReservationTTL) * time.Second
}

// SweepIntervalDuration returns the sweep interval as a time.Duration.
func (c *Config) SweepIntervalDuration() time.Duration {
	return time.Duration(c.SweepInterval) * time.Second
}

// CartRevalidationDuration returns the cart revalidation period as a time.Duration.
func (c *Config) CartRevalidationDuration() time.Duration {
	return time.Duration(c.CartRevalidationInterval) * time.Second
}

// CartTTLDuration returns the cart TTL as a time.Duration.
func (c *Config) CartTTLDuration() time.Duration {
	return time.Duration(c.CartTTLHours) * time.Hour
}

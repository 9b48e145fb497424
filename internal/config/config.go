// Package config loads BloodLift process settings from the environment and
// dispatch policy from a YAML file.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"

	"github.com/bloodlift/bloodlift/internal/database"
)

// Config is the process configuration.
type Config struct {
	Port       string `env:"APP_PORT, default=8080"`
	Env        string `env:"APP_ENV, default=development"`
	PolicyFile string `env:"POLICY_FILE"`

	// MemoryStore runs against in-memory stores instead of Postgres.
	MemoryStore bool `env:"MEMORY_STORE, default=false"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY"`
	RequireTLS    bool   `env:"REQUIRE_TLS, default=false"`

	Log       LogConfig
	Database  database.Config
	Weather   WeatherConfig
	MQTT      MQTTConfig
	Redis     RedisConfig
	PubSub    PubSubConfig
	Telemetry TelemetryConfig
	Dispatch  DispatchConfig
}

// LogConfig controls the root logger.
type LogConfig struct {
	Level  string `env:"LOG_LEVEL, default=info"`
	Pretty bool   `env:"LOG_PRETTY, default=false"`

	// File, when set, also writes rotated JSON logs there.
	File       string `env:"LOG_FILE"`
	MaxSizeMB  int    `env:"LOG_MAX_SIZE_MB, default=100"`
	MaxBackups int    `env:"LOG_MAX_BACKUPS, default=5"`
	MaxAgeDays int    `env:"LOG_MAX_AGE_DAYS, default=28"`
}

// WeatherConfig configures the weather provider.
type WeatherConfig struct {
	APIKey   string        `env:"OPENWEATHERMAP_API_KEY"`
	BaseURL  string        `env:"OPENWEATHERMAP_BASE_URL"`
	CacheTTL time.Duration `env:"WEATHER_CACHE_TTL, default=5m"`

	// DecisionMaxAge bounds the cached weather a launch may use.
	DecisionMaxAge time.Duration `env:"WEATHER_DECISION_MAX_AGE, default=1m"`
}

// MQTTConfig configures the carrier-control broker connection.
type MQTTConfig struct {
	Broker   string `env:"MQTT_BROKER"`
	ClientID string `env:"MQTT_CLIENT_ID, default=bloodlift-dispatch"`
	Username string `env:"MQTT_USERNAME"`
	Password string `env:"MQTT_PASSWORD"`
}

// RedisConfig configures event deduplication.
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB, default=0"`
}

// PubSubConfig configures the worker subscription.
type PubSubConfig struct {
	ProjectID    string `env:"PUBSUB_PROJECT_ID"`
	Subscription string `env:"PUBSUB_SUBSCRIPTION, default=bloodlift-worker"`
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool    `env:"OTEL_ENABLED, default=false"`
	OTLPEndpoint string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT, default=localhost:4317"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLE_RATIO, default=1"`
}

// DispatchConfig holds coordinator timing.
type DispatchConfig struct {
	FetchTimeout         time.Duration `env:"DISPATCH_FETCH_TIMEOUT, default=8s"`
	SubmitTimeout        time.Duration `env:"DISPATCH_SUBMIT_TIMEOUT, default=10s"`
	ReservationTTL       time.Duration `env:"DISPATCH_RESERVATION_TTL"`
	AutoDispatch         bool          `env:"AUTO_DISPATCH_ENABLED, default=false"`
	AutoDispatchInterval time.Duration `env:"AUTO_DISPATCH_INTERVAL, default=1m"`
	AutoDispatchWorkers  int           `env:"AUTO_DISPATCH_WORKERS, default=4"`
}

// Load reads an optional .env file and then the process environment.
func Load(ctx context.Context) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return LoadWith(ctx, envconfig.OsLookuper())
}

// LoadWith reads configuration from lookuper.
func LoadWith(ctx context.Context, lookuper envconfig.Lookuper) (*Config, error) {
	var cfg Config
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookuper,
	}); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether the process runs in production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

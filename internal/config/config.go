package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ProviderMock   = "mock"
	ProviderStripe = "stripe"
)

type Config struct {
	App struct {
		Name    string `envconfig:"APP_NAME" default:"payments"`
		Version string `envconfig:"APP_VERSION" default:"dev"`
		Port    int    `envconfig:"PORT" default:"8080"`
	}

	Log struct {
		Level  string `envconfig:"LOG_LEVEL" default:"info"`
		Format string `envconfig:"LOG_FORMAT" default:"json"`
	}

	DB struct {
		Driver   string `envconfig:"DB_DRIVER" default:"postgres"`
		Host     string `envconfig:"DB_HOST" default:"localhost"`
		Port     int    `envconfig:"DB_PORT" default:"5432"`
		User     string `envconfig:"DB_USER" default:"postgres"`
		Password string `envconfig:"DB_PASSWORD" default:""`
		Name     string `envconfig:"DB_NAME" default:"payments"`
		SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
		Migrate  bool   `envconfig:"DB_MIGRATE" default:"true"`
	}

	Server struct {
		Timeout         time.Duration `envconfig:"SERVER_TIMEOUT" default:"30s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
		AllowedOrigins  []string      `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	}

	Auth struct {
		// JWTSecret signs operator tokens. Empty disables authentication on the payment routes.
		JWTSecret string `envconfig:"JWT_SECRET"`
		Issuer    string `envconfig:"JWT_ISSUER" default:"payments"`
	}

	Gateway struct {
		Provider string        `envconfig:"GATEWAY_PROVIDER" default:"mock"`
		Timeout  time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`
		LeaseTTL time.Duration `envconfig:"GATEWAY_LEASE_TTL" default:"2m"`
	}

	Mock struct {
		DisableRandom bool            `envconfig:"MOCK_DISABLE_RANDOM" default:"false"`
		FailureRate   float64         `envconfig:"MOCK_FAILURE_RATE" default:"0.1"`
		DeclineAbove  decimal.Decimal `envconfig:"MOCK_DECLINE_ABOVE" default:"1000"`
	}

	Stripe struct {
		SecretKey        string        `envconfig:"STRIPE_SECRET_KEY"`
		BaseURL          string        `envconfig:"STRIPE_BASE_URL" default:"https://api.stripe.com"`
		WebhookSecret    string        `envconfig:"STRIPE_WEBHOOK_SECRET"`
		WebhookTolerance time.Duration `envconfig:"STRIPE_WEBHOOK_TOLERANCE" default:"5m"`
	}

	Kafka struct {
		Brokers []string      `envconfig:"KAFKA_BROKERS"`
		Topic   string        `envconfig:"KAFKA_TOPIC"`
		Timeout time.Duration `envconfig:"KAFKA_WRITE_TIMEOUT" default:"5s"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
		List     string `envconfig:"REDIS_DEADLETTER_LIST"`
	}

	Telemetry struct {
		OTLPEndpoint string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
		Insecure     bool    `envconfig:"OTEL_EXPORTER_OTLP_INSECURE" default:"true"`
		SampleRatio  float64 `envconfig:"OTEL_SAMPLE_RATIO" default:"1"`
	}
}

func (c *Config) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DB.User, c.DB.Password, c.DB.Host, c.DB.Port, c.DB.Name, c.DB.SSLMode)
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	switch c.DB.Driver {
	case DriverPostgres, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverPostgres, DriverMemory, c.DB.Driver))
	}

	switch c.Gateway.Provider {
	case ProviderMock:
	case ProviderStripe:
		if strings.TrimSpace(c.Stripe.SecretKey) == "" {
			errs = append(errs, errors.New("STRIPE_SECRET_KEY is required for the stripe gateway"))
		}
	default:
		errs = append(errs, fmt.Errorf("GATEWAY_PROVIDER must be %q or %q, got %q", ProviderMock, ProviderStripe, c.Gateway.Provider))
	}

	if c.Gateway.Timeout <= 0 {
		errs = append(errs, errors.New("GATEWAY_TIMEOUT must be positive"))
	}

	if c.Gateway.LeaseTTL <= c.Gateway.Timeout {
		errs = append(errs, errors.New("GATEWAY_LEASE_TTL must exceed GATEWAY_TIMEOUT"))
	}

	if c.Mock.FailureRate < 0 || c.Mock.FailureRate > 1 {
		errs = append(errs, errors.New("MOCK_FAILURE_RATE must be within [0, 1]"))
	}

	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, errors.New("OTEL_SAMPLE_RATIO must be within [0, 1]"))
	}

	return errors.Join(errs...)
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

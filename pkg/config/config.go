package config

import (
	"errors"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the metabridge service.
type Config struct {
	App     AppConfig
	HTTP    HTTPConfig
	Webhook WebhookConfig
	MLE     MLEConfig
	OAuth   OAuthConfig
	AEM     AEMConfig
	Sync    SyncConfig
	Kafka   KafkaConfig
	Archive ArchiveConfig
	Tracing TracingConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"metabridge"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

type HTTPConfig struct {
	Port         string        `env:"PORT" envDefault:"8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

type WebhookConfig struct {
	// Secret signs inbound AEM events. Empty disables signature checks,
	// which is only acceptable in unauthenticated test environments.
	Secret string `env:"AEM_WEBHOOK_SECRET"`
}

type MLEConfig struct {
	BaseURL    string        `env:"MLE_API_URL"`
	APIVersion string        `env:"MLE_API_VERSION" envDefault:"v1"`
	Timeout    time.Duration `env:"MLE_API_TIMEOUT" envDefault:"30s"`
}

type OAuthConfig struct {
	ClientID     string `env:"OAUTH_CLIENT_ID"`
	ClientSecret string `env:"OAUTH_CLIENT_SECRET"`
	TokenURL     string `env:"OAUTH_TOKEN_URL"`
	Scope        string `env:"OAUTH_SCOPE" envDefault:"asset.write"`
}

type AEMConfig struct {
	AuthorURL  string `env:"AEM_AUTHOR_URL"`
	PublishURL string `env:"AEM_PUBLISH_URL"`
}

type SyncConfig struct {
	// MaxAttempts bounds retries of retryable MLE failures. 1 disables
	// the retry wrapper entirely.
	MaxAttempts    int           `env:"SYNC_MAX_ATTEMPTS" envDefault:"1"`
	InitialBackoff time.Duration `env:"SYNC_INITIAL_BACKOFF" envDefault:"500ms"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:","`
	OutcomeTopic     string        `env:"KAFKA_OUTCOME_TOPIC" envDefault:"metabridge.sync-outcomes"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"1s"`
}

type ArchiveConfig struct {
	Enabled   bool   `env:"ARCHIVE_ENABLED" envDefault:"false"`
	Provider  string `env:"ARCHIVE_PROVIDER" envDefault:"minio"`
	Endpoint  string `env:"ARCHIVE_ENDPOINT" envDefault:"localhost:9000"`
	Region    string `env:"ARCHIVE_REGION" envDefault:"us-east-1"`
	Bucket    string `env:"ARCHIVE_BUCKET" envDefault:"metabridge-failed-events"`
	AccessKey string `env:"ARCHIVE_ACCESS_KEY"`
	SecretKey string `env:"ARCHIVE_SECRET_KEY"`
	UseSSL    bool   `env:"ARCHIVE_USE_SSL" envDefault:"false"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=metabridge"`
}

// Load parses environment variables into Config and validates the settings
// the sync path cannot run without.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the outbound API and OAuth settings are present.
func (c *Config) Validate() error {
	if c.MLE.BaseURL == "" {
		return errors.New("config: MLE_API_URL is required")
	}
	if c.OAuth.TokenURL == "" {
		return errors.New("config: OAUTH_TOKEN_URL is required")
	}
	if c.OAuth.ClientID == "" || c.OAuth.ClientSecret == "" {
		return errors.New("config: OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required")
	}
	return nil
}

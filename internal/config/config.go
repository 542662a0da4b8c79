package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config contains pastedb configuration parameters.
type Config struct {
	LogLevel int      `env:"LOG_LEVEL" envDefault:"0"`
	Backend  Backend  `envPrefix:"BACKEND_"`
	Index    Index    `envPrefix:"INDEX_"`
	Auth     Auth     `envPrefix:"AUTH_"`
	Minio    Minio    `envPrefix:"MINIO_"`
	S3       S3       `envPrefix:"S3_"`
	GCS      GCS      `envPrefix:"GCS_"`
	Postgres Postgres `envPrefix:"POSTGRES_"`
}

// Backend contains backend registration and selection parameters.
type Backend struct {
	Preferred    string        `env:"PREFERRED" envDefault:"dpaste"`
	Enabled      []string      `env:"ENABLED" envSeparator:"," envDefault:"dpaste,pasteee,hastebin,justpaste,pastebincom,controlc"`
	PingTimeout time.Duration `env:"PING_TIMEOUT" envDefault:"10s"`
	UserAgent    string        `env:"USER_AGENT" envDefault:"PasteDB/1.0"`
	CacheSize    int           `env:"CACHE_SIZE" envDefault:"256"`
	CacheTTL     time.Duration `env:"CACHE_TTL" envDefault:"5m"`
	LogCalls     bool          `env:"LOG_CALLS" envDefault:"false"`
	PasteEeKey   string        `env:"PASTEEE_KEY"`
	PastebinKey  string        `env:"PASTEBIN_DEV_KEY"`
}

// Index contains index pointer persistence parameters.
type Index struct {
	DSN string `env:"DSN"`
	ID  string `env:"ID"`
}

// Auth contains password hashing and session parameters.
type Auth struct {
	Iterations int           `env:"ITERATIONS" envDefault:"100000"`
	SaltBytes  int           `env:"SALT_BYTES" envDefault:"16"`
	TokenBytes int           `env:"TOKEN_BYTES" envDefault:"32"`
	SessionTTL time.Duration `env:"SESSION_TTL" envDefault:"720h"`
}

// Minio contains MinIO backend parameters. An empty endpoint disables it.
type Minio struct {
	Endpoint  string `env:"ENDPOINT"`
	AccessKey string `env:"ACCESS_KEY"`
	SecretKey string `env:"SECRET_KEY"`
	Bucket    string `env:"BUCKET_NAME" envDefault:"pastedb-blobs"`
	UseSSL    bool   `env:"USE_SSL" envDefault:"false"`
}

// S3 contains S3 backend parameters. An empty bucket disables it.
type S3 struct {
	Bucket       string `env:"BUCKET"`
	Region       string `env:"REGION" envDefault:"us-east-1"`
	AccessKey    string `env:"ACCESS_KEY"`
	SecretKey    string `env:"SECRET_KEY"`
	BaseEndpoint string `env:"BASE_ENDPOINT"`
}

// GCS contains Google Cloud Storage backend parameters. An empty bucket disables it.
type GCS struct {
	Bucket   string `env:"BUCKET"`
	Endpoint string `env:"ENDPOINT"`
	NoAuth   bool   `env:"NO_AUTH" envDefault:"false"`
}

// Postgres contains PostgreSQL backend parameters. An empty DSN disables it.
type Postgres struct {
	DSN string `env:"DSN"`
}

// NewConfig loads configuration from environment variables.
func NewConfig() (*Config, error) {
	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Auth.Iterations < 1 {
		return fmt.Errorf("invalid config: AUTH_ITERATIONS must be positive, got %d", c.Auth.Iterations)
	}
	if c.Auth.SaltBytes < 1 {
		return fmt.Errorf("invalid config: AUTH_SALT_BYTES must be positive, got %d", c.Auth.SaltBytes)
	}
	if c.Auth.TokenBytes < 16 {
		return fmt.Errorf("invalid config: AUTH_TOKEN_BYTES must be at least 16, got %d", c.Auth.TokenBytes)
	}
	if c.Auth.SessionTTL <= 0 {
		return fmt.Errorf("invalid config: AUTH_SESSION_TTL must be positive, got %s", c.Auth.SessionTTL)
	}
	if c.Backend.PingTimeout <= 0 {
		return fmt.Errorf("invalid config: BACKEND_PING_TIMEOUT must be positive, got %s", c.Backend.PingTimeout)
	}
	return nil
}

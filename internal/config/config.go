package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	StoreDriver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	DBPath      string `envconfig:"DB_PATH" default:"cloudcast.db"`
	StateDir    string `envconfig:"STATE_DIR" default:"state"`

	StorageBackend string `envconfig:"STORAGE_BACKEND" default:"s3"`

	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	MaxResumeAttempts int           `envconfig:"MAX_RESUME_ATTEMPTS" default:"5"`
	KeepPartialsFor   time.Duration `envconfig:"KEEP_PARTIALS_FOR" default:"24h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	S3 struct {
		Bucket               string `split_words:"true"`
		Region               string `split_words:"true" default:"us-east-1"`
		Endpoint             string `split_words:"true"`
		AccessKey            string `split_words:"true"`
		SecretKey            string `split_words:"true"`
		SessionToken         string `split_words:"true"`
		PartSize             int64  `split_words:"true" default:"5242880"`
		Concurrency          int    `split_words:"true" default:"5"`
		ChecksumWhenRequired bool   `split_words:"true"`
	}

	Minio struct {
		Endpoint  string `split_words:"true" default:"http://localhost:9000"`
		Region    string `split_words:"true" default:"us-east-1"`
		Bucket    string `split_words:"true"`
		AccessKey string `split_words:"true"`
		SecretKey string `split_words:"true"`
		PartSize  uint64 `split_words:"true"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"cloudcast"`
		ServiceVersion string `split_words:"true" default:"dev"`
		OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
		OTLPInsecure   bool   `envconfig:"OTLP_INSECURE"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9091"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the settings envconfig cannot express.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "sqlite", "file":
	default:
		errs = append(errs, fmt.Errorf("invalid STORE_DRIVER %q: want sqlite or file", c.StoreDriver))
	}

	switch c.StorageBackend {
	case "s3":
		if c.S3.Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for the s3 backend"))
		}
	case "minio":
		if c.Minio.Bucket == "" {
			errs = append(errs, errors.New("MINIO_BUCKET is required for the minio backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid STORAGE_BACKEND %q: want s3 or minio", c.StorageBackend))
	}

	if c.MaxResumeAttempts < 0 {
		errs = append(errs, errors.New("MAX_RESUME_ATTEMPTS must not be negative"))
	}

	return errors.Join(errs...)
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

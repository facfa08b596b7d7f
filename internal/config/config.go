package config

import (
	"errors"
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var ErrMissingRequired = errors.New("missing required configuration")

const (
	BackendAzure    = "azure"
	BackendWeaviate = "weaviate"
)

type Config struct {
	// Backend selects the index service: "azure" (REST) or "weaviate".
	Backend string `envconfig:"INDEX_BACKEND" default:"azure"`

	SearchEndpoint   string `envconfig:"SEARCH_SERVICE_ENDPOINT"`
	SearchAPIKey     string `envconfig:"SEARCH_SERVICE_KEY"`
	SearchAPIVersion string `envconfig:"SEARCH_API_VERSION" default:"2024-07-01"`

	WeaviateHost   string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme string `envconfig:"WEAVIATE_SCHEME" default:"http"`

	IndexName      string `envconfig:"INDEX_NAME" default:"documents"`
	BatchSize      int    `envconfig:"INDEX_BATCH_SIZE" default:"1000"`
	Concurrency    int    `envconfig:"INDEX_CONCURRENCY" default:"4"`
	CheckpointPath string `envconfig:"CHECKPOINT_PATH" default:"data/checkpoint.json"`

	// Resilience
	UploadMaxAttempts  int     `envconfig:"UPLOAD_MAX_ATTEMPTS" default:"3"`
	UploadTimeoutSecs  int     `envconfig:"UPLOAD_TIMEOUT_SECONDS" default:"30"`
	UploadRequestsPerS float64 `envconfig:"UPLOAD_REQUESTS_PER_SECOND" default:"5"`
}

func Load() (*Config, error) {
	// Env vars may be set in the shell instead, so a missing .env is fine.
	_ = godotenv.Load(".env")

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAzure:
		if c.SearchEndpoint == "" {
			return fmt.Errorf("%w: SEARCH_SERVICE_ENDPOINT", ErrMissingRequired)
		}
		if c.SearchAPIKey == "" {
			return fmt.Errorf("%w: SEARCH_SERVICE_KEY", ErrMissingRequired)
		}
	case BackendWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q", c.Backend)
	}

	if c.BatchSize <= 0 {
		return errors.New("INDEX_BATCH_SIZE must be positive")
	}
	if c.Concurrency <= 0 {
		return errors.New("INDEX_CONCURRENCY must be positive")
	}
	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	ProviderFal    = "fal"
	ProviderStatic = "static"

	DefaultFalModel       = "fal-ai/veo3.1/reference-to-video"
	DefaultStaticVideoURL = "https://ai-video-generator-assets.s3.us-east-1.amazonaws.com/videos/cat.mp4"
)

// Config captures the runtime configuration for the video generation service.
type Config struct {
	AppPort          int
	LogLevel         string
	LogFormat        string
	CORSOrigins      []string
	HTTPWriteTimeout time.Duration
	MaxMemoryBytes   int64
	RateLimitPerMin  int
	RateLimitBurst   int

	Provider ProviderConfig
	Store    ObjectStoreConfig
	Pipeline PipelineConfig

	FetchProxy   string
	DatabaseURL  string
	MigrationDir string
}

// ProviderConfig selects and configures the video generation provider.
type ProviderConfig struct {
	Name           string
	FalKey         string
	FalBaseURL     string
	FalModel       string
	PollInterval   time.Duration
	StaticVideoURL string
}

// ObjectStoreConfig points the storage layer at an S3-compatible bucket.
type ObjectStoreConfig struct {
	Bucket        string
	Region        string
	Endpoint      string
	PublicBaseURL string
	PathStyle     bool
	PublicACL     bool
}

// PipelineConfig bounds each external call made while generating a video.
type PipelineConfig struct {
	StorageTimeout  time.Duration
	ProviderTimeout time.Duration
	FetchTimeout    time.Duration
	RetryBackoff    time.Duration
}

// Load reads configuration from environment variables, applying sensible defaults
// for local development. A .env file in the working directory is honoured when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppPort:          getInt("PORT", 5001),
		LogLevel:         getString("VIDGEN_LOG_LEVEL", "info"),
		LogFormat:        getString("VIDGEN_LOG_FORMAT", "json"),
		CORSOrigins:      getList("VIDGEN_CORS_ORIGINS", []string{"http://localhost:3000"}),
		HTTPWriteTimeout: getDuration("VIDGEN_HTTP_WRITE_TIMEOUT", 15*time.Minute),
		MaxMemoryBytes:   int64(getInt("VIDGEN_MAX_MEMORY_BYTES", 32<<20)),
		RateLimitPerMin:  getInt("VIDGEN_RATE_LIMIT_PER_MINUTE", 0),
		RateLimitBurst:   getInt("VIDGEN_RATE_LIMIT_BURST", 5),
		Provider: ProviderConfig{
			Name:           strings.ToLower(getString("VIDGEN_PROVIDER", ProviderFal)),
			FalKey:         strings.TrimSpace(os.Getenv("FAL_KEY")),
			FalBaseURL:     getString("VIDGEN_FAL_BASE_URL", "https://queue.fal.run"),
			FalModel:       getString("VIDGEN_FAL_MODEL", DefaultFalModel),
			PollInterval:   getDuration("VIDGEN_FAL_POLL_INTERVAL", 2*time.Second),
			StaticVideoURL: getString("VIDGEN_STATIC_VIDEO_URL", DefaultStaticVideoURL),
		},
		Store: ObjectStoreConfig{
			Bucket:        getString("VIDGEN_S3_BUCKET", os.Getenv("S3_BUCKET_NAME")),
			Region:        getString("AWS_REGION", "us-east-1"),
			Endpoint:      os.Getenv("VIDGEN_S3_ENDPOINT"),
			PublicBaseURL: os.Getenv("VIDGEN_S3_PUBLIC_BASE_URL"),
			PathStyle:     getBool("VIDGEN_S3_PATH_STYLE", false),
			PublicACL:     getBool("VIDGEN_S3_PUBLIC_ACL", false),
		},
		Pipeline: PipelineConfig{
			StorageTimeout:  getDuration("VIDGEN_STORAGE_TIMEOUT", 60*time.Second),
			ProviderTimeout: getDuration("VIDGEN_PROVIDER_TIMEOUT", 10*time.Minute),
			FetchTimeout:    getDuration("VIDGEN_FETCH_TIMEOUT", 2*time.Minute),
			RetryBackoff:    getDuration("VIDGEN_RETRY_BACKOFF", 500*time.Millisecond),
		},
		FetchProxy:   os.Getenv("VIDGEN_FETCH_PROXY"),
		DatabaseURL:  os.Getenv("VIDGEN_DATABASE_URL"),
		MigrationDir: getString("VIDGEN_MIGRATIONS", "migrations"),
	}

	return cfg, nil
}

// Validate reports configuration problems that must stop the service from starting.
func (c Config) Validate() error {
	var errs []error

	if c.AppPort <= 0 || c.AppPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.AppPort))
	}
	if strings.TrimSpace(c.Store.Bucket) == "" {
		errs = append(errs, errors.New("S3_BUCKET_NAME is required"))
	}

	switch c.Provider.Name {
	case ProviderFal:
		if c.Provider.FalKey == "" {
			errs = append(errs, errors.New("FAL_KEY is required for the fal provider"))
		}
	case ProviderStatic:
		if strings.TrimSpace(c.Provider.StaticVideoURL) == "" {
			errs = append(errs, errors.New("VIDGEN_STATIC_VIDEO_URL is required for the static provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider.Name))
	}

	return errors.Join(errs...)
}

func getString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func getList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

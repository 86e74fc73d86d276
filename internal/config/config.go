package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the roomscan server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	OCR       OCRConfig
	Inference InferenceConfig
	Pipeline  PipelineConfig
	Retry     RetryConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	MaxUploadBytes  int64
	CORSOrigins     []string
	RateLimitPerMin int
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

type OCRConfig struct {
	BaseURL string
	Timeout time.Duration
}

type InferenceConfig struct {
	Provider             string
	BaseURL              string
	IntermediateEndpoint string
	FinalEndpoint        string
	Timeout              time.Duration
	ModelVersion         string
}

type PipelineConfig struct {
	ConfidenceThreshold float64
	OutputMode          string
	StageBudget         time.Duration
	PreviewCacheTTL     time.Duration
	JobRetention        time.Duration
	StageTimeout        time.Duration
	AutoRun             bool
}

type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

type NotifyConfig struct {
	CallbackURL     string
	Concurrency     int
	SendTimeout     time.Duration
	SubscriptionTTL time.Duration
}

var validProviders = map[string]bool{
	"endpoint": true,
	"mock":     true,
}

var validOutputModes = map[string]bool{
	"boxes":    true,
	"polygons": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("ROOMSCAN_PORT", 8080),
			Env:             envString("ROOMSCAN_ENV", "development"),
			MaxUploadBytes:  int64(envInt("ROOMSCAN_MAX_UPLOAD_MB", 50)) << 20,
			CORSOrigins:     envList("ROOMSCAN_CORS_ORIGINS", []string{"*"}),
			RateLimitPerMin: envInt("ROOMSCAN_RATE_LIMIT_PER_MIN", 60),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("DATABASE_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		OCR: OCRConfig{
			BaseURL: os.Getenv("OCR_BASE_URL"),
			Timeout: envDurationSecs("OCR_TIMEOUT_SECS", 20*time.Second),
		},
		Inference: InferenceConfig{
			Provider:             envString("INFERENCE_PROVIDER", "endpoint"),
			BaseURL:              os.Getenv("INFERENCE_BASE_URL"),
			IntermediateEndpoint: envString("INFERENCE_INTERMEDIATE_ENDPOINT", "room-detection-intermediate"),
			FinalEndpoint:        envString("INFERENCE_FINAL_ENDPOINT", "room-detection-final"),
			Timeout:              envDurationSecs("INFERENCE_TIMEOUT_SECS", 25*time.Second),
			ModelVersion:         envString("MODEL_VERSION", "1.0.0"),
		},
		Pipeline: PipelineConfig{
			ConfidenceThreshold: envFloat("CONFIDENCE_THRESHOLD", 0.7),
			OutputMode:          envString("OUTPUT_MODE", "boxes"),
			StageBudget:         envDurationSecs("STAGE_BUDGET_SECS", 30*time.Second),
			PreviewCacheTTL:     envDuration("PREVIEW_CACHE_TTL", time.Hour),
			JobRetention:        envDuration("JOB_RETENTION", 7*24*time.Hour),
			StageTimeout:        envDurationSecs("STAGE_TIMEOUT_SECS", 300*time.Second),
			AutoRun:             envBool("PIPELINE_AUTO_RUN", true),
		},
		Retry: RetryConfig{
			MaxRetries:   envInt("RETRY_MAX_RETRIES", 3),
			InitialDelay: envDuration("RETRY_INITIAL_DELAY", time.Second),
			MaxDelay:     envDuration("RETRY_MAX_DELAY", 8*time.Second),
			Multiplier:   envFloat("RETRY_MULTIPLIER", 2),
		},
		Notify: NotifyConfig{
			CallbackURL:     os.Getenv("CONNECTIONS_CALLBACK_URL"),
			Concurrency:     envInt("NOTIFY_CONCURRENCY", 10),
			SendTimeout:     envDuration("NOTIFY_SEND_TIMEOUT", 5*time.Second),
			SubscriptionTTL: envDuration("SUBSCRIPTION_TTL", time.Hour),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := requireHTTPURL("OCR_BASE_URL", c.OCR.BaseURL); err != nil {
		return err
	}
	if err := requireHTTPURL("CONNECTIONS_CALLBACK_URL", c.Notify.CallbackURL); err != nil {
		return err
	}

	if !validProviders[c.Inference.Provider] {
		return fmt.Errorf("INFERENCE_PROVIDER must be one of endpoint, mock; got %q", c.Inference.Provider)
	}
	if c.Inference.Provider == "endpoint" {
		if err := requireHTTPURL("INFERENCE_BASE_URL", c.Inference.BaseURL); err != nil {
			return fmt.Errorf("%w when INFERENCE_PROVIDER is endpoint", err)
		}
	}

	if c.Pipeline.ConfidenceThreshold < 0 || c.Pipeline.ConfidenceThreshold > 1 {
		return fmt.Errorf("CONFIDENCE_THRESHOLD must be within [0,1], got %v", c.Pipeline.ConfidenceThreshold)
	}
	if !validOutputModes[c.Pipeline.OutputMode] {
		return fmt.Errorf("OUTPUT_MODE must be one of boxes, polygons; got %q", c.Pipeline.OutputMode)
	}

	if c.Notify.Concurrency <= 0 {
		return fmt.Errorf("NOTIFY_CONCURRENCY must be positive, got %d", c.Notify.Concurrency)
	}

	return nil
}

func requireHTTPURL(key, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", key)
	}
	if !strings.HasPrefix(v, "http://") && !strings.HasPrefix(v, "https://") {
		return fmt.Errorf("%s must start with http:// or https://, got %q", key, v)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}

// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Provider names accepted in PROVIDER.
const (
	ProviderVeo     = "veo"
	ProviderGateway = "gateway"
)

// Static errors for configuration validation.
var (
	// ErrGeminiAPIKeyRequired is returned when the veo provider has neither
	// GEMINI_API_KEY nor GOOGLE_CLOUD_PROJECT.
	ErrGeminiAPIKeyRequired = errors.New("config: GEMINI_API_KEY or GOOGLE_CLOUD_PROJECT is required")
	// ErrGatewayURLRequired is returned when the gateway provider has no GATEWAY_URL.
	ErrGatewayURLRequired = errors.New("config: GATEWAY_URL is required")
	// ErrUnknownProvider is returned when PROVIDER is not a known provider.
	ErrUnknownProvider = errors.New("config: PROVIDER must be veo or gateway")
	// ErrInvalidPolling is returned when poll settings are not positive.
	ErrInvalidPolling = errors.New("config: poll settings must be positive")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int    `env:"PORT, default=8080" json:"port"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`

	// Provider selection
	Provider string `env:"PROVIDER, default=veo" json:"provider"`

	// Veo settings
	GeminiAPIKey        string `env:"GEMINI_API_KEY" json:"-"` // Masked in JSON
	GoogleCloudProject  string `env:"GOOGLE_CLOUD_PROJECT" json:"google_cloud_project,omitempty"`
	GoogleCloudLocation string `env:"GOOGLE_CLOUD_LOCATION, default=us-central1" json:"google_cloud_location"`
	VeoModel            string `env:"VEO_MODEL, default=veo-3.1-generate-preview" json:"veo_model"`
	VeoOutputGCSURI     string `env:"VEO_OUTPUT_GCS_URI" json:"veo_output_gcs_uri,omitempty"`

	// Gateway settings
	GatewayURL        string `env:"GATEWAY_URL" json:"gateway_url,omitempty"`
	GatewayAPIKey     string `env:"GATEWAY_API_KEY" json:"-"` // Masked in JSON
	GatewayMaxRetries int    `env:"GATEWAY_MAX_RETRIES, default=0" json:"gateway_max_retries"`

	// Polling settings
	PollMaxAttempts  int           `env:"POLL_MAX_ATTEMPTS, default=24" json:"poll_max_attempts"`
	PollInitialDelay time.Duration `env:"POLL_INITIAL_DELAY, default=6s" json:"poll_initial_delay"`
	PollDelay        time.Duration `env:"POLL_DELAY, default=8s" json:"poll_delay"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// UseVertex reports whether Veo should go through Vertex AI instead of the Gemini API.
func (c *Config) UseVertex() bool {
	return c.GoogleCloudProject != ""
}

// Origins returns ALLOWED_ORIGINS split on commas.
func (c *Config) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// Load reads the optional dotenv files (".env" when none are given) and then
// the environment. Variables already set in the environment win over the files.
func Load(dotenvFiles ...string) (*Config, error) {
	if err := godotenv.Load(dotenvFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load dotenv: %w", err)
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the selected provider has its credentials and that
// poll settings are usable.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Provider) {
	case ProviderVeo:
		if c.GeminiAPIKey == "" && c.GoogleCloudProject == "" {
			return ErrGeminiAPIKeyRequired
		}
	case ProviderGateway:
		if c.GatewayURL == "" {
			return ErrGatewayURLRequired
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownProvider, c.Provider)
	}

	if c.PollMaxAttempts <= 0 || c.PollInitialDelay <= 0 || c.PollDelay <= 0 {
		return ErrInvalidPolling
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(c.LogLevel)}

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, Provider: %s, VeoModel: %s, GoogleCloudProject: %s, GeminiAPIKey: %s, GatewayURL: %s, GatewayAPIKey: %s, PollMaxAttempts: %d, PollInitialDelay: %s, PollDelay: %s, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.Provider,
		c.VeoModel,
		c.GoogleCloudProject,
		mask(c.GeminiAPIKey),
		c.GatewayURL,
		mask(c.GatewayAPIKey),
		c.PollMaxAttempts,
		c.PollInitialDelay,
		c.PollDelay,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

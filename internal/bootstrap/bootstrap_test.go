package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/veo-studio-api/internal/config"
	"github.com/maauso/veo-studio-api/internal/provider"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseConfig() *config.Config {
	return &config.Config{
		PollMaxAttempts:  24,
		PollInitialDelay: 6 * time.Second,
		PollDelay:        8 * time.Second,
	}
}

func TestNewDependencies_Gateway(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = config.ProviderGateway
	cfg.GatewayURL = "https://studio.example.com/api"

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)

	assert.IsType(t, &provider.GatewayProvider{}, deps.Provider)
	assert.NotNil(t, deps.Sessions)
	assert.Nil(t, deps.Archiver)
}

func TestNewDependencies_Veo(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = "VEO"
	cfg.GeminiAPIKey = "test-key"
	cfg.VeoModel = "veo-test"

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.IsType(t, &provider.VeoProvider{}, deps.Provider)
	assert.Equal(t, "veo", deps.Provider.Name())
}

func TestNewDependencies_WithS3(t *testing.T) {
	cfg := baseConfig()
	cfg.Provider = config.ProviderGateway
	cfg.GatewayURL = "https://studio.example.com/api"
	cfg.S3Bucket = "videos"
	cfg.S3Region = "us-east-1"
	cfg.S3Endpoint = "http://localhost:4566"
	cfg.AWSAccessKeyID = "test"
	cfg.AWSSecretAccessKey = "test"

	deps, err := NewDependencies(context.Background(), cfg, testLogger())
	require.NoError(t, err)
	assert.NotNil(t, deps.Archiver)
}

func TestNewDependencies_Errors(t *testing.T) {
	t.Run("unknown provider", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Provider = "runway"

		_, err := NewDependencies(context.Background(), cfg, testLogger())
		assert.ErrorIs(t, err, config.ErrUnknownProvider)
	})

	t.Run("veo without credentials", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Provider = config.ProviderVeo

		_, err := NewDependencies(context.Background(), cfg, testLogger())
		assert.ErrorIs(t, err, provider.ErrVeoCredentialsRequired)
	})

	t.Run("gateway without url", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Provider = config.ProviderGateway

		_, err := NewDependencies(context.Background(), cfg, testLogger())
		assert.ErrorIs(t, err, provider.ErrGatewayURLRequired)
	})
}

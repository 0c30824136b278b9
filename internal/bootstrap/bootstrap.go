// Package bootstrap provides dependency initialization for the video generation API.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/maauso/veo-studio-api/internal/config"
	"github.com/maauso/veo-studio-api/internal/poller"
	"github.com/maauso/veo-studio-api/internal/provider"
	"github.com/maauso/veo-studio-api/internal/session"
	"github.com/maauso/veo-studio-api/internal/storage"
)

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Provider provider.Provider
	Sessions *session.Manager
	// Archiver is nil when S3 is not configured.
	Archiver *storage.S3Archiver
}

// NewDependencies creates and initializes all dependencies for the application.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	p, err := initProvider(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	opts := []session.Option{
		session.WithLogger(logger),
		session.WithPollConfig(poller.Config{
			MaxAttempts:  cfg.PollMaxAttempts,
			InitialDelay: cfg.PollInitialDelay,
			PollDelay:    cfg.PollDelay,
		}),
	}

	archiver, err := initArchiver(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		opts = append(opts, session.WithArchiver(archiver))
	}

	return &Dependencies{
		Provider: p,
		Sessions: session.NewManager(p, opts...),
		Archiver: archiver,
	}, nil
}

// initProvider creates the generation provider selected by PROVIDER.
func initProvider(ctx context.Context, cfg *config.Config, logger *slog.Logger) (provider.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderVeo:
		p, err := provider.NewVeoProvider(ctx, provider.VeoConfig{
			APIKey:       cfg.GeminiAPIKey,
			Project:      cfg.GoogleCloudProject,
			Location:     cfg.GoogleCloudLocation,
			Model:        cfg.VeoModel,
			OutputGCSURI: cfg.VeoOutputGCSURI,
		})
		if err != nil {
			return nil, fmt.Errorf("create Veo provider: %w", err)
		}
		logger.Info("Veo provider configured",
			slog.String("model", cfg.VeoModel),
			slog.Bool("vertex", cfg.UseVertex()),
		)
		return p, nil

	case config.ProviderGateway:
		p, err := provider.NewGatewayProvider(cfg.GatewayURL,
			provider.WithGatewayAPIKey(cfg.GatewayAPIKey),
			provider.WithMaxRetries(cfg.GatewayMaxRetries),
		)
		if err != nil {
			return nil, fmt.Errorf("create gateway provider: %w", err)
		}
		logger.Info("gateway provider configured",
			slog.String("url", cfg.GatewayURL),
			slog.Int("max_retries", cfg.GatewayMaxRetries),
		)
		return p, nil

	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownProvider, cfg.Provider)
	}
}

// initArchiver creates the S3 archiver when S3 is configured.
func initArchiver(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage.S3Archiver, error) {
	if !cfg.S3Enabled() {
		logger.Info("video archiving disabled")
		return nil, nil
	}

	opts := []storage.S3Option{storage.WithLogger(logger)}
	// Gemini API file URIs require the API key to download.
	if strings.EqualFold(cfg.Provider, config.ProviderVeo) && !cfg.UseVertex() {
		opts = append(opts, storage.WithFetchHeader("x-goog-api-key", cfg.GeminiAPIKey))
	}

	a, err := storage.NewS3Archiver(ctx, storage.S3Config{
		Bucket:          cfg.S3Bucket,
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.AWSAccessKeyID,
		SecretAccessKey: cfg.AWSSecretAccessKey,
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("create S3 archiver: %w", err)
	}
	logger.Info("S3 archiving configured",
		slog.String("bucket", cfg.S3Bucket),
		slog.String("region", cfg.S3Region),
	)
	return a, nil
}

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxVideoBytes bounds how much of a source video is buffered.
const DefaultMaxVideoBytes int64 = 512 << 20

// S3Config holds the configuration for S3 storage.
type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string // Optional: for custom S3-compatible endpoints
	AccessKeyID     string // Optional: AWS access key ID
	SecretAccessKey string // Optional: AWS secret access key
}

// S3Archiver downloads finished videos and stores them in an S3 bucket.
type S3Archiver struct {
	client       *s3.Client
	httpClient   *http.Client
	bucket       string
	region       string
	endpoint     string
	fetchHeaders http.Header
	maxBytes     int64
	logger       *slog.Logger
}

// S3Option configures an S3Archiver.
type S3Option func(*S3Archiver)

// WithDownloadClient sets the HTTP client used to fetch source videos.
func WithDownloadClient(c *http.Client) S3Option {
	return func(a *S3Archiver) {
		a.httpClient = c
	}
}

// WithFetchHeader adds a header to every source download, e.g. the
// x-goog-api-key required by Gemini API file URIs.
func WithFetchHeader(key, value string) S3Option {
	return func(a *S3Archiver) {
		if value != "" {
			a.fetchHeaders.Set(key, value)
		}
	}
}

// WithMaxVideoBytes sets the download size limit.
func WithMaxVideoBytes(n int64) S3Option {
	return func(a *S3Archiver) {
		if n > 0 {
			a.maxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) S3Option {
	return func(a *S3Archiver) {
		if l != nil {
			a.logger = l
		}
	}
}

// NewS3Archiver creates an S3Archiver for cfg.
func NewS3Archiver(ctx context.Context, cfg S3Config, opts ...S3Option) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, ErrS3NotConfigured
	}

	var configOpts []func(*config.LoadOptions) error
	configOpts = append(configOpts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}

	var clientOpts []func(*s3.Options)
	if cfg.Endpoint != "" {
		clientOpts = append(clientOpts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		})
	}

	a := &S3Archiver{
		client:       s3.NewFromConfig(awsCfg, clientOpts...),
		httpClient:   &http.Client{Timeout: 5 * time.Minute},
		bucket:       cfg.Bucket,
		region:       cfg.Region,
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		fetchHeaders: make(http.Header),
		maxBytes:     DefaultMaxVideoBytes,
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Archive downloads videoURI and uploads it under ObjectKey(operationName).
func (a *S3Archiver) Archive(ctx context.Context, operationName, videoURI string) (string, error) {
	if videoURI == "" {
		return "", ErrVideoURIRequired
	}

	data, err := a.download(ctx, videoURI)
	if err != nil {
		return "", err
	}

	key := ObjectKey(operationName)
	contentType := mimetype.Detect(data).String()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("upload to S3: %w", err)
	}

	url := a.objectURL(key)
	a.logger.Info("video archived",
		slog.String("operation", operationName),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
		slog.String("url", url),
	)
	return url, nil
}

func (a *S3Archiver) download(ctx context.Context, videoURI string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, videoURI, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrDownloadFailed, err)
	}
	for k, v := range a.fetchHeaders {
		req.Header[k] = v
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrDownloadFailed, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrDownloadFailed, err)
	}
	if int64(len(data)) > a.maxBytes {
		return nil, ErrVideoTooLarge
	}
	return data, nil
}

func (a *S3Archiver) objectURL(key string) string {
	if a.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", a.endpoint, a.bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", a.bucket, a.region, key)
}

// Compile-time check that S3Archiver implements Archiver.
var _ Archiver = (*S3Archiver)(nil)

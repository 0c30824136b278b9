package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/maauso/veo-studio-api/internal/generation"
)

// Static errors for the gateway provider.
var (
	// ErrGatewayURLRequired is returned when the base URL is not provided.
	ErrGatewayURLRequired = errors.New("gateway: base URL is required")
	// ErrNoOperationName is returned when a submit response carries no operation name.
	ErrNoOperationName = errors.New("gateway: no operation name returned")
	// ErrServerError is returned when the gateway answers with a 5xx status code.
	ErrServerError = errors.New("gateway: server error")
	// ErrRateLimited is returned when the gateway answers with 429.
	ErrRateLimited = errors.New("gateway: rate limited")
	// ErrRequestFailed is returned for any other non-2xx status code.
	ErrRequestFailed = errors.New("gateway: request failed")
)

// operationResponse is the wire shape shared by the gateway's submit and status endpoints.
type operationResponse struct {
	OperationName   string   `json:"operationName"`
	Done            bool     `json:"done"`
	VideoURIs       []string `json:"videoUris,omitempty"`
	ThrottleSeconds float64  `json:"throttleSeconds,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// GatewayProvider talks to a remote HTTP service that exposes the
// generate-video submit and status contract.
type GatewayProvider struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// GatewayOption configures a GatewayProvider.
type GatewayOption func(*GatewayProvider)

// WithGatewayAPIKey sets the bearer token sent with every request.
func WithGatewayAPIKey(key string) GatewayOption {
	return func(p *GatewayProvider) {
		p.apiKey = key
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) GatewayOption {
	return func(p *GatewayProvider) {
		p.httpClient = c
	}
}

// WithMaxRetries sets how many times a single call is retried on 5xx, 429
// or transport errors. Zero disables retries.
func WithMaxRetries(n int) GatewayOption {
	return func(p *GatewayProvider) {
		if n >= 0 {
			p.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the initial backoff between retries.
func WithBaseBackoff(d time.Duration) GatewayOption {
	return func(p *GatewayProvider) {
		p.baseBackoff = d
	}
}

// NewGatewayProvider creates a gateway provider for baseURL, e.g.
// "https://studio.example.com/api".
func NewGatewayProvider(baseURL string, opts ...GatewayOption) (*GatewayProvider, error) {
	if baseURL == "" {
		return nil, ErrGatewayURLRequired
	}

	p := &GatewayProvider{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: 60 * time.Second},
		maxRetries:  0,
		baseBackoff: 1 * time.Second,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns "gateway".
func (p *GatewayProvider) Name() string {
	return "gateway"
}

// Submit posts the canonical request to the gateway.
func (p *GatewayProvider) Submit(ctx context.Context, req generation.GenerationRequest) (generation.Operation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return generation.Operation{}, submitError(fmt.Errorf("marshal request: %w", err))
	}

	var resp operationResponse
	if err := p.doRequestWithRetry(ctx, http.MethodPost, p.baseURL+"/generate-video", body, &resp); err != nil {
		return generation.Operation{}, submitError(err)
	}
	if resp.OperationName == "" {
		if resp.Error != "" {
			return generation.Operation{}, submitError(errors.New(resp.Error))
		}
		return generation.Operation{}, submitError(ErrNoOperationName)
	}

	return resp.toOperation(), nil
}

// Query fetches the operation status from the gateway.
func (p *GatewayProvider) Query(ctx context.Context, operationName string) (generation.Operation, error) {
	if operationName == "" {
		return generation.Operation{}, queryError(generation.ErrOperationNameRequired)
	}

	endpoint := p.baseURL + "/generate-video/status?operation=" + url.QueryEscape(operationName)

	var resp operationResponse
	if err := p.doRequestWithRetry(ctx, http.MethodGet, endpoint, nil, &resp); err != nil {
		return generation.Operation{}, queryError(err)
	}

	op := resp.toOperation()
	if op.OperationName == "" {
		op.OperationName = operationName
	}
	return op, nil
}

func (r operationResponse) toOperation() generation.Operation {
	return generation.Operation{
		OperationName:   r.OperationName,
		Done:            r.Done,
		VideoURIs:       r.VideoURIs,
		ThrottleSeconds: r.ThrottleSeconds,
		Error:           r.Error,
	}
}

// doRequestWithRetry performs an HTTP request with exponential backoff retry.
func (p *GatewayProvider) doRequestWithRetry(ctx context.Context, method, endpoint string, body []byte, result any) error {
	var lastErr error
	backoff := p.baseBackoff

	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("gateway: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := p.doRequest(ctx, method, endpoint, body, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err
	}

	if p.maxRetries == 0 {
		return lastErr
	}
	return fmt.Errorf("gateway: max retries exceeded: %w", lastErr)
}

// doRequest performs a single HTTP request.
func (p *GatewayProvider) doRequest(ctx context.Context, method, endpoint string, body []byte, result any) error {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return fmt.Errorf("gateway: create request: %w", err)
	}

	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("gateway: request failed: %w", err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("gateway: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := errorMessage(respBody)
		if resp.StatusCode >= 500 {
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, msg)}
		}
		if resp.StatusCode == http.StatusTooManyRequests {
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
		}
		return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("gateway: unmarshal response: %w", err)
		}
	}
	return nil
}

// errorMessage extracts {"error": "..."} from a body, falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Compile-time check that GatewayProvider implements Provider.
var _ Provider = (*GatewayProvider)(nil)

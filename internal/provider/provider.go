// Package provider adapts remote video generation services to the
// submit/query contract used by the generation lifecycle.
package provider

import (
	"context"

	"github.com/maauso/veo-studio-api/internal/generation"
)

// Provider is the remote generation collaborator.
// Both methods return *generation.ProviderError on transport or service failure.
type Provider interface {
	// Name returns a short identifier used in logs.
	Name() string

	// Submit starts a long-running generation job for a canonical request.
	Submit(ctx context.Context, req generation.GenerationRequest) (generation.Operation, error)

	// Query returns the current state of a previously submitted operation.
	Query(ctx context.Context, operationName string) (generation.Operation, error)
}

func submitError(err error) error {
	return &generation.ProviderError{Op: "submit", Err: err}
}

func queryError(err error) error {
	return &generation.ProviderError{Op: "query", Err: err}
}

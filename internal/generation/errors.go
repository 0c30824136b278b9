package generation

import (
	"errors"
	"fmt"
)

// Static errors for the generation lifecycle.
var (
	// ErrTimeoutExceeded is reported when the poll ceiling is reached before the
	// provider resolves the operation. The job may still be rendering remotely.
	ErrTimeoutExceeded = errors.New("generation: timed out waiting for the render, try regenerating with updated parameters")
	// ErrEmptyResult is reported when the provider resolves an operation without
	// an error and without any output location.
	ErrEmptyResult = errors.New("generation: operation finished without any video output")
	// ErrOperationNameRequired is returned when a status query has no operation name.
	ErrOperationNameRequired = errors.New("generation: operation name is required")
)

// ValidationError reports malformed or missing request input.
// It is never retried and maps to a client error at the transport boundary.
type ValidationError struct {
	// Field is the wire name of the offending field, empty for body-level problems.
	Field string
	// Message is the human-readable reason surfaced to the caller.
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ProviderError reports that the remote generation service failed or was
// unreachable during submission or polling.
type ProviderError struct {
	// Op is the provider operation that failed ("submit" or "query").
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is, or wraps, a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

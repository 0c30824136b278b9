// Package server provides the HTTP server for the video generation API.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import "time"

// GenerateVideoResponse is the HTTP response for submissions and status polls.
type GenerateVideoResponse struct {
	// OperationName identifies the remote job; pass it to the status endpoint.
	OperationName string `json:"operationName"`
	// Done reports whether the remote job has finished.
	Done bool `json:"done"`
	// VideoURIs lists the output locations once the job succeeded.
	VideoURIs []string `json:"videoUris,omitempty"`
	// ThrottleSeconds is the suggested wait before the next status poll.
	ThrottleSeconds float64 `json:"throttleSeconds,omitempty"`
}

// GenerationStatusQuery is the query string of the status endpoint.
type GenerationStatusQuery struct {
	Operation string `validate:"required"`
}

// CreateSessionResponse is the HTTP response after opening a session.
type CreateSessionResponse struct {
	// ID is the unique identifier for the created session.
	ID string `json:"id"`
}

// NotificationResponse is the user-facing outcome of a generation.
type NotificationResponse struct {
	Kind        string `json:"kind"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// SessionResponse is the HTTP response for session status.
type SessionResponse struct {
	ID            string                `json:"id"`
	State         string                `json:"state"`
	OperationName string                `json:"operationName,omitempty"`
	Attempts      int                   `json:"attempts"`
	Message       string                `json:"message,omitempty"`
	VideoURI      string                `json:"videoUri,omitempty"`
	VideoURIs     []string              `json:"videoUris,omitempty"`
	ArchivedURL   string                `json:"archivedUrl,omitempty"`
	Error         string                `json:"error,omitempty"`
	Notification  *NotificationResponse `json:"notification,omitempty"`
	NextPollAt    *time.Time            `json:"nextPollAt,omitempty"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
	// Provider is the configured generation provider.
	Provider string `json:"provider,omitempty"`
}

package generation

import "time"

// Operation is the local, advisory copy of a remote generation job.
// The provider owns the canonical state; it is refreshed on every poll.
type Operation struct {
	// OperationName is the opaque provider handle, the only key for polling.
	OperationName string `json:"operationName"`
	// Done is the provider's terminal flag.
	Done bool `json:"done"`
	// VideoURIs holds the output locations once the job succeeded.
	VideoURIs []string `json:"videoUris,omitempty"`
	// ThrottleSeconds is the provider's suggested delay before the next poll.
	ThrottleSeconds float64 `json:"throttleSeconds,omitempty"`
	// Error is the provider's explicit failure message, if any.
	Error string `json:"error,omitempty"`
}

// Succeeded reports whether the operation resolved with at least one output.
func (o Operation) Succeeded() bool {
	return o.Done && o.Error == "" && len(o.VideoURIs) > 0
}

// Failed reports whether the provider marked the operation as failed.
func (o Operation) Failed() bool {
	return o.Error != ""
}

// PrimaryURI returns the first output location or "" when there is none.
func (o Operation) PrimaryURI() string {
	if len(o.VideoURIs) == 0 {
		return ""
	}
	return o.VideoURIs[0]
}

// Throttle returns ThrottleSeconds as a duration; non-positive values yield 0.
func (o Operation) Throttle() time.Duration {
	if o.ThrottleSeconds <= 0 {
		return 0
	}
	return time.Duration(o.ThrottleSeconds * float64(time.Second))
}

package safety

import "fmt"

const rateLimitMessage = "Could not connect to Prediction Guard API. Too many requests, rate limit or quota exceeded."

// ConfigError reports an invalid request. No network call is made when a
// check returns one.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// BlockedError is the error form of a Blocked outcome.
type BlockedError struct {
	Kind   string
	Reason string
}

func (e *BlockedError) Error() string { return "error: " + e.Reason + "." }

// RateLimitedError is the error form of a RateLimited outcome (HTTP 429).
type RateLimitedError struct {
	Kind string
}

func (e *RateLimitedError) Error() string { return rateLimitMessage }

// UpstreamError is returned for unexpected statuses and unreadable bodies.
// Message carries the text shown to the user, including any error field the
// API sent back.
type UpstreamError struct {
	Kind       string
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string { return e.Message }

// TransportError wraps a network-level failure.
type TransportError struct {
	Kind string
	Err  error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a conversation, message or approval does not exist.
	ErrNotFound = errors.New("not found")
	// ErrMalformedInput is returned for requests that cannot be parsed.
	ErrMalformedInput = errors.New("malformed input")
	// ErrApprovalInvalid is returned for decisions that are neither approve nor reject.
	ErrApprovalInvalid = errors.New("invalid approval response")
)

// ConfigurationError reports an unusable configuration, such as an unknown
// provider type. It is fatal and never retried.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s: %s", e.Field, e.Reason)
}

// TransientProviderError wraps a provider failure that may succeed on retry,
// such as a timeout, rate limit or 5xx response.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("transient %s provider error: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// ToolExecutionError wraps a failure or panic inside a tool executor.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error { return e.Err }

// IsTransient reports whether err is, or wraps, a TransientProviderError.
func IsTransient(err error) bool {
	var te *TransientProviderError
	return errors.As(err, &te)
}

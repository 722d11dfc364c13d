package feedback

import (
	"errors"
	"fmt"
)

// ProviderError reports a failure of an upstream model service (embedding or
// summarisation). It is recoverable: the affected item stays unclustered and
// is retried on the next pass.
type ProviderError struct {
	// Provider names the failing backend (e.g. "ollama", "openai").
	Provider string
	// Op is the operation that failed (e.g. "embed", "summarize").
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// StoreError reports a transport or backend failure of the vector index or
// the metadata store.
type StoreError struct {
	// Store names the failing store (e.g. "qdrant", "redis").
	Store string
	// Op is the operation that failed.
	Op string
	// Err is the underlying cause.
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %s: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotFoundError reports a referenced item or vector that does not exist.
// It signals a data-integrity cleanup rather than a retryable failure.
type NotFoundError struct {
	// Kind is what was looked up (e.g. "vector", "item").
	Kind string
	// ID is the missing identifier.
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

// ValidationError reports input rejected before any I/O took place.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// IsProviderError reports whether err wraps a *ProviderError.
func IsProviderError(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}

// IsStoreError reports whether err wraps a *StoreError.
func IsStoreError(err error) bool {
	var se *StoreError
	return errors.As(err, &se)
}

// IsNotFound reports whether err wraps a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidateThreshold rejects similarity thresholds outside the open interval (0, 1).
func ValidateThreshold(threshold float64) error {
	if !(threshold > 0 && threshold < 1) {
		return &ValidationError{Field: "threshold", Reason: fmt.Sprintf("%v is outside (0, 1)", threshold)}
	}
	return nil
}

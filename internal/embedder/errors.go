package embedder

import (
	"errors"
	"fmt"
)

// ErrEmbedding matches every embedding failure via errors.Is, whatever the
// provider.
var ErrEmbedding = errors.New("embedding failed")

// EmbeddingError reports a transport failure or a malformed provider response.
type EmbeddingError struct {
	// Provider names the backend that failed (e.g. "gemini").
	Provider string
	// Err is the underlying cause.
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("%s embedder: %v", e.Provider, e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrEmbedding) true for any *EmbeddingError.
func (e *EmbeddingError) Is(target error) bool { return target == ErrEmbedding }

// fail wraps a formatted cause as an *EmbeddingError for provider.
func fail(provider string, format string, args ...any) error {
	return &EmbeddingError{Provider: provider, Err: fmt.Errorf(format, args...)}
}

// Package errtypes contains custom error types
package errtypes

import (
	"errors"
	"fmt"
	"strings"
)

// Contract violations. These are programming errors in the caller and are
// never retried.
var (
	ErrContextMismatch = errors.New("initialized computation context and passed computation context don't match")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrInvalidSpec     = errors.New("invalid specification")
	ErrUnsupported     = errors.New("unsupported")
	ErrNotInitialized  = errors.New("not initialized")
)

// Resource and input errors, raised while loading models.
var (
	ErrVersionMismatch = errors.New("version mismatch")
	ErrPrematureEOF    = errors.New("premature end of model file")
)

var (
	// ErrOversized rejects a source sentence whose encoding is too long. It
	// aborts that sentence only.
	ErrOversized = errors.New("oversized source")

	// ErrNonFinite reports a NaN or infinite likelihood.
	ErrNonFinite = errors.New("non-finite likelihood")
)

type ModelLoadError struct {
	Model string
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() error {
	return e.Err
}

type InvalidModelConfigError struct {
	Config string
	Reason string
}

func (e *InvalidModelConfigError) Error() string {
	return fmt.Sprintf("invalid model config %q: %s", strings.TrimSpace(e.Config), e.Reason)
}

func (e *InvalidModelConfigError) Unwrap() error {
	return ErrInvalidSpec
}

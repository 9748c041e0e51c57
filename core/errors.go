// Package core provides shared building blocks for the layerforge backend:
// the failure taxonomy, configuration parsing, and content hashing.
package core

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the four failure categories every service reports.
// Handlers map these to HTTP statuses; services never recover from them
// locally and never substitute a different engine or quality level.
var (
	// ErrInvalidInput marks requests rejected before any model is touched:
	// bad geometry, empty prompt lists, out-of-range parameters.
	ErrInvalidInput = errors.New("core: invalid input")

	// ErrNotFound marks lookups of unknown image or asset ids.
	ErrNotFound = errors.New("core: not found")

	// ErrWeightsUnavailable marks engines whose weights are not present in
	// the local cache. Surfaced distinctly so the operator knows to run the
	// precache step; never silently falls back to another engine.
	ErrWeightsUnavailable = errors.New("core: model weights unavailable")

	// ErrResourceExhausted marks out-of-memory failures during inference.
	// Never auto-retried with the same parameters.
	ErrResourceExhausted = errors.New("core: resource exhausted")
)

// DomainError is a structured failure carrying a stable code and actionable
// suggestions, modeled so callers can both errors.Is() against the taxonomy
// sentinels and render a helpful payload to the UI.
type DomainError struct {
	// Kind is one of the taxonomy sentinels above.
	Kind error
	// Code is a short stable identifier (e.g. "oom", "weights_missing").
	Code string
	// Message is the human-readable description.
	Message string
	// Suggestions are actionable hints for the caller ("lower steps", ...).
	Suggestions []string
}

func (e *DomainError) Error() string {
	if len(e.Suggestions) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (try: %s)", e.Message, strings.Join(e.Suggestions, "; "))
}

// Unwrap exposes the taxonomy sentinel so errors.Is(err, core.ErrResourceExhausted)
// matches structured failures.
func (e *DomainError) Unwrap() error {
	return e.Kind
}

// InvalidInputf builds an ErrInvalidInput DomainError.
func InvalidInputf(format string, args ...any) *DomainError {
	return &DomainError{
		Kind:    ErrInvalidInput,
		Code:    "invalid_input",
		Message: fmt.Sprintf(format, args...),
	}
}

// NotFoundf builds an ErrNotFound DomainError.
func NotFoundf(format string, args ...any) *DomainError {
	return &DomainError{
		Kind:    ErrNotFound,
		Code:    "not_found",
		Message: fmt.Sprintf(format, args...),
	}
}

// WeightsUnavailable builds an ErrWeightsUnavailable DomainError with the
// offline-cache hint appended to any engine-specific suggestions.
func WeightsUnavailable(message string, suggestions ...string) *DomainError {
	return &DomainError{
		Kind:        ErrWeightsUnavailable,
		Code:        "weights_missing",
		Message:     message,
		Suggestions: append(suggestions, "run `precache` once while online to populate the weights cache"),
	}
}

// ResourceExhausted builds an ErrResourceExhausted DomainError.
// Callers receive concrete hints rather than an automatic retry.
func ResourceExhausted(message string, suggestions ...string) *DomainError {
	return &DomainError{
		Kind:        ErrResourceExhausted,
		Code:        "oom",
		Message:     message,
		Suggestions: suggestions,
	}
}

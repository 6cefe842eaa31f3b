package provider

import (
	"errors"
	"fmt"
)

// Category classifies a provider failure for retry and backoff decisions.
type Category string

const (
	// CategoryTransient covers network failures, timeouts and 5xx responses.
	// Retried within the same polling tick up to a small bound.
	CategoryTransient Category = "transient"

	// CategoryRateLimit covers throttling responses. Never retried within
	// the tick; triggers per-resource backoff instead.
	CategoryRateLimit Category = "rate_limit"

	// CategoryNotFound means the resource does not exist at the provider.
	CategoryNotFound Category = "not_found"

	// CategoryInternal is everything else: auth failures, malformed
	// responses, SDK bugs.
	CategoryInternal Category = "internal"
)

// Error is a classified provider failure. It carries the failed operation
// and resource so one resource's error can be attached to its snapshot entry
// without losing context.
type Error struct {
	Category  Category
	Operation string
	Resource  string
	Retryable bool
	Cause     error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s %s: %s: %v", e.Operation, e.Resource, e.Category, e.Cause)
	}
	return fmt.Sprintf("%s %s: %s", e.Operation, e.Resource, e.Category)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches on category so callers can test errors.Is(err, &Error{Category: ...}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// NewTransient wraps cause as a retryable transient failure.
func NewTransient(op, resource string, cause error) *Error {
	return &Error{Category: CategoryTransient, Operation: op, Resource: resource, Retryable: true, Cause: cause}
}

// NewRateLimit wraps cause as a throttling response.
func NewRateLimit(op, resource string, cause error) *Error {
	return &Error{Category: CategoryRateLimit, Operation: op, Resource: resource, Retryable: false, Cause: cause}
}

// NewNotFound wraps cause as a missing-resource failure.
func NewNotFound(op, resource string, cause error) *Error {
	return &Error{Category: CategoryNotFound, Operation: op, Resource: resource, Retryable: false, Cause: cause}
}

// NewInternal wraps cause as an unclassified provider failure.
func NewInternal(op, resource string, cause error) *Error {
	return &Error{Category: CategoryInternal, Operation: op, Resource: resource, Retryable: false, Cause: cause}
}

// CategoryOf extracts the category from err, or CategoryInternal when err is
// not a provider error.
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category
	}
	return CategoryInternal
}

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool { return CategoryOf(err) == CategoryTransient }

// IsRateLimit reports whether err is a throttling response.
func IsRateLimit(err error) bool { return CategoryOf(err) == CategoryRateLimit }

// IsNotFound reports whether err is a missing-resource failure.
func IsNotFound(err error) bool { return CategoryOf(err) == CategoryNotFound }

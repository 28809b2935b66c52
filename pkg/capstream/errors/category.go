// Package errors provides error categorization and bounded retry for the
// capture pipeline.
//
// Errors are classified so each layer can decide locally what to do:
//   - Transient: a retry (or skipping one capture) will likely help.
//     Examples: a dropped frame, a broker timeout, bus overflow.
//   - Permanent: a retry won't help and the failure must be surfaced.
//     Examples: capture device missing, ordering invariant broken.
package errors

import (
	"errors"
	"fmt"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	CategoryPermanent
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Transient creates a transient error.
func Transient(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryTransient, context)
}

// Permanent creates a permanent error.
func Permanent(err error, context string) *CategorizedError {
	return NewCategorized(err, CategoryPermanent, context)
}

// Categorize determines how an error should be handled.
// Unknown errors are permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	var overflowErr *OverflowError
	if errors.As(err, &overflowErr) {
		return CategoryTransient
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		return CategoryPermanent
	}

	var invariantErr *InvariantError
	if errors.As(err, &invariantErr) {
		return CategoryPermanent
	}

	return CategoryPermanent
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsExplicitlyPermanent reports whether err carries a permanent category
// assigned by its producer, as opposed to defaulting to permanent because
// nothing is known about it.
func IsExplicitlyPermanent(err error) bool {
	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category == CategoryPermanent
	}
	var setupErr *SetupError
	if errors.As(err, &setupErr) {
		return true
	}
	var invariantErr *InvariantError
	return errors.As(err, &invariantErr)
}

// IsInvariant reports whether err is an ordering invariant violation.
func IsInvariant(err error) bool {
	var invariantErr *InvariantError
	return errors.As(err, &invariantErr)
}

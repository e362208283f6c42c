// Package errors classifies failures from tool dispatch and pipeline runs
// and provides bounded, explicit retry.
//
// Nothing in toolflow retries on its own. Callers opt in by wrapping work in
// WithRetryContext (or dispatch.Retrying), and the attempt count is always
// reported back.
package errors

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"github.com/randalmurphal/toolflow/pkg/flowgraph/config"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryTransient indicates retry will likely help.
	// Examples: rate limits, timeouts, 5xx responses, refused dials.
	CategoryTransient Category = iota

	// CategoryPermanent indicates retry won't help.
	// Examples: closed channels, handler failures, cancelled contexts.
	CategoryPermanent

	// CategoryCaller indicates the request itself was wrong.
	// Examples: unknown operation names, ill-typed parameters.
	CategoryCaller

	// CategoryConfiguration indicates the process is misconfigured and
	// should not have started.
	CategoryConfiguration
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryTransient:
		return "transient"
	case CategoryPermanent:
		return "permanent"
	case CategoryCaller:
		return "caller"
	case CategoryConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Categorizer is implemented by error types that know their own category.
// The dispatch error taxonomy implements it.
type Categorizer interface {
	ErrorCategory() Category
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

	var self Categorizer
	if errors.As(err, &self) {
		return self.ErrorCategory()
	}

	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return CategoryConfiguration
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return categorizeStatus(httpErr.StatusCode)
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return CategoryTransient
	}

	if errors.Is(err, context.DeadlineExceeded) || isDialFailure(err) {
		return CategoryTransient
	}

	return CategoryPermanent
}

// isDialFailure reports connection failures that happen before any bytes
// reach the peer: refused, unreachable host or network. ECONNRESET is not
// one of them since the peer may have seen the request.
func isDialFailure(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.EHOSTUNREACH, syscall.ENETUNREACH:
			return true
		}
	}
	return false
}

// CategorizeStatus maps an HTTP status code to a category.
func CategorizeStatus(code int) Category {
	return categorizeStatus(code)
}

func categorizeStatus(code int) Category {
	switch {
	case code == 429, code == 502, code == 503, code == 504:
		return CategoryTransient
	case code == 400, code == 404, code == 422:
		return CategoryCaller
	case code >= 500:
		return CategoryTransient
	default:
		return CategoryPermanent
	}
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}

// IsCallerError reports whether the request itself was at fault.
func IsCallerError(err error) bool {
	return Categorize(err) == CategoryCaller
}

// Package errors provides centralized error handling with category and
// context metadata, and an optional telemetry reporting hook.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
	"time"
)

// ErrorCategory represents the type of error for grouping and retry policy.
type ErrorCategory string

const (
	CategoryDetector      ErrorCategory = "detector"
	CategoryTracking      ErrorCategory = "tracking"
	CategoryEventEngine   ErrorCategory = "event-engine"
	CategoryIdentity      ErrorCategory = "identity"
	CategorySnapshot      ErrorCategory = "snapshot"
	CategoryDatabase      ErrorCategory = "database"
	CategoryNetwork       ErrorCategory = "network"
	CategorySync          ErrorCategory = "sync"
	CategoryMQTT          ErrorCategory = "mqtt-publish"
	CategorySupervisor    ErrorCategory = "supervisor"
	CategoryConfiguration ErrorCategory = "configuration"
	CategoryFileIO        ErrorCategory = "file-io"
	CategoryValidation    ErrorCategory = "validation"
	CategorySystem        ErrorCategory = "system-resource"
	CategoryGeneric       ErrorCategory = "generic"
)

// EnhancedError wraps an error with additional context and metadata.
type EnhancedError struct {
	Err       error          // original error
	Component string         // component where the error occurred
	Category  ErrorCategory  // error category
	Context   map[string]any // additional context data
	Timestamp time.Time      // when the error occurred
}

// Error implements the error interface.
func (ee *EnhancedError) Error() string {
	return ee.Err.Error()
}

// Unwrap supports errors.Is and errors.As chains.
func (ee *EnhancedError) Unwrap() error {
	return ee.Err
}

// GetCategory returns the error's category.
func (ee *EnhancedError) GetCategory() ErrorCategory {
	return ee.Category
}

// GetContext returns a copy of the error's context data.
func (ee *EnhancedError) GetContext() map[string]any {
	if ee.Context == nil {
		return nil
	}
	out := make(map[string]any, len(ee.Context))
	maps.Copy(out, ee.Context)
	return out
}

// ErrorBuilder provides a fluent interface for creating enhanced errors.
type ErrorBuilder struct {
	err       error
	component string
	category  ErrorCategory
	context   map[string]any
}

// New creates a new error builder wrapping err.
func New(err error) *ErrorBuilder {
	return &ErrorBuilder{err: err}
}

// Newf creates a new error builder from a formatted message.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the component name.
func (eb *ErrorBuilder) Component(component string) *ErrorBuilder {
	eb.component = component
	return eb
}

// Category sets the error category.
func (eb *ErrorBuilder) Category(category ErrorCategory) *ErrorBuilder {
	eb.category = category
	return eb
}

// Context adds a context key/value pair.
func (eb *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	if eb.context == nil {
		eb.context = make(map[string]any)
	}
	eb.context[key] = value
	return eb
}

// Build creates the EnhancedError and reports it to the telemetry hook.
func (eb *ErrorBuilder) Build() error {
	if eb.err == nil {
		return nil
	}
	category := eb.category
	if category == "" {
		category = CategoryGeneric
	}
	ee := &EnhancedError{
		Err:       eb.err,
		Component: eb.component,
		Category:  category,
		Context:   eb.context,
		Timestamp: time.Now(),
	}
	report(ee)
	return ee
}

// Reporter receives built enhanced errors for telemetry.
type Reporter func(*EnhancedError)

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs the telemetry hook. Passing nil disables reporting.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func report(ee *EnhancedError) {
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r(ee)
	}
}

// IsRetryable reports whether an error belongs to a category the caller
// should retry with backoff.
func IsRetryable(err error) bool {
	var ee *EnhancedError
	if stderrors.As(err, &ee) {
		switch ee.Category {
		case CategoryNetwork, CategorySync, CategoryDatabase, CategorySystem:
			return true
		}
	}
	return false
}

// Is, As and Join re-export the standard library helpers so callers only
// need one errors import.
func Is(err, target error) bool     { return stderrors.Is(err, target) }
func As(err error, target any) bool { return stderrors.As(err, target) }
func Join(errs ...error) error      { return stderrors.Join(errs...) }
func NewStd(text string) error      { return stderrors.New(text) }

package errors

import (
	"errors"
	"fmt"
)

// Generic error types

var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input parameters
	ErrInvalidInput = errors.New("invalid input")

	// ErrInternal indicates an internal error
	ErrInternal = errors.New("internal error")

	// ErrTimeout indicates an operation timeout
	ErrTimeout = errors.New("operation timeout")

	// ErrUnavailable indicates a dependency is unavailable
	ErrUnavailable = errors.New("service unavailable")

	// ErrRateLimitExceeded indicates a rate limit was hit
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

// Pipeline errors

var (
	// ErrProfileFetch indicates the address profile could not be loaded.
	// Callers degrade to a neutral profile.
	ErrProfileFetch = errors.New("address profile fetch failed")

	// ErrRiskAnalysis indicates a dimension evaluator failed. No score is produced.
	ErrRiskAnalysis = errors.New("risk analysis failed")

	// ErrPersistence indicates a store write or read failed
	ErrPersistence = errors.New("persistence failed")

	// ErrNotificationDelivery indicates a single channel send failed
	ErrNotificationDelivery = errors.New("notification delivery failed")

	// ErrReplayExhausted indicates the replay retry budget is spent
	ErrReplayExhausted = errors.New("replay retries exhausted")

	// ErrAlreadyProcessed indicates the event reached a terminal status earlier
	ErrAlreadyProcessed = errors.New("event already processed")

	// ErrClaimLost indicates another handler is processing the same event
	ErrClaimLost = errors.New("event claimed by another handler")
)

// Chain errors

var (
	// ErrChainUnavailable indicates the RPC endpoint could not be reached
	ErrChainUnavailable = errors.New("chain provider unavailable")

	// ErrSubscriptionFailed indicates the live subscription dropped
	ErrSubscriptionFailed = errors.New("chain subscription failed")
)

// DomainError wraps an error with additional context
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// ValidationError represents a malformed input event. It is never retried.
type ValidationError struct {
	Field   string
	Message string
	Value   interface{}
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: field '%s': %s (value: %v)", e.Field, e.Message, e.Value)
}

// Unwrap lets errors.Is match ErrInvalidInput
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// NewValidationError creates a new validation error
func NewValidationError(field, message string, value interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	}
}

// ReplayExhaustedError is returned once every replay attempt failed
type ReplayExhaustedError struct {
	StartBlock uint64
	EndBlock   uint64
	Attempts   int
	LastErr    error
}

// Error implements the error interface
func (e *ReplayExhaustedError) Error() string {
	return fmt.Sprintf("replay of blocks %d-%d failed after %d attempts: %v",
		e.StartBlock, e.EndBlock, e.Attempts, e.LastErr)
}

// Unwrap exposes both the sentinel and the last attempt's error
func (e *ReplayExhaustedError) Unwrap() []error {
	return []error{ErrReplayExhausted, e.LastErr}
}

// MultiError wraps multiple errors
type MultiError struct {
	Errors []error
}

// Error implements the error interface
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}
	return fmt.Sprintf("multiple errors (%d): %v", len(m.Errors), m.Errors[0])
}

// Unwrap returns the collected errors
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the list
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// ToError returns the MultiError as an error, or nil if no errors
func (m *MultiError) ToError() error {
	if !m.HasErrors() {
		return nil
	}
	return m
}

// Helper functions

// Is checks if err is or wraps target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target type
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Mark attaches a sentinel to err so callers can classify it with Is
func Mark(err error, sentinel error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sentinel) {
		return err
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

func New(message string) error {
	return errors.New(message)
}

func Newf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

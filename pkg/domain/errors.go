package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the subscription error taxonomy
var (
	// ErrInvalidParameter indicates subscribe arguments were rejected before
	// any channel or connection was created
	ErrInvalidParameter = errors.New("invalid subscription parameter")

	// ErrConnectionFailed indicates the engine rejected an open request or
	// returned an unusable handle
	ErrConnectionFailed = errors.New("engine connection failed")

	// ErrLookupFailed indicates a per-item enrichment lookup failed
	ErrLookupFailed = errors.New("enrichment lookup failed")

	// ErrTeardownFailed indicates the engine failed to close a connection
	ErrTeardownFailed = errors.New("engine teardown failed")
)

// ParameterError describes an invalid subscribe argument
type ParameterError struct {
	Field  string
	Reason string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameter
}

// NewParameterError creates a ParameterError for the given field
func NewParameterError(field, reason string) *ParameterError {
	return &ParameterError{Field: field, Reason: reason}
}

// ConnectionError wraps a failed engine open for a subscription kind
type ConnectionError struct {
	Kind Kind
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("open %s connection: %v", e.Kind, e.Err)
}

func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// LookupError describes a failed enrichment lookup for one item
type LookupError struct {
	Name  string
	Field string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s for %q: %v", e.Field, e.Name, e.Err)
}

func (e *LookupError) Is(target error) bool {
	return target == ErrLookupFailed
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// TeardownError describes a failed engine close. It is logged, never returned
// to a consumer.
type TeardownError struct {
	Kind   Kind
	Handle int64
	Err    error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("close %s connection %d: %v", e.Kind, e.Handle, e.Err)
}

func (e *TeardownError) Is(target error) bool {
	return target == ErrTeardownFailed
}

func (e *TeardownError) Unwrap() error {
	return e.Err
}

// IsParameterError checks if the error indicates invalid subscribe arguments
func IsParameterError(err error) bool {
	return errors.Is(err, ErrInvalidParameter)
}

// IsConnectionError checks if the error indicates a failed engine open
func IsConnectionError(err error) bool {
	return errors.Is(err, ErrConnectionFailed)
}

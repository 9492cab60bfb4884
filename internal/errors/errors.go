// Package errors provides consolidated error definitions for sensorlog.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - ErrorToStatus mapping for the HTTP surface
// - Convenience wrappers around the standard errors package
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ============================================================================
// Sentinel errors for common conditions
// ============================================================================

var (
	// Client input errors
	ErrNoData           = errors.New("no data received")
	ErrNoRecognizedData = errors.New("no valid sensor data found")
	ErrUnparseableValue = errors.New("value is not a number")
	ErrEmptyValue       = errors.New("empty value")
	ErrRequestTooLarge  = errors.New("request body too large")
	ErrMalformedBody    = errors.New("malformed request body")

	// Configuration errors
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrInvalidFieldName = errors.New("invalid sensor field name")
	ErrDuplicateField   = errors.New("duplicate sensor field name")

	// Auth / rate errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limit exceeded")

	// Storage errors
	ErrDatabase    = errors.New("database error")
	ErrStoreClosed = errors.New("store is closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// IsClientInput returns true if err is a client input error.
func IsClientInput(err error) bool {
	return errors.Is(err, ErrNoData) ||
		errors.Is(err, ErrNoRecognizedData) ||
		errors.Is(err, ErrUnparseableValue) ||
		errors.Is(err, ErrRequestTooLarge) ||
		errors.Is(err, ErrMalformedBody)
}

// IsConfig returns true if err is a configuration error.
func IsConfig(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrInvalidFieldName) ||
		errors.Is(err, ErrDuplicateField)
}

// IsAuthError returns true if err is an authorization error.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsStorage returns true if err is a storage error.
func IsStorage(err error) bool {
	return errors.Is(err, ErrDatabase) ||
		errors.Is(err, ErrStoreClosed)
}

// ============================================================================
// Error to HTTP status mapping
// ============================================================================

// ErrorToStatus maps a sentinel error to its HTTP status code.
func ErrorToStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case Is(err, ErrUnauthorized):
		return http.StatusUnauthorized

	case Is(err, ErrRateLimited):
		return http.StatusTooManyRequests

	case Is(err, ErrRequestTooLarge):
		return http.StatusRequestEntityTooLarge

	case IsClientInput(err):
		return http.StatusBadRequest

	case Is(err, ErrDatabase), Is(err, ErrStoreClosed):
		return http.StatusServiceUnavailable

	default:
		return http.StatusInternalServerError
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewStorage creates a storage error that carries the underlying cause.
// The result satisfies errors.Is(err, ErrDatabase).
func NewStorage(op string, cause error) error {
	return fmt.Errorf("%s: %v: %w", op, cause, ErrDatabase)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidConfig)
}

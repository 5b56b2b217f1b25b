package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is returned before any simulation work for bad parameters
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrInvariantViolation signals a core bug; the run is aborted
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrNoPriceData is returned when no usable bars exist for the requested window
	ErrNoPriceData = errors.New("no price data")
)

// ConfigError describes a single rejected configuration field
type ConfigError struct {
	Field  string
	Reason string
}

// NewConfigError creates a configuration error for a field
func NewConfigError(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

// InvariantError describes a broken simulation invariant
type InvariantError struct {
	Op     string
	Detail string
}

// NewInvariantError creates an invariant error for an operation
func NewInvariantError(op, format string, args ...interface{}) error {
	return &InvariantError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violation in %s: %s", e.Op, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

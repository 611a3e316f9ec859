package record

import (
	"errors"
	"fmt"
)

// Sentinel errors for validation failures.
var (
	ErrInvalidRecordType = errors.New("invalid record type")
	ErrInvalidField      = errors.New("invalid field name")
	ErrInvalidValue      = errors.New("invalid value")
	ErrEmptyText         = errors.New("empty search text")
	ErrInvalidLocation   = errors.New("invalid location")
	ErrInvalidRadius     = errors.New("invalid radius")
	ErrInvalidDate       = errors.New("invalid date")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

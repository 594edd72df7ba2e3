// Package dmxerr defines the error taxonomy shared across the show
// runtime: InvalidInput, NotFound, Conflict, Transient and Fatal.
// Callers use errors.Is against the sentinel values below.
package dmxerr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrTransient    = errors.New("transient")
	ErrFatal        = errors.New("fatal")
)

// Invalid wraps err (or a plain message) as an InvalidInput error.
func Invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidInput)...)
}

// NotFound wraps a missing-resource message as a NotFound error.
func NotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Conflict wraps a uniqueness violation as a Conflict error.
func Conflict(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// Transient wraps a retryable send/connection failure.
func Transient(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrTransient)...)
}

// Fatal wraps a startup/process-ending failure.
func Fatal(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrFatal)...)
}

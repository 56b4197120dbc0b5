// Package wherr defines the engine's error taxonomy: NotFound, Corrupt,
// Conflict, Capacity, IO and Invalid.
// Callers use errors.Is against the sentinels below; wrapped errors keep
// the original cause visible via errors.Unwrap.
package wherr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap with fmt.Errorf("...: %w", Sentinel) to attach
// context while remaining errors.Is-comparable.
var (
	// ErrNotFound marks a lookup that found nothing where the caller
	// expects the result as an error rather than an absent value (e.g.
	// delete-by-id of a missing op).
	ErrNotFound = errors.New("warehouse: not found")

	// ErrCorrupt marks bytes read from the KV backend that fail to
	// decode against the expected layout, or a running-balance /
	// checkpoint mismatch detected during a scan.
	ErrCorrupt = errors.New("warehouse: corrupt record")

	// ErrConflict marks a write batch precondition failure, such as
	// double-creating a checkpoint at the same key with different
	// content. Deleting an op that isn't present is ErrNotFound.
	ErrConflict = errors.New("warehouse: conflict")

	// ErrCapacity marks a backend-reported full or quota error.
	ErrCapacity = errors.New("warehouse: capacity exceeded")

	// ErrIO marks a file-system or KV I/O error not otherwise classified.
	ErrIO = errors.New("warehouse: io error")

	// ErrInvalid marks input that violates a model invariant: a zero-qty
	// non-dependent op, an issue with an explicit batch dated after the
	// op, and similar.
	ErrInvalid = errors.New("warehouse: invalid input")
)

// NotFound wraps ErrNotFound with a message describing what was missing.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrNotFound)
}

// Corrupt wraps ErrCorrupt with context about the decode failure.
func Corrupt(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrCorrupt)
}

// Conflict wraps ErrConflict with context about the failed precondition.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrConflict)
}

// Capacity wraps ErrCapacity with context from the backend.
func Capacity(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrCapacity)
}

// IO wraps ErrIO, preserving the underlying error for inspection.
func IO(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrIO, err)
}

// Invalid wraps ErrInvalid with context about which invariant failed.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), ErrInvalid)
}

// Is reports whether err (or any error it wraps) matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

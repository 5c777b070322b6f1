package core

import (
	"errors"
	"fmt"
)

// Sentinel domain errors. API handlers map these onto HTTP statuses;
// everything else is a 500.
var (
	// ErrInvalidTransition is returned by the state machine for a
	// transition outside the allowed table.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotFound covers missing orders, tasks, drivers, and products.
	ErrNotFound = errors.New("not found")

	// ErrForbidden covers wrong-driver and missing-precondition failures.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict covers state preconditions, idempotency conflicts,
	// and lock contention.
	ErrConflict = errors.New("conflict")

	// ErrInvalidArgument covers request validation failures, unknown
	// products included.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrVendorUnavailable marks a transport failure talking to an
	// external vendor, as opposed to a FAILED business verdict.
	ErrVendorUnavailable = errors.New("vendor unavailable")
)

// NotFoundf wraps ErrNotFound with detail.
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

// Forbiddenf wraps ErrForbidden with detail.
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

// Conflictf wraps ErrConflict with detail.
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConflict)...)
}

// InvalidArgumentf wraps ErrInvalidArgument with detail.
func InvalidArgumentf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// VendorUnavailablef wraps ErrVendorUnavailable with detail.
func VendorUnavailablef(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrVendorUnavailable)...)
}

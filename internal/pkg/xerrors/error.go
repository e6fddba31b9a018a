package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	// ErrAccessDenied covers invalid/expired/malformed tokens and principals
	// that do not match the session's owning user. Never retried internally.
	ErrAccessDenied = errors.New("access denied")

	// ErrSessionNotFound means the session no longer exists anywhere: no
	// local wrapper and no directory entry.
	ErrSessionNotFound = errors.New("session not found or expired")

	// ErrSessionNotFoundLocally means the directory reports a different
	// owning instance; retrying against this instance will not help.
	ErrSessionNotFoundLocally = errors.New("session is not active on this service instance")

	// ErrRemoteOperation wraps transport/protocol failures during command
	// execution, channel setup, or file transfer.
	ErrRemoteOperation = errors.New("remote operation failed")

	// ErrInfrastructure covers failures of the directory store or of the
	// access-control / credential collaborators.
	ErrInfrastructure = errors.New("infrastructure error")

	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict: resource already exists")
	ErrNotFound     = errors.New("resource not found")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap extracts the underlying wrapped error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}

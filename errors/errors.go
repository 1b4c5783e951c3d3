// Package errors defines the error taxonomy shared by the gate, the queue and
// their persistence backends.
//
// Four semantic error types exist:
//   - ValidationError: bad caller input, surfaced immediately
//   - NotFoundError: a referenced code or message id is absent
//   - DecryptError: a stored ciphertext could not be opened
//   - StoreError: persistence unavailable or timed out
//
// Each type matches its sentinel through errors.Is, so callers can write
//
//	if errors.Is(err, errors.ErrNotFound) { ... }
//
// without caring which backend produced the error. Authentication denial and
// moderation rejection are not errors; they are result values owned by the
// auth and submission packages.
package errors

import (
	"context"
	"errors"
	"fmt"
)

// Re-exported so callers can import only this package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Sentinels matched by the typed errors below.
var (
	// ErrValidation indicates invalid caller input.
	ErrValidation = New("validation failed")
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = New("record not found")
	// ErrDecrypt indicates ciphertext could not be authenticated or decoded.
	ErrDecrypt = New("decrypt failed")
	// ErrStore indicates the persistence layer failed or timed out.
	ErrStore = New("store unavailable")
)

// -----------------------------------------------------------------------------
// ValidationError
// -----------------------------------------------------------------------------

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// -----------------------------------------------------------------------------
// NotFoundError
// -----------------------------------------------------------------------------

// NotFoundError reports a missing access code or message.
type NotFoundError struct {
	Resource string
	ID       string
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Resource, e.ID)
}

// Is reports whether target is ErrNotFound.
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// -----------------------------------------------------------------------------
// DecryptError
// -----------------------------------------------------------------------------

// DecryptError reports an unreadable ciphertext. MessageID is zero when the
// failure happened outside the queue.
type DecryptError struct {
	MessageID int64
	Err       error
}

// NewDecryptError wraps cause as a DecryptError.
func NewDecryptError(messageID int64, cause error) *DecryptError {
	return &DecryptError{MessageID: messageID, Err: cause}
}

func (e *DecryptError) Error() string {
	if e.MessageID != 0 {
		return fmt.Sprintf("decrypt message %d: %v", e.MessageID, e.Err)
	}
	return fmt.Sprintf("decrypt: %v", e.Err)
}

func (e *DecryptError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecrypt.
func (e *DecryptError) Is(target error) bool {
	return target == ErrDecrypt
}

// -----------------------------------------------------------------------------
// StoreError
// -----------------------------------------------------------------------------

// StoreError reports a failed persistence operation.
type StoreError struct {
	Op  string
	Err error
}

// NewStoreError wraps cause as a StoreError for operation op.
func NewStoreError(op string, cause error) *StoreError {
	return &StoreError{Op: op, Err: cause}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports whether target is ErrStore.
func (e *StoreError) Is(target error) bool {
	return target == ErrStore
}

// Timeout reports whether the store call ran out of time.
func (e *StoreError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// -----------------------------------------------------------------------------
// Classification
// -----------------------------------------------------------------------------

// IsRetryable reports whether err is transient. Only store failures are; the
// caller retries them at a higher level.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, ErrStore)
}

// Store wraps err as a StoreError unless it already carries a semantic type,
// in which case it is returned unchanged.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	if Is(err, ErrNotFound) || Is(err, ErrValidation) || Is(err, ErrDecrypt) || Is(err, ErrStore) {
		return err
	}
	return NewStoreError(op, err)
}

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a session or queue entry vanished.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyQueued indicates the session already has a queue entry.
	ErrAlreadyQueued = errors.New("session already queued")
	// ErrDuplicatePayment indicates the provider charge was already recorded.
	ErrDuplicatePayment = errors.New("payment already recorded")
	// ErrInsufficientBalance indicates the user has no prepaid generations left.
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// ValidationError reports user-correctable bad input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// BackendError is a typed failure of the image generation backend.
type BackendError struct {
	Kind BackendErrorKind
	Err  error
}

func (e *BackendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("generation backend: %s", e.Kind)
	}
	return fmt.Sprintf("generation backend: %s: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// NewBackendError wraps err with the given kind.
func NewBackendError(kind BackendErrorKind, err error) *BackendError {
	return &BackendError{Kind: kind, Err: err}
}

// PersistenceError reports that the store failed an operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// RefundError reports a failed refund attempt for a provider charge.
type RefundError struct {
	UserID   int64
	ChargeID string
	Err      error
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund %s for user %d: %v", e.ChargeID, e.UserID, e.Err)
}

func (e *RefundError) Unwrap() error { return e.Err }

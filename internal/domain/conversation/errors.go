package conversation

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports a missing conversation, message or sender identity.
	ErrNotFound = errors.New("not found")
	// ErrConflict reports an attempt to bind a second thread to a conversation.
	ErrConflict = errors.New("conflict")
	// ErrExternalUnavailable reports a failed carrier, chat or case call.
	ErrExternalUnavailable = errors.New("external service unavailable")
	// ErrStorageUnavailable reports a durable store I/O failure.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrValidation reports malformed input such as a bad phone number.
	ErrValidation = errors.New("validation error")
)

// ThreadConflictError carries the handle that already owns a conversation.
type ThreadConflictError struct {
	ConversationID string
	Existing       ThreadHandle
	Requested      ThreadHandle
}

func (e *ThreadConflictError) Error() string {
	return fmt.Sprintf("conversation %s already bound to thread %s (requested %s)",
		e.ConversationID, e.Existing.Key(), e.Requested.Key())
}

func (e *ThreadConflictError) Unwrap() error {
	return ErrConflict
}

// NewThreadConflict builds the conflict error returned by AttachThreadHandle.
func NewThreadConflict(conversationID string, existing, requested ThreadHandle) error {
	return &ThreadConflictError{ConversationID: conversationID, Existing: existing, Requested: requested}
}

// Validationf formats a validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf formats a not-found error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// StorageError wraps a driver error as ErrStorageUnavailable.
// Errors already classified by this package pass through unchanged.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrValidation) || errors.Is(err, ErrStorageUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// ExternalError wraps an adapter failure as ErrExternalUnavailable.
func ExternalError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternalUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrExternalUnavailable, err)
}

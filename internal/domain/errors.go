package domain

import (
	"errors"
	"fmt"
	"time"
)

// AuthError reports an invalid credential or token. Messages stay generic so
// callers cannot tell which part of the credential was wrong.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

var (
	ErrInvalidCredentials  = &AuthError{Message: "invalid credentials"}
	ErrInvalidRefreshToken = &AuthError{Message: "invalid refresh token"}
	ErrInvalidToken        = &AuthError{Message: "invalid token"}
)

var (
	// ErrDuplicateKey marks a unique constraint violation inside a StorageError.
	ErrDuplicateKey = errors.New("duplicate key")
	// ErrDuplicateEmail is the ErrDuplicateKey raised by the users.email
	// unique constraint.
	ErrDuplicateEmail = fmt.Errorf("%w: users.email", ErrDuplicateKey)
	// ErrConflict marks a transaction aborted by a concurrent writer.
	ErrConflict = errors.New("concurrent update conflict")
)

// StorageError wraps any failure of the underlying credential store.
type StorageError struct {
	Op  string
	Err error
}

// NewStorageError wraps err unless it is nil or already a StorageError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ThrottledError is returned when login attempts for a key are temporarily blocked.
type ThrottledError struct {
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	if e.RetryAfter <= 0 {
		return "too many attempts"
	}
	return fmt.Sprintf("too many attempts: retry after %s", e.RetryAfter)
}

// IsAuthError reports whether err is (or wraps) an AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ErrEmailTaken is returned when registering an email that already has an account.
var ErrEmailTaken = errors.New("email already registered")

// ValidationError reports malformed input for a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

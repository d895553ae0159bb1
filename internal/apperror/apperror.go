package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("Validation Error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	ErrUnauthorized       = errors.New("unauthorized")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserRecordMissing  = errors.New("user record missing")
	ErrUsernameExhausted  = errors.New("username generation exhausted")
)

type AppError struct {
	Err     error  // actual error
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// ConflictOn reports a uniqueness violation on a specific field, e.g. a
// username that another row already holds.
func ConflictOn(field, message string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Field:   field,
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means the caller has no valid session. Mapped to 401.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// InvalidCredentials is returned for every failed password check. Callers
// must pass the same message for "no such user" and "wrong password".
func InvalidCredentials(message string) *AppError {
	return &AppError{
		Err:     ErrInvalidCredentials,
		Message: message,
	}
}

// UserRecordMissing marks a credential whose linked profile row is gone.
// The id stays in the wrapped error for logs; clients only see the message.
func UserRecordMissing(userID string) *AppError {
	return &AppError{
		Err:     fmt.Errorf("user %s: %w", userID, ErrUserRecordMissing),
		Message: "User not found",
	}
}

// UsernameExhausted is the terminal error of the bounded username
// regeneration loop used during signup.
func UsernameExhausted(attempts int) *AppError {
	return &AppError{
		Err:     ErrUsernameExhausted,
		Message: fmt.Sprintf("could not find a free username after %d attempts", attempts),
		Field:   "username",
	}
}

package apperror

import (
	"errors"
	"testing"
)

func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		target    error
		wantMatch bool
	}{
		{
			name:      "NotFound wraps ErrNotFound",
			err:       NotFound("community", "abc123"),
			target:    ErrNotFound,
			wantMatch: true,
		},
		{
			name:      "ValidationFailed wraps ErrValidation",
			err:       ValidationFailed("name", "name is required"),
			target:    ErrValidation,
			wantMatch: true,
		},
		{
			name:      "Conflict wraps ErrConflict",
			err:       Conflict("community", "abc123"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "NotFound does NOT match ErrValidation",
			err:       NotFound("community", "abc123"),
			target:    ErrValidation,
			wantMatch: false,
		},
		{
			name:      "ValidationFailed does NOT match ErrNotFound",
			err:       ValidationFailed("name", "too long"),
			target:    ErrNotFound,
			wantMatch: false,
		},
		{
			name:      "ConflictOn wraps ErrConflict",
			err:       ConflictOn("username", "username taken"),
			target:    ErrConflict,
			wantMatch: true,
		},
		{
			name:      "InvalidCredentials wraps ErrInvalidCredentials",
			err:       InvalidCredentials("Invalid admin credentials"),
			target:    ErrInvalidCredentials,
			wantMatch: true,
		},
		{
			name:      "InvalidCredentials does NOT match ErrUnauthorized",
			err:       InvalidCredentials("Invalid admin credentials"),
			target:    ErrUnauthorized,
			wantMatch: false,
		},
		{
			name:      "UserRecordMissing wraps ErrUserRecordMissing",
			err:       UserRecordMissing("u-1"),
			target:    ErrUserRecordMissing,
			wantMatch: true,
		},
		{
			name:      "UsernameExhausted wraps ErrUsernameExhausted",
			err:       UsernameExhausted(5),
			target:    ErrUsernameExhausted,
			wantMatch: true,
		},
	}

	// t.Run() creates a sub-test for each case.
	// Output looks like: TestErrorsIs/NotFound_wraps_ErrNotFound
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := errors.Is(tt.err, tt.target)
			if got != tt.wantMatch {
				// t.Errorf marks the test as failed but continues running other tests
				// (vs t.Fatalf which stops immediately)
				t.Errorf("errors.Is(%v, %v) = %v, want %v", tt.err, tt.target, got, tt.wantMatch)
			}
		})
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		name        string
		err         *AppError
		wantMessage string
	}{
		{
			name:        "NotFound message includes resource and id",
			err:         NotFound("community", "abc123"),
			wantMessage: "community not found with id abc123",
		},
		{
			name:        "ValidationFailed uses custom message",
			err:         ValidationFailed("name", "name is required"),
			wantMessage: "name is required",
		},
		{
			name:        "Conflict message includes resource and id",
			err:         Conflict("community", "abc123"),
			wantMessage: "community conflict with id abc123",
		},
		{
			name:        "UserRecordMissing hides the id from the message",
			err:         UserRecordMissing("u-42"),
			wantMessage: "User not found",
		},
		{
			name:        "UsernameExhausted reports the attempt count",
			err:         UsernameExhausted(5),
			wantMessage: "could not find a free username after 5 attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// .Error() should return the human-readable message
			if got := tt.err.Error(); got != tt.wantMessage {
				t.Errorf("Error() = %q, want %q", got, tt.wantMessage)
			}
		})
	}
}

func TestUnwrap(t *testing.T) {
	// Verify that Unwrap() returns the underlying sentinel error.
	// errors.Is walks the chain through Unwrap.
	err := NotFound("community", "abc123")
	unwrapped := err.Unwrap()

	if unwrapped != ErrNotFound {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, ErrNotFound)
	}
}

func TestUserRecordMissing_KeepsIDOutOfClientFields(t *testing.T) {
	err := UserRecordMissing("u-42")

	if err.Field != "" {
		t.Errorf("Field = %q, want empty", err.Field)
	}
	if !errors.Is(err, ErrUserRecordMissing) {
		t.Error("errors.Is(err, ErrUserRecordMissing) = false")
	}
	if got := err.Unwrap().Error(); got != "user u-42: user record missing" {
		t.Errorf("Unwrap().Error() = %q", got)
	}
}

func TestValidationFailedField(t *testing.T) {
	// Verify that the Field is set correctly for validation errors.
	// This lets handlers tell the frontend WHICH field was invalid.
	err := ValidationFailed("email", "invalid email format")

	if err.Field != "email" {
		t.Errorf("Field = %q, want %q", err.Field, "email")
	}
}

func TestInvalidCredentialsMessageIsVerbatim(t *testing.T) {
	// Login paths rely on the message being passed through untouched so that
	// "unknown user" and "wrong password" render identically.
	a := InvalidCredentials("Invalid admin credentials")
	b := InvalidCredentials("Invalid admin credentials")

	if a.Error() != b.Error() {
		t.Errorf("messages differ: %q vs %q", a.Error(), b.Error())
	}
}

package model

import "time"

// AccountMetadata is the free-form part of an account that the identity
// provider carries inside every session token.
//
// Onboarded is a pointer on purpose: routing treats "never set" differently
// from an explicit false.
type AccountMetadata struct {
	FullName  string `json:"full_name,omitempty"`
	Onboarded *bool  `json:"onboarded,omitempty"`
}

// Account is an identity owned by the identity provider (`accounts` table).
// It is created on signup and never deleted by this system.
type Account struct {
	ID               string          `json:"id"`
	Email            string          `json:"email"`
	PasswordHash     string          `json:"-"`
	Metadata         AccountMetadata `json:"user_metadata"`
	EmailConfirmedAt *time.Time      `json:"email_confirmed_at,omitempty"`
	LastSignInAt     *time.Time      `json:"last_sign_in_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Session is a signed-in account as seen by the API. User is decoded from
// the token, so its metadata reflects the moment the token was issued.
type Session struct {
	AccessToken string    `json:"access_token,omitempty"`
	TokenType   string    `json:"token_type,omitempty"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        Account   `json:"user"`
	IsAdmin     bool      `json:"is_admin,omitempty"`
}

// Bool returns a pointer to b. Handy for AccountMetadata.Onboarded.
func Bool(b bool) *bool {
	return &b
}

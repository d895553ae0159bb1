// Package model defines the data structures used throughout the application.
package model

import "time"

// User is the application's profile row for an account (the `users` table).
//
// UserID is the account identifier issued by the identity provider; the
// profile never exists without an account but the reverse can happen when a
// signup aborts halfway (see SignupService).
//
// Onboarded here is the authoritative flag. The copy in the account metadata
// is only a fast path for routing.
type User struct {
	UserID          string    `json:"user_id"           db:"user_id"`
	Username        string    `json:"username"          db:"username"` // unique, 3+ chars
	Email           string    `json:"email"             db:"email"`    // lowercased
	ProfileImageURL *string   `json:"profile_image_url" db:"profile_image_url"`
	IsActive        bool      `json:"is_active"         db:"is_active"`
	IsAdmin         bool      `json:"is_admin"          db:"is_admin"`
	Onboarded       bool      `json:"onboarded"         db:"onboarded"`
	CreatedAt       time.Time `json:"created_at"        db:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"        db:"updated_at"`
}

// FullNameProfile holds the display name, 1:1 with User (`user_profiles`).
type FullNameProfile struct {
	UserID    string    `json:"user_id"    db:"user_id"`
	FullName  string    `json:"full_name"  db:"full_name"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

// CreateUser inserts a profile row.
//
// A taken username comes back as apperror.ConflictOn("username", ...). Any
// other uniqueness failure (the user_id primary key) is a plain conflict on
// the user, which the signup retry loop must not treat as a username clash.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (user_id, username, email, profile_image_url, is_active, is_admin, onboarded, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.UserID,
		u.Username,
		u.Email,
		u.ProfileImageURL,
		boolInt(u.IsActive),
		boolInt(u.IsAdmin),
		boolInt(u.Onboarded),
		u.CreatedAt,
		u.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "users.username") {
				return apperror.ConflictOn("username", fmt.Sprintf("username %q is already taken", u.Username))
			}
			return apperror.Conflict("user", u.UserID)
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", u.UserID, err)
	}
	return nil
}

// UpsertUser inserts or updates a profile keyed on user_id. created_at is
// preserved on update.
func (db *DB) UpsertUser(ctx context.Context, u *model.User) error {
	now := time.Now()
	u.UpdatedAt = now

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (user_id, username, email, profile_image_url, is_active, is_admin, onboarded, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET
			username          = excluded.username,
			email             = excluded.email,
			profile_image_url = COALESCE(excluded.profile_image_url, users.profile_image_url),
			is_active         = excluded.is_active,
			is_admin          = excluded.is_admin,
			onboarded         = excluded.onboarded,
			updated_at        = excluded.updated_at`,
		u.UserID,
		u.Username,
		u.Email,
		u.ProfileImageURL,
		boolInt(u.IsActive),
		boolInt(u.IsAdmin),
		boolInt(u.Onboarded),
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictOn("username", fmt.Sprintf("username %q is already taken", u.Username))
		}
		return fmt.Errorf("sqlite: upserting user %s: %w", u.UserID, err)
	}
	return nil
}

// GetUserByID retrieves a profile by user id.
// Returns apperror.ErrNotFound if no profile exists.
func (db *DB) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	var (
		u        model.User
		imageURL sql.NullString
	)

	err := db.conn.QueryRowContext(ctx,
		`SELECT user_id, username, email, profile_image_url, is_active, is_admin, onboarded, created_at, updated_at
		 FROM users WHERE user_id = ?`,
		userID,
	).Scan(
		&u.UserID,
		&u.Username,
		&u.Email,
		&imageURL,
		&u.IsActive,
		&u.IsAdmin,
		&u.Onboarded,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", userID)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", userID, err)
	}
	if imageURL.Valid {
		u.ProfileImageURL = &imageURL.String
	}
	return &u, nil
}

// UsernameExists reports whether any profile holds username.
func (db *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM users WHERE username = ?`, username,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username %q: %w", username, err)
	}
	return n > 0, nil
}

// MarkOnboarded sets onboarded = true and bumps updated_at.
func (db *DB) MarkOnboarded(ctx context.Context, userID string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE users SET onboarded = 1, updated_at = ? WHERE user_id = ?`,
		time.Now(), userID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: marking %s onboarded: %w", userID, err)
	}
	return requireOneRow(result, "user", userID)
}

// CreateFullNameProfile inserts the display-name side record.
func (db *DB) CreateFullNameProfile(ctx context.Context, p *model.FullNameProfile) error {
	p.CreatedAt = time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, full_name, created_at) VALUES (?, ?, ?)`,
		p.UserID, p.FullName, p.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("user profile", p.UserID)
		}
		return fmt.Errorf("sqlite: inserting profile for %s: %w", p.UserID, err)
	}
	return nil
}

// UpsertFullNameProfile inserts or renames the display-name side record.
func (db *DB) UpsertFullNameProfile(ctx context.Context, p *model.FullNameProfile) error {
	p.CreatedAt = time.Now()
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO user_profiles (user_id, full_name, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (user_id) DO UPDATE SET full_name = excluded.full_name`,
		p.UserID, p.FullName, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: upserting profile for %s: %w", p.UserID, err)
	}
	return nil
}

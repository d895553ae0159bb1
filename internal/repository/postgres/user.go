package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

// CreateUser mirrors the sqlite behaviour: a clash on users_username_key is
// a username conflict, anything else is a conflict on the user.
func (db *DB) CreateUser(ctx context.Context, u *model.User) error {
	now := time.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, email, profile_image_url, is_active, is_admin, onboarded, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.UserID, u.Username, u.Email, u.ProfileImageURL, u.IsActive, u.IsAdmin, u.Onboarded, u.CreatedAt, u.UpdatedAt,
	)
	if err != nil {
		if constraint, ok := isUniqueViolation(err); ok {
			if constraint == "users_username_key" {
				return apperror.ConflictOn("username", fmt.Sprintf("username %q is already taken", u.Username))
			}
			return apperror.Conflict("user", u.UserID)
		}
		return fmt.Errorf("postgres: inserting user %s: %w", u.UserID, err)
	}
	return nil
}

func (db *DB) UpsertUser(ctx context.Context, u *model.User) error {
	u.UpdatedAt = time.Now()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, email, profile_image_url, is_active, is_admin, onboarded, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		 ON CONFLICT (user_id) DO UPDATE SET
			username          = EXCLUDED.username,
			email             = EXCLUDED.email,
			profile_image_url = COALESCE(EXCLUDED.profile_image_url, users.profile_image_url),
			is_active         = EXCLUDED.is_active,
			is_admin          = EXCLUDED.is_admin,
			onboarded         = EXCLUDED.onboarded,
			updated_at        = EXCLUDED.updated_at`,
		u.UserID, u.Username, u.Email, u.ProfileImageURL, u.IsActive, u.IsAdmin, u.Onboarded, u.UpdatedAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return apperror.ConflictOn("username", fmt.Sprintf("username %q is already taken", u.Username))
		}
		return fmt.Errorf("postgres: upserting user %s: %w", u.UserID, err)
	}
	return nil
}

func (db *DB) GetUserByID(ctx context.Context, userID string) (*model.User, error) {
	var u model.User
	err := db.pool.QueryRow(ctx,
		`SELECT user_id::text, username, email, profile_image_url, is_active, is_admin, onboarded, created_at, updated_at
		 FROM users WHERE user_id = $1`,
		userID,
	).Scan(&u.UserID, &u.Username, &u.Email, &u.ProfileImageURL, &u.IsActive, &u.IsAdmin, &u.Onboarded, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("user", userID)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", userID, err)
	}
	return &u, nil
}

func (db *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE username = $1)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: checking username %q: %w", username, err)
	}
	return exists, nil
}

func (db *DB) MarkOnboarded(ctx context.Context, userID string) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE users SET onboarded = true, updated_at = now() WHERE user_id = $1`, userID,
	)
	if err != nil {
		return fmt.Errorf("postgres: marking %s onboarded: %w", userID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("user", userID)
	}
	return nil
}

func (db *DB) CreateFullNameProfile(ctx context.Context, p *model.FullNameProfile) error {
	p.CreatedAt = time.Now()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, full_name, created_at) VALUES ($1, $2, $3)`,
		p.UserID, p.FullName, p.CreatedAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return apperror.Conflict("user profile", p.UserID)
		}
		return fmt.Errorf("postgres: inserting profile for %s: %w", p.UserID, err)
	}
	return nil
}

func (db *DB) UpsertFullNameProfile(ctx context.Context, p *model.FullNameProfile) error {
	p.CreatedAt = time.Now()
	_, err := db.pool.Exec(ctx,
		`INSERT INTO user_profiles (user_id, full_name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET full_name = EXCLUDED.full_name`,
		p.UserID, p.FullName, p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upserting profile for %s: %w", p.UserID, err)
	}
	return nil
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

// CreateAccount inserts a new account. ID and timestamps must be set by the
// caller (IdentityService owns identifier generation).
func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("sqlite: encoding metadata for %s: %w", a.Email, err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO accounts (id, email, password_hash, metadata, email_confirmed_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.Email,
		a.PasswordHash,
		string(meta),
		a.EmailConfirmedAt,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.ConflictOn("email", "User already registered")
		}
		return fmt.Errorf("sqlite: inserting account %s: %w", a.Email, err)
	}
	return nil
}

// GetAccountByEmail returns apperror.ErrNotFound when no account uses email.
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx, accountSelect+` WHERE email = ?`, email)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", email)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", email, err)
	}
	return a, nil
}

// GetAccountByID returns apperror.ErrNotFound when the id is unknown.
func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	row := db.conn.QueryRowContext(ctx, accountSelect+` WHERE id = ?`, id)
	a, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("account", id)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", id, err)
	}
	return a, nil
}

// UpdateAccountMetadata replaces the metadata document of an account.
func (db *DB) UpdateAccountMetadata(ctx context.Context, id string, metadata model.AccountMetadata) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("sqlite: encoding metadata for %s: %w", id, err)
	}

	result, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET metadata = ?, updated_at = ? WHERE id = ?`,
		string(meta), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating metadata for %s: %w", id, err)
	}
	return requireOneRow(result, "account", id)
}

// TouchLastSignIn records a successful sign-in.
func (db *DB) TouchLastSignIn(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE accounts SET last_sign_in_at = ? WHERE id = ?`, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touching last sign-in for %s: %w", id, err)
	}
	return requireOneRow(result, "account", id)
}

const accountSelect = `
	SELECT id, email, password_hash, metadata, email_confirmed_at, last_sign_in_at, created_at, updated_at
	FROM accounts`

func scanAccount(row *sql.Row) (*model.Account, error) {
	var (
		a         model.Account
		meta      string
		confirmed sql.NullTime
		lastSeen  sql.NullTime
	)
	if err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&meta,
		&confirmed,
		&lastSeen,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &a.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	if confirmed.Valid {
		a.EmailConfirmedAt = &confirmed.Time
	}
	if lastSeen.Valid {
		a.LastSignInAt = &lastSeen.Time
	}
	return &a, nil
}

// requireOneRow turns "no rows affected" into apperror.ErrNotFound.
func requireOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

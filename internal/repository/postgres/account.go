package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

func (db *DB) CreateAccount(ctx context.Context, a *model.Account) error {
	meta, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("postgres: encoding metadata for %s: %w", a.Email, err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO accounts (id, email, password_hash, metadata, email_confirmed_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7)`,
		a.ID, a.Email, a.PasswordHash, string(meta), a.EmailConfirmedAt, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if _, ok := isUniqueViolation(err); ok {
			return apperror.ConflictOn("email", "User already registered")
		}
		return fmt.Errorf("postgres: inserting account %s: %w", a.Email, err)
	}
	return nil
}

func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*model.Account, error) {
	a, err := scanAccount(db.pool.QueryRow(ctx, accountSelect+` WHERE email = $1`, email))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("account", email)
		}
		return nil, fmt.Errorf("postgres: getting account %s: %w", email, err)
	}
	return a, nil
}

func (db *DB) GetAccountByID(ctx context.Context, id string) (*model.Account, error) {
	a, err := scanAccount(db.pool.QueryRow(ctx, accountSelect+` WHERE id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("account", id)
		}
		return nil, fmt.Errorf("postgres: getting account %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) UpdateAccountMetadata(ctx context.Context, id string, metadata model.AccountMetadata) error {
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("postgres: encoding metadata for %s: %w", id, err)
	}
	tag, err := db.pool.Exec(ctx,
		`UPDATE accounts SET metadata = $1::jsonb, updated_at = $2 WHERE id = $3`,
		string(meta), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("postgres: updating metadata for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("account", id)
	}
	return nil
}

func (db *DB) TouchLastSignIn(ctx context.Context, id string) error {
	tag, err := db.pool.Exec(ctx, `UPDATE accounts SET last_sign_in_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: touching last sign-in for %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("account", id)
	}
	return nil
}

const accountSelect = `
	SELECT id::text, email, password_hash, metadata, email_confirmed_at, last_sign_in_at, created_at, updated_at
	FROM accounts`

func scanAccount(row pgx.Row) (*model.Account, error) {
	var (
		a    model.Account
		meta []byte
	)
	if err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &meta,
		&a.EmailConfirmedAt, &a.LastSignInAt, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(meta, &a.Metadata); err != nil {
		return nil, fmt.Errorf("decoding metadata: %w", err)
	}
	return &a, nil
}

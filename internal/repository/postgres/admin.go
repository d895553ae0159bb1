package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

const credentialSelect = `
	SELECT admin_id, username, password_hash, user_id::text, is_active, last_login, created_at
	FROM admin_credentials`

func scanCredential(row pgx.Row) (*model.AdminCredential, error) {
	var c model.AdminCredential
	if err := row.Scan(&c.ID, &c.Username, &c.PasswordHash, &c.UserID, &c.IsActive, &c.LastLogin, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

func (db *DB) GetActiveCredentialByUsername(ctx context.Context, username string) (*model.AdminCredential, error) {
	cred, err := scanCredential(db.pool.QueryRow(ctx,
		credentialSelect+` WHERE username = $1 AND is_active`, strings.ToLower(username),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("postgres: getting admin %q: %w", username, err)
	}
	if cred.Roles, err = db.rolesForAdmin(ctx, cred.ID); err != nil {
		return nil, err
	}
	return cred, nil
}

func (db *DB) GetCredentialByID(ctx context.Context, id int64) (*model.AdminCredential, error) {
	cred, err := scanCredential(db.pool.QueryRow(ctx, credentialSelect+` WHERE admin_id = $1`, id))
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("admin", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("postgres: getting admin %d: %w", id, err)
	}
	if cred.Roles, err = db.rolesForAdmin(ctx, cred.ID); err != nil {
		return nil, err
	}
	return cred, nil
}

func (db *DB) UpdateLastLogin(ctx context.Context, adminID int64) error {
	tag, err := db.pool.Exec(ctx, `UPDATE admin_credentials SET last_login = now() WHERE admin_id = $1`, adminID)
	if err != nil {
		return fmt.Errorf("postgres: updating last login for %d: %w", adminID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NotFound("admin", strconv.FormatInt(adminID, 10))
	}
	return nil
}

func (db *DB) UpsertCredential(ctx context.Context, cred *model.AdminCredential) error {
	cred.Username = strings.ToLower(cred.Username)
	err := db.pool.QueryRow(ctx,
		`INSERT INTO admin_credentials (username, password_hash, user_id, is_active)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			user_id       = EXCLUDED.user_id,
			is_active     = EXCLUDED.is_active
		 RETURNING admin_id, created_at`,
		cred.Username, cred.PasswordHash, cred.UserID, cred.IsActive,
	).Scan(&cred.ID, &cred.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upserting admin %q: %w", cred.Username, err)
	}
	return nil
}

func (db *DB) GetRoleByName(ctx context.Context, name string) (*model.AdminRole, error) {
	var (
		role model.AdminRole
		raw  []byte
	)
	err := db.pool.QueryRow(ctx,
		`SELECT role_id, role_name, permissions FROM admin_roles WHERE role_name = $1`, name,
	).Scan(&role.ID, &role.Name, &raw)
	if err != nil {
		if isNoRows(err) {
			return nil, apperror.NotFound("role", name)
		}
		return nil, fmt.Errorf("postgres: getting role %q: %w", name, err)
	}
	if err := json.Unmarshal(raw, &role.Permissions); err != nil {
		return nil, fmt.Errorf("postgres: decoding permissions of role %q: %w", name, err)
	}
	return &role, nil
}

func (db *DB) UpsertRoleAssignment(ctx context.Context, adminID, roleID int64) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO admin_user_roles (admin_id, role_id) VALUES ($1, $2)
		 ON CONFLICT (admin_id, role_id) DO NOTHING`,
		adminID, roleID,
	)
	if err != nil {
		return fmt.Errorf("postgres: assigning role %d to admin %d: %w", roleID, adminID, err)
	}
	return nil
}

func (db *DB) IsUserAdmin(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := db.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM admin_credentials WHERE user_id = $1 AND is_active)`, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: checking admin status of %s: %w", userID, err)
	}
	return exists, nil
}

func (db *DB) rolesForAdmin(ctx context.Context, adminID int64) ([]model.AdminRole, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT r.role_id, r.role_name, r.permissions
		 FROM admin_user_roles ur
		 JOIN admin_roles r ON r.role_id = ur.role_id
		 WHERE ur.admin_id = $1
		 ORDER BY r.role_name`,
		adminID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing roles of admin %d: %w", adminID, err)
	}

	roles, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.AdminRole, error) {
		var (
			role model.AdminRole
			raw  []byte
		)
		if err := row.Scan(&role.ID, &role.Name, &raw); err != nil {
			return role, err
		}
		if err := json.Unmarshal(raw, &role.Permissions); err != nil {
			return role, fmt.Errorf("decoding permissions of role %q: %w", role.Name, err)
		}
		return role, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres: scanning roles: %w", err)
	}
	return roles, nil
}

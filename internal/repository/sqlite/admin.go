package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/rbac"
)

// seedRoles makes sure the built-in roles exist. Existing rows are left
// alone so operators can edit permissions in place.
func (db *DB) seedRoles() error {
	builtin := map[string]rbac.Permissions{
		"super_admin": rbac.SuperAdmin(),
		"moderator":   rbac.Moderator(),
	}
	for name, perms := range builtin {
		raw, err := json.Marshal(perms)
		if err != nil {
			return fmt.Errorf("encoding %s permissions: %w", name, err)
		}
		if _, err := db.conn.Exec(
			`INSERT INTO admin_roles (role_name, permissions) VALUES (?, ?)
			 ON CONFLICT (role_name) DO NOTHING`,
			name, string(raw),
		); err != nil {
			return fmt.Errorf("inserting role %s: %w", name, err)
		}
	}
	return nil
}

// GetActiveCredentialByUsername looks up an active credential and its roles.
// Usernames are stored lowercased; the argument is lowercased here too.
func (db *DB) GetActiveCredentialByUsername(ctx context.Context, username string) (*model.AdminCredential, error) {
	row := db.conn.QueryRowContext(ctx,
		credentialSelect+` WHERE username = ? AND is_active = 1`,
		strings.ToLower(username),
	)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite: getting admin %q: %w", username, err)
	}

	cred.Roles, err = db.rolesForAdmin(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// GetCredentialByID returns a credential (active or not) with its roles.
func (db *DB) GetCredentialByID(ctx context.Context, id int64) (*model.AdminCredential, error) {
	row := db.conn.QueryRowContext(ctx, credentialSelect+` WHERE admin_id = ?`, id)
	cred, err := scanCredential(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("admin", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlite: getting admin %d: %w", id, err)
	}

	cred.Roles, err = db.rolesForAdmin(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	return cred, nil
}

// UpdateLastLogin stamps the credential with the current time.
func (db *DB) UpdateLastLogin(ctx context.Context, adminID int64) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE admin_credentials SET last_login = ? WHERE admin_id = ?`,
		time.Now(), adminID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating last login for %d: %w", adminID, err)
	}
	return requireOneRow(result, "admin", strconv.FormatInt(adminID, 10))
}

// UpsertCredential inserts or updates a credential keyed on username and
// fills in cred.ID.
func (db *DB) UpsertCredential(ctx context.Context, cred *model.AdminCredential) error {
	cred.Username = strings.ToLower(cred.Username)
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO admin_credentials (username, password_hash, user_id, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (username) DO UPDATE SET
			password_hash = excluded.password_hash,
			user_id       = excluded.user_id,
			is_active     = excluded.is_active
		 RETURNING admin_id`,
		cred.Username, cred.PasswordHash, cred.UserID, boolInt(cred.IsActive), time.Now(),
	).Scan(&cred.ID)
	if err != nil {
		return fmt.Errorf("sqlite: upserting admin %q: %w", cred.Username, err)
	}
	return nil
}

// GetRoleByName returns apperror.ErrNotFound for an unknown role.
func (db *DB) GetRoleByName(ctx context.Context, name string) (*model.AdminRole, error) {
	var (
		role model.AdminRole
		raw  string
	)
	err := db.conn.QueryRowContext(ctx,
		`SELECT role_id, role_name, permissions FROM admin_roles WHERE role_name = ?`, name,
	).Scan(&role.ID, &role.Name, &raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("role", name)
		}
		return nil, fmt.Errorf("sqlite: getting role %q: %w", name, err)
	}
	if err := json.Unmarshal([]byte(raw), &role.Permissions); err != nil {
		return nil, fmt.Errorf("sqlite: decoding permissions of role %q: %w", name, err)
	}
	return &role, nil
}

// UpsertRoleAssignment links an admin to a role. Re-linking is a no-op.
func (db *DB) UpsertRoleAssignment(ctx context.Context, adminID, roleID int64) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO admin_user_roles (admin_id, role_id) VALUES (?, ?)
		 ON CONFLICT (admin_id, role_id) DO NOTHING`,
		adminID, roleID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: assigning role %d to admin %d: %w", roleID, adminID, err)
	}
	return nil
}

// IsUserAdmin reports whether userID owns an active admin credential.
func (db *DB) IsUserAdmin(ctx context.Context, userID string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM admin_credentials WHERE user_id = ? AND is_active = 1`, userID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking admin status of %s: %w", userID, err)
	}
	return n > 0, nil
}

func (db *DB) rolesForAdmin(ctx context.Context, adminID int64) ([]model.AdminRole, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT r.role_id, r.role_name, r.permissions
		 FROM admin_user_roles ur
		 JOIN admin_roles r ON r.role_id = ur.role_id
		 WHERE ur.admin_id = ?
		 ORDER BY r.role_name`,
		adminID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing roles of admin %d: %w", adminID, err)
	}
	defer rows.Close()

	var roles []model.AdminRole
	for rows.Next() {
		var (
			role model.AdminRole
			raw  string
		)
		if err := rows.Scan(&role.ID, &role.Name, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: scanning role row: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &role.Permissions); err != nil {
			return nil, fmt.Errorf("sqlite: decoding permissions of role %q: %w", role.Name, err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating role rows: %w", err)
	}
	return roles, nil
}

const credentialSelect = `
	SELECT admin_id, username, password_hash, user_id, is_active, last_login, created_at
	FROM admin_credentials`

func scanCredential(row *sql.Row) (*model.AdminCredential, error) {
	var (
		c         model.AdminCredential
		lastLogin sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Username, &c.PasswordHash, &c.UserID, &c.IsActive, &lastLogin, &c.CreatedAt); err != nil {
		return nil, err
	}
	if lastLogin.Valid {
		c.LastLogin = &lastLogin.Time
	}
	return &c, nil
}

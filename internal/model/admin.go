package model

import (
	"time"

	"github.com/knowex/knowex-api/internal/rbac"
)

// AdminCredential is the separate username/password record an administrator
// logs in with. It points at a User row but is not owned by it.
type AdminCredential struct {
	ID           int64       `json:"admin_id"`
	Username     string      `json:"username"` // stored lowercased
	PasswordHash string      `json:"-"`
	UserID       string      `json:"user_id"`
	IsActive     bool        `json:"is_active"`
	LastLogin    *time.Time  `json:"last_login,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	Roles        []AdminRole `json:"roles,omitempty"`
}

// AdminRole is a named bundle of permissions.
type AdminRole struct {
	ID          int64            `json:"role_id"`
	Name        string           `json:"role_name"`
	Permissions rbac.Permissions `json:"permissions"`
}

// AdminProfile is the admin half of a successful admin login.
type AdminProfile struct {
	ID          int64            `json:"admin_id"`
	Username    string           `json:"username"`
	Roles       []AdminRole      `json:"roles"`
	Permissions rbac.Permissions `json:"permissions"`
}

// AdminIdentity is what an admin login returns: the admin attributes, the
// merged permissions and the linked user flagged as an administrator.
type AdminIdentity struct {
	Admin AdminProfile `json:"admin"`
	User  User         `json:"user"`
}

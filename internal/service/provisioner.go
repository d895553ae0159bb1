package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/repository"
)

// BootstrapAdmin describes the administrator created by Provision.
type BootstrapAdmin struct {
	Email    string
	Password string
	Username string
	FullName string
	Role     string
}

// DefaultBootstrapAdmin is the first administrator of a fresh install. Change
// the password after the first login.
var DefaultBootstrapAdmin = BootstrapAdmin{
	Email:    "admin@knowex.com",
	Password: "admin123",
	Username: "superadmin",
	FullName: "System Administrator",
	Role:     "super_admin",
}

// ProvisionResult reports what Provision wrote.
type ProvisionResult struct {
	UserID         string
	AdminID        int64
	RoleID         int64
	AccountCreated bool
}

// Provisioner creates or repairs the bootstrap administrator. Every step is
// an upsert, so running it twice leaves the same rows behind.
type Provisioner struct {
	identity  *IdentityService
	users     repository.UserRepository
	admins    repository.AdminRepository
	passwords *auth.PasswordService
	logger    *slog.Logger
}

func NewProvisioner(
	identity *IdentityService,
	users repository.UserRepository,
	admins repository.AdminRepository,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *Provisioner {
	return &Provisioner{
		identity:  identity,
		users:     users,
		admins:    admins,
		passwords: passwords,
		logger:    logger,
	}
}

// Provision runs the bootstrap steps in order and stops at the first error.
func (p *Provisioner) Provision(ctx context.Context, in BootstrapAdmin) (*ProvisionResult, error) {
	res := &ProvisionResult{}

	// 1. Account: create, or reuse the one that already owns the email.
	account, err := p.identity.AdminCreateUser(ctx, in.Email, in.Password, model.AccountMetadata{
		FullName:  in.FullName,
		Onboarded: model.Bool(true),
	}, true)
	switch {
	case err == nil:
		res.AccountCreated = true
		p.logger.Info("created admin account", slog.String("email", account.Email))
	case errors.Is(err, apperror.ErrConflict):
		account, err = p.identity.FindUserByEmail(ctx, in.Email)
		if err != nil {
			return nil, fmt.Errorf("service/provisioner: fetching existing account %s: %w", in.Email, err)
		}
		p.logger.Info("admin account already exists", slog.String("email", account.Email))
	default:
		return nil, fmt.Errorf("service/provisioner: creating account %s: %w", in.Email, err)
	}
	res.UserID = account.ID

	// 2. User profile, flagged admin and already onboarded.
	now := time.Now()
	if err := p.users.UpsertUser(ctx, &model.User{
		UserID:    account.ID,
		Username:  in.Username,
		Email:     account.Email,
		IsActive:  true,
		IsAdmin:   true,
		Onboarded: true,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("service/provisioner: upserting user profile: %w", err)
	}
	p.logger.Info("upserted user profile", slog.String("userID", account.ID))

	// 3. Full name profile.
	if err := p.users.UpsertFullNameProfile(ctx, &model.FullNameProfile{
		UserID:    account.ID,
		FullName:  in.FullName,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("service/provisioner: upserting full name profile: %w", err)
	}

	// 4-5. Admin credential keyed on username.
	hash, err := p.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/provisioner: hashing admin password: %w", err)
	}
	cred := &model.AdminCredential{
		Username:     in.Username,
		PasswordHash: hash,
		UserID:       account.ID,
		IsActive:     true,
	}
	if err := p.admins.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("service/provisioner: upserting admin credential: %w", err)
	}
	res.AdminID = cred.ID
	p.logger.Info("upserted admin credential",
		slog.Int64("adminID", cred.ID),
		slog.String("username", cred.Username),
	)

	// 6-7. Role assignment.
	role, err := p.admins.GetRoleByName(ctx, in.Role)
	if err != nil {
		return nil, fmt.Errorf("service/provisioner: looking up role %q: %w", in.Role, err)
	}
	if err := p.admins.UpsertRoleAssignment(ctx, cred.ID, role.ID); err != nil {
		return nil, fmt.Errorf("service/provisioner: assigning role %q: %w", in.Role, err)
	}
	res.RoleID = role.ID
	p.logger.Info("assigned role",
		slog.Int64("adminID", cred.ID),
		slog.String("role", role.Name),
	)

	return res, nil
}

// DefaultGrantedRole is assigned by GrantAdmin when no role is named.
const DefaultGrantedRole = "moderator"

// GrantAdmin promotes an existing user to administrator: the profile is
// flagged is_admin, an admin credential is upserted under username and each
// role is assigned. Like Provision it can be rerun.
func (p *Provisioner) GrantAdmin(ctx context.Context, userID, username, password string, roles ...string) (*model.AdminCredential, error) {
	if username == "" {
		return nil, apperror.ValidationFailed("username", "Admin username is required")
	}
	if len(roles) == 0 {
		roles = []string{DefaultGrantedRole}
	}

	user, err := p.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/provisioner: fetching user %s: %w", userID, err)
	}

	// Roles are resolved before any write.
	resolved := make([]*model.AdminRole, 0, len(roles))
	for _, name := range roles {
		role, err := p.admins.GetRoleByName(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("service/provisioner: looking up role %q: %w", name, err)
		}
		resolved = append(resolved, role)
	}

	hash, err := p.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
		}
		return nil, fmt.Errorf("service/provisioner: hashing admin password: %w", err)
	}

	if !user.IsAdmin {
		user.IsAdmin = true
		if err := p.users.UpsertUser(ctx, user); err != nil {
			return nil, fmt.Errorf("service/provisioner: flagging %s as admin: %w", userID, err)
		}
	}

	cred := &model.AdminCredential{
		Username:     username,
		PasswordHash: hash,
		UserID:       userID,
		IsActive:     true,
	}
	if err := p.admins.UpsertCredential(ctx, cred); err != nil {
		return nil, fmt.Errorf("service/provisioner: upserting admin credential: %w", err)
	}

	for _, role := range resolved {
		if err := p.admins.UpsertRoleAssignment(ctx, cred.ID, role.ID); err != nil {
			return nil, fmt.Errorf("service/provisioner: assigning role %q: %w", role.Name, err)
		}
		cred.Roles = append(cred.Roles, *role)
	}

	p.logger.Info("granted admin",
		slog.String("userID", userID),
		slog.Int64("adminID", cred.ID),
		slog.Int("roles", len(resolved)),
	)
	return cred, nil
}

package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/rbac"
	"github.com/knowex/knowex-api/internal/repository"
	"github.com/knowex/knowex-api/internal/storage"
)

// adminFailureMessage is shared by every admin login failure that involves
// the username or password. Do not vary it.
const adminFailureMessage = "Invalid admin credentials"

// CredentialService authenticates users and administrators.
type CredentialService struct {
	identity  *IdentityService
	admins    repository.AdminRepository
	profiles  ProfileReader
	passwords *auth.PasswordService
	objects   storage.ObjectStore // optional, receives admin session snapshots
	logger    *slog.Logger
}

func NewCredentialService(
	identity *IdentityService,
	admins repository.AdminRepository,
	profiles ProfileReader,
	passwords *auth.PasswordService,
	objects storage.ObjectStore,
	logger *slog.Logger,
) *CredentialService {
	return &CredentialService{
		identity:  identity,
		admins:    admins,
		profiles:  profiles,
		passwords: passwords,
		objects:   objects,
		logger:    logger,
	}
}

// Login is the regular user path. Provider errors pass through unchanged so
// the client can show their message.
func (s *CredentialService) Login(ctx context.Context, email, password string) (*model.Session, error) {
	if strings.TrimSpace(email) == "" || password == "" {
		return nil, apperror.ValidationFailed("", "Please fill in all fields")
	}
	return s.identity.SignInWithPassword(ctx, email, password)
}

// AdminLoginResult is a successful admin login.
type AdminLoginResult struct {
	Identity model.AdminIdentity `json:"identity"`
	Session  *model.Session      `json:"session"`
}

// AdminLogin checks an admin username/password against the admin credential
// table, records the login and returns the admin identity with merged
// permissions.
//
// Unknown usernames, inactive credentials and wrong passwords all return
// apperror.ErrInvalidCredentials with the same message, after the same
// amount of bcrypt work.
func (s *CredentialService) AdminLogin(ctx context.Context, username, password string) (*AdminLoginResult, error) {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || password == "" {
		return nil, apperror.ValidationFailed("", "Please fill in all fields")
	}

	cred, err := s.admins.GetActiveCredentialByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("service/credentials: looking up admin %q: %w", username, err)
	}
	if cred == nil {
		_ = s.passwords.VerifyDummy(password)
		return nil, apperror.InvalidCredentials(adminFailureMessage)
	}

	if err := s.passwords.Verify(cred.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Error("admin credential has an unreadable hash",
				slog.Int64("adminID", cred.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, apperror.InvalidCredentials(adminFailureMessage)
	}

	if err := s.admins.UpdateLastLogin(ctx, cred.ID); err != nil {
		s.logger.Warn("failed to record admin login",
			slog.Int64("adminID", cred.ID),
			slog.String("error", err.Error()),
		)
	}

	user, err := s.profiles.GetUserByID(ctx, cred.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.UserRecordMissing(cred.UserID)
		}
		return nil, fmt.Errorf("service/credentials: loading user for admin %d: %w", cred.ID, err)
	}
	user.IsAdmin = true

	identity := model.AdminIdentity{
		Admin: model.AdminProfile{
			ID:          cred.ID,
			Username:    cred.Username,
			Roles:       cred.Roles,
			Permissions: mergeRolePermissions(cred.Roles),
		},
		User: *user,
	}

	account, err := s.identity.GetUser(ctx, cred.UserID)
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		// Credential and profile exist but the account does not. The token
		// still needs a subject.
		account = &model.Account{ID: user.UserID, Email: user.Email}
	}

	session, err := s.identity.IssueSession(account, true, cred.ID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("admin logged in",
		slog.Int64("adminID", cred.ID),
		slog.String("username", cred.Username),
	)
	s.storeSnapshot(ctx, identity)

	return &AdminLoginResult{Identity: identity, Session: session}, nil
}

// AdminPermissions returns the merged permissions of an admin.
func (s *CredentialService) AdminPermissions(ctx context.Context, adminID int64) (*model.AdminProfile, error) {
	cred, err := s.admins.GetCredentialByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/credentials: loading admin %d: %w", adminID, err)
	}
	if !cred.IsActive {
		return nil, apperror.Forbidden("admin account is disabled")
	}
	return &model.AdminProfile{
		ID:          cred.ID,
		Username:    cred.Username,
		Roles:       cred.Roles,
		Permissions: mergeRolePermissions(cred.Roles),
	}, nil
}

// IsUserAdmin reports whether userID has an active admin credential.
func (s *CredentialService) IsUserAdmin(ctx context.Context, userID string) (bool, error) {
	ok, err := s.admins.IsUserAdmin(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("service/credentials: checking admin for %s: %w", userID, err)
	}
	return ok, nil
}

func mergeRolePermissions(roles []model.AdminRole) rbac.Permissions {
	perms := make([]rbac.Permissions, 0, len(roles))
	for _, r := range roles {
		perms = append(perms, r.Permissions)
	}
	return rbac.Merge(perms...)
}

type adminSnapshot struct {
	Identity model.AdminIdentity `json:"identity"`
	LoginAt  time.Time           `json:"login_at"`
}

// storeSnapshot keeps the last admin login in the sessions bucket. Failures
// are logged only.
func (s *CredentialService) storeSnapshot(ctx context.Context, identity model.AdminIdentity) {
	if s.objects == nil {
		return
	}
	body, err := json.Marshal(adminSnapshot{Identity: identity, LoginAt: time.Now()})
	if err != nil {
		s.logger.Warn("failed to encode admin snapshot", slog.String("error", err.Error()))
		return
	}
	key := fmt.Sprintf("admin_%d.json", identity.Admin.ID)
	if err := s.objects.Upload(ctx, storage.BucketSessions, key, bytes.NewReader(body)); err != nil {
		s.logger.Warn("failed to store admin snapshot",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

package repository

import (
	"context"

	"github.com/knowex/knowex-api/internal/model"
)

// AccountRepository stores identity-provider accounts.
// CreateAccount returns apperror.ErrConflict when the email is taken.
type AccountRepository interface {
	CreateAccount(ctx context.Context, account *model.Account) error
	GetAccountByEmail(ctx context.Context, email string) (*model.Account, error)
	GetAccountByID(ctx context.Context, id string) (*model.Account, error)
	UpdateAccountMetadata(ctx context.Context, id string, metadata model.AccountMetadata) error
	TouchLastSignIn(ctx context.Context, id string) error
}

// UserRepository stores User Profile and Full Name Profile rows.
//
// CreateUser reports a taken username as an *apperror.AppError wrapping
// ErrConflict with Field "username", so callers can tell it apart from other
// conflicts (for example a second profile for the same user id).
type UserRepository interface {
	CreateUser(ctx context.Context, user *model.User) error
	UpsertUser(ctx context.Context, user *model.User) error
	GetUserByID(ctx context.Context, userID string) (*model.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	MarkOnboarded(ctx context.Context, userID string) error
	CreateFullNameProfile(ctx context.Context, profile *model.FullNameProfile) error
	UpsertFullNameProfile(ctx context.Context, profile *model.FullNameProfile) error
}

// CatalogRepository reads (and, for seeding, writes) communities and
// technologies.
type CatalogRepository interface {
	ListActiveCommunities(ctx context.Context) ([]model.Community, error)
	GetCommunity(ctx context.Context, id int64) (*model.Community, error)
	ListActiveTechnologies(ctx context.Context, communityID int64) ([]model.Technology, error)
	UpsertCommunity(ctx context.Context, community *model.Community) error
	UpsertTechnology(ctx context.Context, tech *model.Technology) error
}

// MembershipRepository stores join requests and technology interests.
//
// FindOpenJoinRequest returns (nil, nil) when the user has no pending or
// approved request for the community.
// AddTechnologyInterests inserts every row or none; a duplicate (user, tech)
// pair fails the whole batch with ErrConflict.
type MembershipRepository interface {
	FindOpenJoinRequest(ctx context.Context, userID string, communityID int64) (*model.JoinRequest, error)
	CreateJoinRequest(ctx context.Context, req *model.JoinRequest) error
	AddTechnologyInterests(ctx context.Context, userID string, techIDs []int64) error
	ListTechnologyInterests(ctx context.Context, userID string) ([]model.TechnologyInterest, error)
}

// AdminRepository stores admin credentials, roles and role assignments.
//
// GetActiveCredentialByUsername returns (nil, nil) when no active credential
// matches; callers must not distinguish that from a bad password.
type AdminRepository interface {
	GetActiveCredentialByUsername(ctx context.Context, username string) (*model.AdminCredential, error)
	GetCredentialByID(ctx context.Context, id int64) (*model.AdminCredential, error)
	UpdateLastLogin(ctx context.Context, adminID int64) error
	UpsertCredential(ctx context.Context, cred *model.AdminCredential) error
	GetRoleByName(ctx context.Context, name string) (*model.AdminRole, error)
	UpsertRoleAssignment(ctx context.Context, adminID, roleID int64) error
	IsUserAdmin(ctx context.Context, userID string) (bool, error)
}

// Store is everything a backend must provide. Both the sqlite and postgres
// packages satisfy it.
type Store interface {
	AccountRepository
	UserRepository
	CatalogRepository
	MembershipRepository
	AdminRepository
	Close() error
}

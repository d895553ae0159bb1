// Package service holds the business logic of the KnowEx API.
//
// The HTTP handlers stay thin: they decode requests, call one of the services
// below and encode the result. Everything that touches more than one
// collaborator lives here:
//
//	Handler (HTTP) → IdentityService   → AccountRepository, TokenService, Bus
//	               → SignupService     → IdentityService, UserRepository, ObjectStore
//	               → OnboardingService → CatalogRepository, MembershipRepository
//	               → CredentialService → AdminRepository, IdentityService
//	               → SessionResolver   → UserRepository
//
// Services return *apperror.AppError for anything the caller should show to
// a person, and wrap everything else with a "service/<name>:" prefix.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/authstate"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/repository"
)

// minProviderPasswordLen is the identity provider's own password rule. The
// signup form checks the same length first with its own wording.
const minProviderPasswordLen = 6

// IdentityService is the authentication provider: it owns accounts, issues
// session tokens and announces sign-in/sign-out on the auth-state bus.
type IdentityService struct {
	accounts  repository.AccountRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	bus       authstate.Bus
	logger    *slog.Logger
}

// NewIdentityService creates an IdentityService.
func NewIdentityService(
	accounts repository.AccountRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	bus authstate.Bus,
	logger *slog.Logger,
) *IdentityService {
	return &IdentityService{
		accounts:  accounts,
		tokens:    tokens,
		passwords: passwords,
		bus:       bus,
		logger:    logger,
	}
}

// MetadataPatch changes the account metadata. Nil fields are left alone.
type MetadataPatch struct {
	FullName  *string
	Onboarded *bool
}

func (p MetadataPatch) apply(m model.AccountMetadata) model.AccountMetadata {
	if p.FullName != nil {
		m.FullName = *p.FullName
	}
	if p.Onboarded != nil {
		m.Onboarded = model.Bool(*p.Onboarded)
	}
	return m
}

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// SignUp creates an account and signs it in.
func (s *IdentityService) SignUp(ctx context.Context, email, password string, metadata model.AccountMetadata) (*model.Session, error) {
	account, err := s.createAccount(ctx, email, password, metadata, false)
	if err != nil {
		return nil, err
	}

	session, err := s.IssueSession(account, false, 0)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created", slog.String("userID", account.ID))
	s.publish(ctx, authstate.NewSignedIn(*session))
	return session, nil
}

// AdminCreateUser creates an account without signing it in. confirmEmail
// marks the address as verified, as an operator-created account would be.
func (s *IdentityService) AdminCreateUser(ctx context.Context, email, password string, metadata model.AccountMetadata, confirmEmail bool) (*model.Account, error) {
	return s.createAccount(ctx, email, password, metadata, confirmEmail)
}

func (s *IdentityService) createAccount(ctx context.Context, email, password string, metadata model.AccountMetadata, confirmEmail bool) (*model.Account, error) {
	email = NormalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, apperror.ValidationFailed("email", "Unable to validate email address: invalid format")
	}
	if utf8.RuneCountInString(password) < minProviderPasswordLen {
		return nil, apperror.ValidationFailed("password", "Password should be at least 6 characters.")
	}

	hash, err := s.passwords.Hash(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return nil, apperror.ValidationFailed("password", "Password must be 72 bytes or fewer")
		}
		return nil, fmt.Errorf("service/identity: hashing password: %w", err)
	}

	now := time.Now()
	account := &model.Account{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		Metadata:     metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if confirmEmail {
		account.EmailConfirmedAt = &now
	}

	if err := s.accounts.CreateAccount(ctx, account); err != nil {
		var appErr *apperror.AppError
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		return nil, fmt.Errorf("service/identity: creating account %s: %w", email, err)
	}
	return account, nil
}

// SignInWithPassword checks an email/password pair. Unknown email and wrong
// password fail the same way and take the same bcrypt time.
func (s *IdentityService) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	invalid := apperror.InvalidCredentials("Invalid login credentials")

	account, err := s.accounts.GetAccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("service/identity: looking up %s: %w", email, err)
		}
		_ = s.passwords.VerifyDummy(password)
		return nil, invalid
	}

	if err := s.passwords.Verify(account.PasswordHash, password); err != nil {
		if !errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn("unreadable password hash",
				slog.String("userID", account.ID),
				slog.String("error", err.Error()),
			)
		}
		return nil, invalid
	}

	return s.signIn(ctx, account)
}

// SignInWithOAuth signs in the account for a verified social-login email,
// creating it on first use. Such accounts have no password.
func (s *IdentityService) SignInWithOAuth(ctx context.Context, email string, metadata model.AccountMetadata) (*model.Session, bool, error) {
	email = NormalizeEmail(email)

	account, err := s.accounts.GetAccountByEmail(ctx, email)
	created := false
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrNotFound):
		now := time.Now()
		account = &model.Account{
			ID:               uuid.NewString(),
			Email:            email,
			Metadata:         metadata,
			EmailConfirmedAt: &now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := s.accounts.CreateAccount(ctx, account); err != nil {
			return nil, false, fmt.Errorf("service/identity: creating oauth account %s: %w", email, err)
		}
		created = true
	default:
		return nil, false, fmt.Errorf("service/identity: looking up %s: %w", email, err)
	}

	session, err := s.signIn(ctx, account)
	if err != nil {
		return nil, false, err
	}
	return session, created, nil
}

func (s *IdentityService) signIn(ctx context.Context, account *model.Account) (*model.Session, error) {
	if err := s.accounts.TouchLastSignIn(ctx, account.ID); err != nil {
		s.logger.Warn("failed to record sign-in",
			slog.String("userID", account.ID),
			slog.String("error", err.Error()),
		)
	}

	session, err := s.IssueSession(account, false, 0)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, authstate.NewSignedIn(*session))
	return session, nil
}

// IssueSession signs a token for account. It does not publish an event;
// callers that complete a sign-in do that themselves.
func (s *IdentityService) IssueSession(account *model.Account, isAdmin bool, adminID int64) (*model.Session, error) {
	token, expires, err := s.tokens.Generate(auth.Subject{
		Account: *account,
		IsAdmin: isAdmin,
		AdminID: adminID,
	})
	if err != nil {
		return nil, fmt.Errorf("service/identity: issuing session for %s: %w", account.ID, err)
	}

	return &model.Session{
		AccessToken: token,
		TokenType:   "bearer",
		ExpiresAt:   expires,
		User:        *account,
		IsAdmin:     isAdmin,
	}, nil
}

// GetSession decodes a token. A missing, expired or tampered token yields
// nil: there is simply no session.
func (s *IdentityService) GetSession(token string) *model.Session {
	if token == "" {
		return nil
	}
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil
	}
	return claims.Session(token)
}

// GetUser returns the account with the given id.
func (s *IdentityService) GetUser(ctx context.Context, id string) (*model.Account, error) {
	account, err := s.accounts.GetAccountByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/identity: getting account %s: %w", id, err)
	}
	return account, nil
}

// FindUserByEmail returns the account for email, or apperror.ErrNotFound.
func (s *IdentityService) FindUserByEmail(ctx context.Context, email string) (*model.Account, error) {
	account, err := s.accounts.GetAccountByEmail(ctx, NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/identity: finding %s: %w", email, err)
	}
	return account, nil
}

// UpdateMetadata applies patch to the account metadata and returns the
// updated account.
func (s *IdentityService) UpdateMetadata(ctx context.Context, id string, patch MetadataPatch) (*model.Account, error) {
	account, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	account.Metadata = patch.apply(account.Metadata)
	if err := s.accounts.UpdateAccountMetadata(ctx, id, account.Metadata); err != nil {
		return nil, fmt.Errorf("service/identity: updating metadata for %s: %w", id, err)
	}
	account.UpdatedAt = time.Now()
	return account, nil
}

// SignOut announces that userID's session has ended. Tokens are stateless;
// the client drops its copy.
func (s *IdentityService) SignOut(ctx context.Context, userID string) {
	s.publish(ctx, authstate.NewSignedOut(userID))
}

// publish never fails the caller: a lost event only delays a route change.
func (s *IdentityService) publish(ctx context.Context, ev authstate.Event) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.logger.Warn("failed to publish auth-state event",
			slog.String("type", string(ev.Type)),
			slog.String("userID", ev.UserID),
			slog.String("error", err.Error()),
		)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/xid"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/repository"
	"github.com/knowex/knowex-api/internal/storage"
)

const (
	// MaxUsernameAttempts bounds profile inserts per signup, the first
	// (requested) username included.
	MaxUsernameAttempts = 5

	minPasswordLen = 6
	minUsernameLen = 3

	avatarUploadWarning = "Failed to upload profile image. Your account will be created without a profile picture."
)

// ImageUpload is an optional profile picture sent with the signup form.
type ImageUpload struct {
	Filename string
	Reader   io.Reader
}

// SignupInput is the signup form.
type SignupInput struct {
	FullName        string
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	Image           *ImageUpload
}

// SignupResult is a completed signup. Warnings are non-fatal problems the
// client should show, such as a failed avatar upload.
type SignupResult struct {
	Session  *model.Session `json:"session"`
	User     *model.User    `json:"user"`
	Next     model.Route    `json:"next"`
	Warnings []string       `json:"warnings,omitempty"`
}

// SignupService creates an account together with its profile rows.
type SignupService struct {
	identity *IdentityService
	users    repository.UserRepository
	objects  storage.ObjectStore
	logger   *slog.Logger

	// suffix produces the random part of regenerated usernames.
	suffix func() string
}

func NewSignupService(
	identity *IdentityService,
	users repository.UserRepository,
	objects storage.ObjectStore,
	logger *slog.Logger,
) *SignupService {
	return &SignupService{
		identity: identity,
		users:    users,
		objects:  objects,
		logger:   logger,
		suffix:   xidSuffix,
	}
}

// xidSuffix returns the tail of a fresh xid, which holds its counter bytes.
func xidSuffix() string {
	id := xid.New().String()
	return id[len(id)-6:]
}

// SignUp validates the form, creates the account, uploads the avatar and
// creates the User and Full Name profiles.
//
// The steps are not transactional. If a profile insert fails after the
// account exists the account is left in place and the failure is logged as
// an incomplete signup.
func (s *SignupService) SignUp(ctx context.Context, in SignupInput) (*SignupResult, error) {
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}

	email := NormalizeEmail(in.Email)
	session, err := s.identity.SignUp(ctx, email, in.Password, model.AccountMetadata{
		FullName: in.FullName,
	})
	if err != nil {
		return nil, err
	}
	userID := session.User.ID

	var (
		warnings []string
		imageURL *string
	)
	if in.Image != nil && in.Image.Reader != nil {
		url, err := s.uploadAvatar(ctx, userID, in.Image)
		if err != nil {
			s.logger.Warn("avatar upload failed",
				slog.String("userID", userID),
				slog.String("error", err.Error()),
			)
			warnings = append(warnings, avatarUploadWarning)
		} else {
			imageURL = &url
		}
	}

	user, err := s.createProfile(ctx, userID, email, strings.TrimSpace(in.Username), imageURL)
	if err != nil {
		s.logIncomplete(userID, "user profile", err)
		return nil, err
	}

	if err := s.users.CreateFullNameProfile(ctx, &model.FullNameProfile{
		UserID:   userID,
		FullName: in.FullName,
	}); err != nil {
		s.logIncomplete(userID, "full name profile", err)
		return nil, fmt.Errorf("service/signup: creating full name profile for %s: %w", userID, err)
	}

	s.logger.Info("signup completed",
		slog.String("userID", userID),
		slog.String("username", user.Username),
	)

	return &SignupResult{
		Session:  session,
		User:     user,
		Next:     model.RouteOnboarding,
		Warnings: warnings,
	}, nil
}

// validate applies the form rules in the order the client shows them. Only
// the first failure is reported.
func (s *SignupService) validate(ctx context.Context, in SignupInput) error {
	if strings.TrimSpace(in.FullName) == "" ||
		strings.TrimSpace(in.Username) == "" ||
		strings.TrimSpace(in.Email) == "" ||
		in.Password == "" ||
		in.ConfirmPassword == "" {
		return apperror.ValidationFailed("", "Please fill in all fields")
	}
	if in.Password != in.ConfirmPassword {
		return apperror.ValidationFailed("confirm_password", "Passwords do not match")
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLen {
		return apperror.ValidationFailed("password", "Password must be at least 6 characters")
	}
	if utf8.RuneCountInString(strings.TrimSpace(in.Username)) < minUsernameLen {
		return apperror.ValidationFailed("username", "Username must be at least 3 characters")
	}

	available, err := s.CheckUsernameAvailability(ctx, in.Username)
	if err != nil {
		return err
	}
	if !available {
		return apperror.ValidationFailed("username", "Username is already taken. Please choose another one.")
	}
	return nil
}

// CheckUsernameAvailability reports whether no profile uses username. The
// answer is advisory: the unique constraint decides at insert time. Names
// shorter than three characters are never available.
func (s *SignupService) CheckUsernameAvailability(ctx context.Context, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if utf8.RuneCountInString(username) < minUsernameLen {
		return false, nil
	}
	exists, err := s.users.UsernameExists(ctx, username)
	if err != nil {
		return false, fmt.Errorf("service/signup: checking username %q: %w", username, err)
	}
	return !exists, nil
}

// EnsureProfile creates the profile rows for an account that has none yet,
// as happens after a first social sign-in. An existing profile is returned
// unchanged.
func (s *SignupService) EnsureProfile(ctx context.Context, account *model.Account, preferredUsername string, imageURL *string) (*model.User, error) {
	user, err := s.users.GetUserByID(ctx, account.ID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("service/signup: loading profile %s: %w", account.ID, err)
	}

	username := sanitizeUsername(preferredUsername)
	if len(username) < minUsernameLen {
		username = s.generateUsername(account.Email)
	}

	user, err = s.createProfile(ctx, account.ID, account.Email, username, imageURL)
	if err != nil {
		s.logIncomplete(account.ID, "user profile", err)
		return nil, err
	}

	if err := s.users.UpsertFullNameProfile(ctx, &model.FullNameProfile{
		UserID:   account.ID,
		FullName: account.Metadata.FullName,
	}); err != nil {
		s.logIncomplete(account.ID, "full name profile", err)
		return nil, fmt.Errorf("service/signup: creating full name profile for %s: %w", account.ID, err)
	}
	return user, nil
}

// createProfile inserts the User row, regenerating the username when the
// insert loses a uniqueness race. Other errors end the loop immediately.
func (s *SignupService) createProfile(ctx context.Context, userID, email, username string, imageURL *string) (*model.User, error) {
	now := time.Now()
	user := &model.User{
		UserID:          userID,
		Username:        username,
		Email:           email,
		ProfileImageURL: imageURL,
		IsActive:        true,
		Onboarded:       false,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	for attempt := 1; attempt <= MaxUsernameAttempts; attempt++ {
		err := s.users.CreateUser(ctx, user)
		if err == nil {
			return user, nil
		}
		if !isUsernameConflict(err) {
			return nil, fmt.Errorf("service/signup: creating profile for %s: %w", userID, err)
		}

		taken := user.Username
		user.Username = s.generateUsername(email)
		s.logger.Info("username taken, retrying",
			slog.String("userID", userID),
			slog.String("taken", taken),
			slog.String("next", user.Username),
			slog.Int("attempt", attempt),
		)
	}
	return nil, apperror.UsernameExhausted(MaxUsernameAttempts)
}

func isUsernameConflict(err error) bool {
	var appErr *apperror.AppError
	return errors.As(err, &appErr) &&
		errors.Is(appErr.Err, apperror.ErrConflict) &&
		appErr.Field == "username"
}

// generateUsername derives "<local part>_<suffix>" from an email address.
func (s *SignupService) generateUsername(email string) string {
	local, _, _ := strings.Cut(email, "@")
	base := sanitizeUsername(local)
	if len(base) < minUsernameLen {
		base = "user"
	}
	return base + "_" + s.suffix()
}

// sanitizeUsername keeps lowercase letters, digits and underscores.
func sanitizeUsername(raw string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (s *SignupService) uploadAvatar(ctx context.Context, userID string, img *ImageUpload) (string, error) {
	if s.objects == nil {
		return "", errors.New("no object store configured")
	}
	key := storage.AvatarKey(userID, storage.ExtFromFilename(img.Filename))
	if err := s.objects.Upload(ctx, storage.BucketAvatars, key, img.Reader); err != nil {
		return "", err
	}
	return s.objects.PublicURL(storage.BucketAvatars, key), nil
}

func (s *SignupService) logIncomplete(userID, step string, err error) {
	s.logger.Error("incomplete signup: account exists without profile",
		slog.String("userID", userID),
		slog.String("step", step),
		slog.String("error", err.Error()),
	)
}

package sqlite

import (
	"context"
	"errors"
	"testing"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

// newTestDB returns a fresh in-memory database that is closed when the test
// finishes.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// createTestUser creates a profile row and fails the test if it errors.
func createTestUser(t *testing.T, db *DB, userID, username string) *model.User {
	t.Helper()
	user := &model.User{
		UserID:   userID,
		Username: username,
		Email:    username + "@example.com",
		IsActive: true,
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

// =========================================================================
// MIGRATION TESTS
// =========================================================================

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	// Running migrations a second time must not fail or duplicate roles.
	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}

	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM admin_roles`).Scan(&n); err != nil {
		t.Fatalf("counting roles: %v", err)
	}
	if n != 2 {
		t.Errorf("admin_roles has %d rows, want 2", n)
	}
}

// =========================================================================
// CREATE TESTS
// =========================================================================

func TestCreateUser(t *testing.T) {
	db := newTestDB(t)

	user := createTestUser(t, db, "u-1", "alice")

	if user.CreatedAt.IsZero() {
		t.Error("CreateUser() did not set CreatedAt")
	}

	found, err := db.GetUserByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if found.Username != "alice" {
		t.Errorf("Username = %q, want %q", found.Username, "alice")
	}
	if found.Onboarded {
		t.Error("new user should not be onboarded")
	}
	if !found.IsActive {
		t.Error("new user should be active")
	}
	if found.ProfileImageURL != nil {
		t.Errorf("ProfileImageURL = %q, want nil", *found.ProfileImageURL)
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u-1", "alice")

	err := db.CreateUser(context.Background(), &model.User{UserID: "u-2", Username: "alice", Email: "b@example.com"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("CreateUser() error = %v, want ErrConflict", err)
	}

	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("error should be *AppError, got %T", err)
	}
	if appErr.Field != "username" {
		t.Errorf("Field = %q, want %q", appErr.Field, "username")
	}
}

func TestCreateUser_DuplicateUserID(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u-1", "alice")

	err := db.CreateUser(context.Background(), &model.User{UserID: "u-1", Username: "bob", Email: "b@example.com"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("CreateUser() error = %v, want ErrConflict", err)
	}

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	if appErr.Field == "username" {
		t.Error("a duplicate user id must not be reported as a username clash")
	}
}

func TestCreateUser_WithImage(t *testing.T) {
	db := newTestDB(t)
	url := "https://cdn.example.com/avatars/u-1/avatar.png"

	err := db.CreateUser(context.Background(), &model.User{
		UserID: "u-1", Username: "alice", Email: "a@example.com", ProfileImageURL: &url,
	})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	found, err := db.GetUserByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if found.ProfileImageURL == nil || *found.ProfileImageURL != url {
		t.Errorf("ProfileImageURL = %v, want %q", found.ProfileImageURL, url)
	}
}

// =========================================================================
// READ / UPDATE TESTS
// =========================================================================

func TestGetUserByID_NotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetUserByID(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetUserByID() error = %v, want ErrNotFound", err)
	}
}

func TestUsernameExists(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u-1", "alice")

	tests := []struct {
		username string
		want     bool
	}{
		{"alice", true},
		{"bob", false},
	}
	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			got, err := db.UsernameExists(context.Background(), tt.username)
			if err != nil {
				t.Fatalf("UsernameExists() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("UsernameExists(%q) = %v, want %v", tt.username, got, tt.want)
			}
		})
	}
}

func TestMarkOnboarded(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u-1", "alice")

	if err := db.MarkOnboarded(context.Background(), "u-1"); err != nil {
		t.Fatalf("MarkOnboarded() error = %v", err)
	}

	found, _ := db.GetUserByID(context.Background(), "u-1")
	if !found.Onboarded {
		t.Error("user should be onboarded")
	}
}

func TestMarkOnboarded_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.MarkOnboarded(context.Background(), "missing")
	if !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("MarkOnboarded() error = %v, want ErrNotFound", err)
	}
}

func TestUpsertUser_UpdatesExisting(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "u-1", "alice")

	err := db.UpsertUser(context.Background(), &model.User{
		UserID: "u-1", Username: "superadmin", Email: "admin@knowex.com",
		IsActive: true, IsAdmin: true, Onboarded: true,
	})
	if err != nil {
		t.Fatalf("UpsertUser() error = %v", err)
	}

	found, _ := db.GetUserByID(context.Background(), "u-1")
	if found.Username != "superadmin" || !found.IsAdmin || !found.Onboarded {
		t.Errorf("upsert did not update row: %+v", found)
	}
}

func TestFullNameProfile(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	createTestUser(t, db, "u-1", "alice")

	if err := db.CreateFullNameProfile(ctx, &model.FullNameProfile{UserID: "u-1", FullName: "Alice A"}); err != nil {
		t.Fatalf("CreateFullNameProfile() error = %v", err)
	}

	err := db.CreateFullNameProfile(ctx, &model.FullNameProfile{UserID: "u-1", FullName: "Again"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("second CreateFullNameProfile() error = %v, want ErrConflict", err)
	}

	if err := db.UpsertFullNameProfile(ctx, &model.FullNameProfile{UserID: "u-1", FullName: "Alice B"}); err != nil {
		t.Fatalf("UpsertFullNameProfile() error = %v", err)
	}

	var name string
	if err := db.conn.QueryRow(`SELECT full_name FROM user_profiles WHERE user_id = ?`, "u-1").Scan(&name); err != nil {
		t.Fatalf("reading profile: %v", err)
	}
	if name != "Alice B" {
		t.Errorf("full_name = %q, want %q", name, "Alice B")
	}
}

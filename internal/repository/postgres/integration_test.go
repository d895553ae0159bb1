package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
)

// These tests run against a real server and are skipped unless
// KNOWEX_TEST_DATABASE_URL points at a disposable database. Every table
// except admin_roles is truncated before each test.

func newTestDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("KNOWEX_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("KNOWEX_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := New(ctx, url, Options{MaxConns: 4}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("failed to connect test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.pool.Exec(ctx,
		`TRUNCATE accounts, user_profiles, users, user_technologies, technologies,
		          community_join_requests, communities, admin_user_roles, admin_credentials
		 RESTART IDENTITY CASCADE`,
	); err != nil {
		t.Fatalf("failed to truncate test db: %v", err)
	}
	return db
}

func createTestUser(t *testing.T, db *DB, username string) *model.User {
	t.Helper()
	user := &model.User{
		UserID:   uuid.NewString(),
		Username: username,
		Email:    username + "@example.com",
		IsActive: true,
	}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func seedCatalog(t *testing.T, db *DB) (int64, []int64) {
	t.Helper()
	ctx := context.Background()

	c := &model.Community{Name: "Web", Description: "web dev", MemberCount: 10, IsActive: true}
	if err := db.UpsertCommunity(ctx, c); err != nil {
		t.Fatalf("UpsertCommunity() error = %v", err)
	}

	var ids []int64
	for _, name := range []string{"Go", "React", "Postgres"} {
		tech := &model.Technology{Name: name, Category: "Stack", CommunityID: c.ID, IsActive: true}
		if err := db.UpsertTechnology(ctx, tech); err != nil {
			t.Fatalf("UpsertTechnology(%s) error = %v", name, err)
		}
		ids = append(ids, tech.ID)
	}
	return c.ID, ids
}

// =========================================================================
// USER TESTS
// =========================================================================

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.migrate(context.Background()); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
}

func TestCreateUser_RoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")

	found, err := db.GetUserByID(ctx, user.UserID)
	if err != nil {
		t.Fatalf("GetUserByID() error = %v", err)
	}
	if found.Username != "alice" || !found.IsActive || found.Onboarded {
		t.Errorf("found = %+v", found)
	}

	exists, err := db.UsernameExists(ctx, "alice")
	if err != nil || !exists {
		t.Errorf("UsernameExists(alice) = %v, %v", exists, err)
	}
}

func TestCreateUser_DuplicateUsername(t *testing.T) {
	db := newTestDB(t)
	createTestUser(t, db, "alice")

	err := db.CreateUser(context.Background(), &model.User{UserID: uuid.NewString(), Username: "alice", Email: "b@example.com"})
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
	user := createTestUser(t, db, "alice")

	err := db.CreateUser(context.Background(), &model.User{UserID: user.UserID, Username: "bob", Email: "b@example.com"})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("CreateUser() error = %v, want ErrConflict", err)
	}

	var appErr *apperror.AppError
	errors.As(err, &appErr)
	if appErr.Field == "username" {
		t.Error("a duplicate user id must not be reported as a username clash")
	}
}

func TestMarkOnboarded(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	user := createTestUser(t, db, "alice")

	if err := db.MarkOnboarded(ctx, user.UserID); err != nil {
		t.Fatalf("MarkOnboarded() error = %v", err)
	}
	found, _ := db.GetUserByID(ctx, user.UserID)
	if !found.Onboarded {
		t.Error("Onboarded should be true")
	}

	if err := db.MarkOnboarded(ctx, uuid.NewString()); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("MarkOnboarded(unknown) error = %v, want ErrNotFound", err)
	}
}

// =========================================================================
// MEMBERSHIP TESTS
// =========================================================================

func TestCreateJoinRequest_SecondOpenRequestRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	communityID, _ := seedCatalog(t, db)
	userID := uuid.NewString()

	if err := db.CreateJoinRequest(ctx, &model.JoinRequest{CommunityID: communityID, UserID: userID}); err != nil {
		t.Fatalf("first CreateJoinRequest() error = %v", err)
	}

	found, err := db.FindOpenJoinRequest(ctx, userID, communityID)
	if err != nil || found == nil {
		t.Fatalf("FindOpenJoinRequest() = %+v, %v", found, err)
	}

	err = db.CreateJoinRequest(ctx, &model.JoinRequest{CommunityID: communityID, UserID: userID})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Errorf("second CreateJoinRequest() error = %v, want ErrConflict", err)
	}
}

func TestCreateJoinRequest_RejectedDoesNotBlock(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	communityID, _ := seedCatalog(t, db)
	userID := uuid.NewString()

	rejected := &model.JoinRequest{CommunityID: communityID, UserID: userID, Status: model.JoinRejected}
	if err := db.CreateJoinRequest(ctx, rejected); err != nil {
		t.Fatalf("CreateJoinRequest(rejected) error = %v", err)
	}

	found, err := db.FindOpenJoinRequest(ctx, userID, communityID)
	if err != nil {
		t.Fatalf("FindOpenJoinRequest() error = %v", err)
	}
	if found != nil {
		t.Errorf("a rejected request is not open, got %+v", found)
	}

	if err := db.CreateJoinRequest(ctx, &model.JoinRequest{CommunityID: communityID, UserID: userID}); err != nil {
		t.Errorf("new request after rejection error = %v", err)
	}
}

func TestAddTechnologyInterests_DuplicateRollsBackBatch(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, techIDs := seedCatalog(t, db)
	userID := uuid.NewString()

	if err := db.AddTechnologyInterests(ctx, userID, techIDs[:1]); err != nil {
		t.Fatalf("first batch error = %v", err)
	}

	err := db.AddTechnologyInterests(ctx, userID, []int64{techIDs[1], techIDs[0]})
	if !errors.Is(err, apperror.ErrConflict) {
		t.Fatalf("second batch error = %v, want ErrConflict", err)
	}

	got, err := db.ListTechnologyInterests(ctx, userID)
	if err != nil {
		t.Fatalf("ListTechnologyInterests() error = %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d interests after failed batch, want 1", len(got))
	}
}

func TestAddTechnologyInterests_UnknownTechnology(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	_, techIDs := seedCatalog(t, db)
	userID := uuid.NewString()

	err := db.AddTechnologyInterests(ctx, userID, []int64{techIDs[0], 999})
	if !errors.Is(err, apperror.ErrValidation) {
		t.Fatalf("AddTechnologyInterests() error = %v, want ErrValidation", err)
	}
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) || appErr.Field != "technology_ids" {
		t.Errorf("error field = %+v, want technology_ids", appErr)
	}

	got, _ := db.ListTechnologyInterests(ctx, userID)
	if len(got) != 0 {
		t.Errorf("got %d interests after failed batch, want 0", len(got))
	}
}

// =========================================================================
// ADMIN TESTS
// =========================================================================

func TestAdminCredentialLifecycle(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	userID := uuid.NewString()

	cred := &model.AdminCredential{Username: "Root", PasswordHash: "hash", UserID: userID, IsActive: true}
	if err := db.UpsertCredential(ctx, cred); err != nil {
		t.Fatalf("UpsertCredential() error = %v", err)
	}
	if cred.Username != "root" {
		t.Errorf("Username = %q, want lowercased", cred.Username)
	}

	again := &model.AdminCredential{Username: "root", PasswordHash: "hash2", UserID: userID, IsActive: true}
	if err := db.UpsertCredential(ctx, again); err != nil {
		t.Fatalf("second UpsertCredential() error = %v", err)
	}
	if again.ID != cred.ID {
		t.Errorf("re-upsert changed id: %d vs %d", cred.ID, again.ID)
	}

	role, err := db.GetRoleByName(ctx, "moderator")
	if err != nil {
		t.Fatalf("GetRoleByName() error = %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := db.UpsertRoleAssignment(ctx, cred.ID, role.ID); err != nil {
			t.Fatalf("UpsertRoleAssignment() #%d error = %v", i+1, err)
		}
	}

	found, err := db.GetActiveCredentialByUsername(ctx, "ROOT")
	if err != nil || found == nil {
		t.Fatalf("GetActiveCredentialByUsername() = %+v, %v", found, err)
	}
	if len(found.Roles) != 1 || found.Roles[0].Name != "moderator" {
		t.Errorf("Roles = %+v, want [moderator]", found.Roles)
	}
	if found.PasswordHash != "hash2" {
		t.Errorf("PasswordHash = %q, want the upserted hash", found.PasswordHash)
	}

	if err := db.UpdateLastLogin(ctx, cred.ID); err != nil {
		t.Fatalf("UpdateLastLogin() error = %v", err)
	}
	byID, err := db.GetCredentialByID(ctx, cred.ID)
	if err != nil {
		t.Fatalf("GetCredentialByID() error = %v", err)
	}
	if byID.LastLogin == nil {
		t.Error("LastLogin should be set")
	}

	isAdmin, err := db.IsUserAdmin(ctx, userID)
	if err != nil || !isAdmin {
		t.Errorf("IsUserAdmin() = %v, %v, want true", isAdmin, err)
	}
}

func TestGetActiveCredentialByUsername_Missing(t *testing.T) {
	db := newTestDB(t)

	found, err := db.GetActiveCredentialByUsername(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("error = %v", err)
	}
	if found != nil {
		t.Errorf("found = %+v, want nil", found)
	}
	if _, err := db.GetRoleByName(context.Background(), "janitor"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("GetRoleByName(janitor) error = %v, want ErrNotFound", err)
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/rbac"
	"github.com/knowex/knowex-api/internal/storage"
)

// provisionAdmin runs the bootstrap with a test identity.
func provisionAdmin(t *testing.T, env *testEnv) *ProvisionResult {
	t.Helper()
	res, err := env.provisioner().Provision(context.Background(), BootstrapAdmin{
		Email:    "root@knowex.test",
		Password: "rootpass",
		Username: "Root",
		FullName: "Root Admin",
		Role:     "moderator",
	})
	if err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	return res
}

// =========================================================================
// AdminLogin TESTS
// =========================================================================

func TestAdminLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	prov := provisionAdmin(t, env)
	svc := env.credentialService()
	ctx := context.Background()

	res, err := svc.AdminLogin(ctx, "  ROOT ", "rootpass")
	if err != nil {
		t.Fatalf("AdminLogin() error = %v", err)
	}

	if res.Identity.Admin.ID != prov.AdminID {
		t.Errorf("Admin.ID = %d, want %d", res.Identity.Admin.ID, prov.AdminID)
	}
	if !res.Identity.User.IsAdmin {
		t.Error("User.IsAdmin = false, want true")
	}
	if !res.Session.IsAdmin || res.Session.User.ID != prov.UserID {
		t.Errorf("session = %+v, want admin session for %s", res.Session, prov.UserID)
	}
	if !res.Identity.Admin.Permissions.Allows(rbac.CapJoinRequests, rbac.ActApprove) {
		t.Error("moderator permissions missing join_requests:approve")
	}

	cred, err := env.db.GetCredentialByID(ctx, prov.AdminID)
	if err != nil {
		t.Fatalf("GetCredentialByID() error = %v", err)
	}
	if cred.LastLogin == nil {
		t.Error("LastLogin not recorded")
	}

	raw, ok := env.objects.get(storage.BucketSessions, "admin_1.json")
	if !ok {
		t.Fatal("admin session snapshot not stored")
	}
	var snap adminSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		t.Fatalf("decoding snapshot: %v", err)
	}
	if snap.Identity.Admin.Username != "root" {
		t.Errorf("snapshot username = %q, want root", snap.Identity.Admin.Username)
	}
}

func TestAdminLogin_FailuresAreIndistinguishable(t *testing.T) {
	env := newTestEnv(t)
	provisionAdmin(t, env)
	svc := env.credentialService()
	ctx := context.Background()

	_, unknown := svc.AdminLogin(ctx, "ghost", "rootpass")
	_, wrong := svc.AdminLogin(ctx, "root", "wrongpass")

	for name, err := range map[string]error{"unknown": unknown, "wrong": wrong} {
		if !errors.Is(err, apperror.ErrInvalidCredentials) {
			t.Errorf("%s: error = %v, want ErrInvalidCredentials", name, err)
		}
	}
	if unknown.Error() != wrong.Error() || unknown.Error() != "Invalid admin credentials" {
		t.Errorf("messages = %q / %q, want both %q", unknown.Error(), wrong.Error(), "Invalid admin credentials")
	}
}

func TestAdminLogin_InactiveCredential(t *testing.T) {
	env := newTestEnv(t)
	prov := provisionAdmin(t, env)
	ctx := context.Background()

	hash, _ := env.passwords.Hash("rootpass")
	if err := env.db.UpsertCredential(ctx, &model.AdminCredential{
		Username: "root", PasswordHash: hash, UserID: prov.UserID, IsActive: false,
	}); err != nil {
		t.Fatalf("UpsertCredential() error = %v", err)
	}

	_, err := env.credentialService().AdminLogin(ctx, "root", "rootpass")
	if !errors.Is(err, apperror.ErrInvalidCredentials) {
		t.Errorf("AdminLogin() error = %v, want ErrInvalidCredentials", err)
	}
}

func TestAdminLogin_UserRecordMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	hash, _ := env.passwords.Hash("orphan1")
	if err := env.db.UpsertCredential(ctx, &model.AdminCredential{
		Username: "orphan", PasswordHash: hash, UserID: "no-such-user", IsActive: true,
	}); err != nil {
		t.Fatalf("UpsertCredential() error = %v", err)
	}

	_, err := env.credentialService().AdminLogin(ctx, "orphan", "orphan1")
	if !errors.Is(err, apperror.ErrUserRecordMissing) {
		t.Fatalf("AdminLogin() error = %v, want ErrUserRecordMissing", err)
	}
	if err.Error() != "User not found" {
		t.Errorf("message = %q, want %q", err.Error(), "User not found")
	}
}

func TestAdminLogin_MergesRoles(t *testing.T) {
	env := newTestEnv(t)
	prov := provisionAdmin(t, env)
	ctx := context.Background()

	super, err := env.db.GetRoleByName(ctx, "super_admin")
	if err != nil {
		t.Fatalf("GetRoleByName() error = %v", err)
	}
	if err := env.db.UpsertRoleAssignment(ctx, prov.AdminID, super.ID); err != nil {
		t.Fatalf("UpsertRoleAssignment() error = %v", err)
	}

	res, err := env.credentialService().AdminLogin(ctx, "root", "rootpass")
	if err != nil {
		t.Fatalf("AdminLogin() error = %v", err)
	}

	want := rbac.Merge(rbac.Moderator(), rbac.SuperAdmin())
	got, _ := json.Marshal(res.Identity.Admin.Permissions)
	wantJSON, _ := json.Marshal(want)
	if string(got) != string(wantJSON) {
		t.Errorf("permissions = %s, want %s", got, wantJSON)
	}
	if len(res.Identity.Admin.Roles) != 2 {
		t.Errorf("roles = %d, want 2", len(res.Identity.Admin.Roles))
	}
}

func TestAdminLogin_SnapshotFailureIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	provisionAdmin(t, env)
	env.objects.uploadErr = errStoreDown

	if _, err := env.credentialService().AdminLogin(context.Background(), "root", "rootpass"); err != nil {
		t.Errorf("AdminLogin() error = %v, want success despite snapshot failure", err)
	}
}

// =========================================================================
// USER LOGIN AND LOOKUP TESTS
// =========================================================================

func TestLogin_EmptyFields(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.credentialService().Login(context.Background(), " ", "")
	if !errors.Is(err, apperror.ErrValidation) || err.Error() != "Please fill in all fields" {
		t.Errorf("Login() error = %v", err)
	}
}

func TestLogin_PassesProviderMessage(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.credentialService().Login(context.Background(), "x@example.com", "whatever")
	if err == nil || err.Error() != "Invalid login credentials" {
		t.Errorf("Login() error = %v, want provider message", err)
	}
}

func TestAdminPermissionsAndIsUserAdmin(t *testing.T) {
	env := newTestEnv(t)
	prov := provisionAdmin(t, env)
	svc := env.credentialService()
	ctx := context.Background()

	profile, err := svc.AdminPermissions(ctx, prov.AdminID)
	if err != nil {
		t.Fatalf("AdminPermissions() error = %v", err)
	}
	if !profile.Permissions.Allows(rbac.CapContent, rbac.ActDelete) {
		t.Error("moderator should allow content:delete")
	}

	isAdmin, err := svc.IsUserAdmin(ctx, prov.UserID)
	if err != nil || !isAdmin {
		t.Errorf("IsUserAdmin(admin) = %v, %v", isAdmin, err)
	}
	isAdmin, err = svc.IsUserAdmin(ctx, "someone-else")
	if err != nil || isAdmin {
		t.Errorf("IsUserAdmin(other) = %v, %v", isAdmin, err)
	}
}

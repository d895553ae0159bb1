// Command create-admin provisions the bootstrap administrator
// (admin@knowex.com / superadmin). It is safe to run again: every step is an
// upsert.
//
// With arguments it promotes an existing user instead:
//
//	create-admin grant <user-id> <admin-username> <password> [role...]
//
// Roles default to moderator.
//
// The store comes from the same environment as the server: DATABASE_URL
// (with DATABASE_PASSWORD) for postgres, or DB_PATH for sqlite. A .env file
// is honoured.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/authstate"
	"github.com/knowex/knowex-api/internal/config"
	"github.com/knowex/knowex-api/internal/server"
	"github.com/knowex/knowex-api/internal/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := server.OpenStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Sessions are never handed out here, but the identity service needs a
	// signer. A throwaway secret is fine when none is configured.
	secret := cfg.JWTSecret
	if secret == "" {
		secret = "create-admin-unused-signing-key"
	}
	tokens, err := auth.NewTokenService(secret, cfg.SessionTTL)
	if err != nil {
		return err
	}

	bus := authstate.NewMemoryBus(logger)
	defer bus.Close()

	passwords := auth.NewPasswordService()
	identity := service.NewIdentityService(store, tokens, passwords, bus, logger)
	provisioner := service.NewProvisioner(identity, store, store, passwords, logger)

	if len(os.Args) > 1 {
		return grant(ctx, provisioner, os.Args[1:])
	}

	admin := service.DefaultBootstrapAdmin
	fmt.Printf("Creating administrator %s (%s)...\n", admin.Username, admin.Email)

	res, err := provisioner.Provision(ctx, admin)
	if err != nil {
		return fmt.Errorf("provisioning admin: %w", err)
	}

	if res.AccountCreated {
		fmt.Println("✅ Account created")
	} else {
		fmt.Println("ℹ️  Account already existed, reusing it")
	}
	fmt.Printf("✅ Admin credential ready (admin_id=%d, role=%s)\n", res.AdminID, admin.Role)
	fmt.Println()
	fmt.Println("Login with:")
	fmt.Printf("  Username: %s\n", admin.Username)
	fmt.Printf("  Password: %s\n", admin.Password)
	fmt.Println("⚠️  Change this password after the first login.")
	return nil
}

func grant(ctx context.Context, provisioner *service.Provisioner, args []string) error {
	if args[0] != "grant" || len(args) < 4 {
		return fmt.Errorf("usage: create-admin grant <user-id> <admin-username> <password> [role...]")
	}
	userID, username, password := args[1], args[2], args[3]

	cred, err := provisioner.GrantAdmin(ctx, userID, username, password, args[4:]...)
	if err != nil {
		return fmt.Errorf("granting admin to %s: %w", userID, err)
	}

	names := make([]string, 0, len(cred.Roles))
	for _, r := range cred.Roles {
		names = append(names, r.Name)
	}
	fmt.Printf("✅ %s is now admin %s (admin_id=%d, roles=%s)\n", userID, cred.Username, cred.ID, strings.Join(names, ","))
	return nil
}

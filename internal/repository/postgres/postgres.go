// Package postgres implements the repository interfaces on PostgreSQL using
// a pgx connection pool. It is selected when DATABASE_URL is set.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knowex/knowex-api/internal/rbac"
	"github.com/knowex/knowex-api/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// uniqueViolation is the SQLSTATE postgres reports for UNIQUE and PRIMARY
// KEY failures.
const uniqueViolation = "23505"

// foreignKeyViolation is reported when a referenced row is missing.
const foreignKeyViolation = "23503"

// DB wraps a pgx pool.
type DB struct {
	pool *pgxpool.Pool
}

// Options tune the pool. Zero values fall back to pgxpool defaults.
type Options struct {
	// Password overrides whatever the URL carries, so the URL can be
	// committed to config without a secret in it.
	Password        string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

// New connects to databaseURL, pings it and runs migrations.
func New(ctx context.Context, databaseURL string, opts Options, logger *slog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: parsing config: %w", err)
	}
	if opts.Password != "" {
		cfg.ConnConfig.Password = opts.Password
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if opts.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = opts.MaxConnLifetime
	}
	cfg.ConnConfig.ConnectTimeout = 10 * time.Second

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: creating pool: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	logger.Info("postgres connected",
		slog.String("host", cfg.ConnConfig.Host),
		slog.String("database", cfg.ConnConfig.Database),
		slog.Int("max_conns", int(cfg.MaxConns)),
	)

	db := &DB{pool: pool}
	if err := db.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}
	return db, nil
}

// Close releases every pooled connection.
func (db *DB) Close() error {
	db.pool.Close()
	return nil
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS accounts (
		id                 UUID PRIMARY KEY,
		email              TEXT NOT NULL UNIQUE,
		password_hash      TEXT NOT NULL DEFAULT '',
		metadata           JSONB NOT NULL DEFAULT '{}'::jsonb,
		email_confirmed_at TIMESTAMPTZ,
		last_sign_in_at    TIMESTAMPTZ,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at         TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS users (
		user_id           UUID PRIMARY KEY,
		username          TEXT NOT NULL UNIQUE,
		email             TEXT NOT NULL,
		profile_image_url TEXT,
		is_active         BOOLEAN NOT NULL DEFAULT true,
		is_admin          BOOLEAN NOT NULL DEFAULT false,
		onboarded         BOOLEAN NOT NULL DEFAULT false,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS user_profiles (
		user_id    UUID PRIMARY KEY REFERENCES users(user_id),
		full_name  TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS communities (
		community_id BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL UNIQUE,
		description  TEXT NOT NULL DEFAULT '',
		icon         TEXT NOT NULL DEFAULT '',
		color        TEXT NOT NULL DEFAULT '',
		member_count INTEGER NOT NULL DEFAULT 0,
		is_active    BOOLEAN NOT NULL DEFAULT true
	)`,
	`CREATE TABLE IF NOT EXISTS technologies (
		tech_id      BIGSERIAL PRIMARY KEY,
		name         TEXT NOT NULL,
		category     TEXT NOT NULL DEFAULT '',
		community_id BIGINT NOT NULL REFERENCES communities(community_id),
		is_active    BOOLEAN NOT NULL DEFAULT true,
		UNIQUE (community_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS community_join_requests (
		request_id   BIGSERIAL PRIMARY KEY,
		community_id BIGINT NOT NULL REFERENCES communities(community_id),
		user_id      UUID NOT NULL,
		status       TEXT NOT NULL DEFAULT 'pending',
		requested_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_join_requests_open
		ON community_join_requests(user_id, community_id)
		WHERE status IN ('pending', 'approved')`,
	`CREATE TABLE IF NOT EXISTS user_technologies (
		user_id    UUID NOT NULL,
		tech_id    BIGINT NOT NULL REFERENCES technologies(tech_id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (user_id, tech_id)
	)`,
	`CREATE TABLE IF NOT EXISTS admin_roles (
		role_id     BIGSERIAL PRIMARY KEY,
		role_name   TEXT NOT NULL UNIQUE,
		permissions JSONB NOT NULL DEFAULT '{}'::jsonb
	)`,
	`CREATE TABLE IF NOT EXISTS admin_credentials (
		admin_id      BIGSERIAL PRIMARY KEY,
		username      TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		user_id       UUID NOT NULL,
		is_active     BOOLEAN NOT NULL DEFAULT true,
		last_login    TIMESTAMPTZ,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS admin_user_roles (
		admin_id BIGINT NOT NULL REFERENCES admin_credentials(admin_id),
		role_id  BIGINT NOT NULL REFERENCES admin_roles(role_id),
		PRIMARY KEY (admin_id, role_id)
	)`,
}

func (db *DB) migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := db.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i, err)
		}
	}

	for name, perms := range map[string]rbac.Permissions{
		"super_admin": rbac.SuperAdmin(),
		"moderator":   rbac.Moderator(),
	} {
		raw, err := json.Marshal(perms)
		if err != nil {
			return fmt.Errorf("encoding %s permissions: %w", name, err)
		}
		if _, err := db.pool.Exec(ctx,
			`INSERT INTO admin_roles (role_name, permissions) VALUES ($1, $2::jsonb)
			 ON CONFLICT (role_name) DO NOTHING`,
			name, string(raw),
		); err != nil {
			return fmt.Errorf("seeding role %s: %w", name, err)
		}
	}
	return nil
}

// isUniqueViolation reports a 23505 and, if so, the violated constraint.
func isUniqueViolation(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return pgErr.ConstraintName, true
	}
	return "", false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

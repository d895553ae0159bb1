// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs no
// C toolchain. It is the default store for local development and for tests
// (":memory:"); production deployments point DATABASE_URL at postgres instead.
//
// The pool is capped at a single connection. An in-memory database exists
// per connection, and SQLite serialises writers anyway. The flip side is that
// no method may run a second query while it still holds rows or a
// transaction, or it would wait on itself.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/knowex/knowex-api/internal/repository"
)

var _ repository.Store = (*DB)(nil)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/knowex.db"  → file-based database (persistent)
//   - ":memory:"        → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed during a write. Ignored by :memory:.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	// Foreign keys are OFF by default in SQLite.
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate runs all database migrations. Every statement is idempotent, so
// this is safe on an existing file.
func (db *DB) migrate() error {
	steps := []struct {
		name string
		sql  string
	}{
		{"accounts", `
			CREATE TABLE IF NOT EXISTS accounts (
				id                 TEXT PRIMARY KEY,
				email              TEXT NOT NULL UNIQUE,
				password_hash      TEXT NOT NULL DEFAULT '',
				metadata           TEXT NOT NULL DEFAULT '{}',
				email_confirmed_at DATETIME,
				last_sign_in_at    DATETIME,
				created_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at         DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		// users.user_id is the account id. There is no FK to accounts so a
		// profile can be restored from a backup without its account.
		{"users", `
			CREATE TABLE IF NOT EXISTS users (
				user_id           TEXT PRIMARY KEY,
				username          TEXT NOT NULL UNIQUE,
				email             TEXT NOT NULL,
				profile_image_url TEXT,
				is_active         INTEGER NOT NULL DEFAULT 1,
				is_admin          INTEGER NOT NULL DEFAULT 0,
				onboarded         INTEGER NOT NULL DEFAULT 0,
				created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"user_profiles", `
			CREATE TABLE IF NOT EXISTS user_profiles (
				user_id    TEXT PRIMARY KEY REFERENCES users(user_id),
				full_name  TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"communities", `
			CREATE TABLE IF NOT EXISTS communities (
				community_id INTEGER PRIMARY KEY AUTOINCREMENT,
				name         TEXT NOT NULL UNIQUE,
				description  TEXT NOT NULL DEFAULT '',
				icon         TEXT NOT NULL DEFAULT '',
				color        TEXT NOT NULL DEFAULT '',
				member_count INTEGER NOT NULL DEFAULT 0,
				is_active    INTEGER NOT NULL DEFAULT 1
			);`},
		{"technologies", `
			CREATE TABLE IF NOT EXISTS technologies (
				tech_id      INTEGER PRIMARY KEY AUTOINCREMENT,
				name         TEXT NOT NULL,
				category     TEXT NOT NULL DEFAULT '',
				community_id INTEGER NOT NULL REFERENCES communities(community_id),
				is_active    INTEGER NOT NULL DEFAULT 1,
				UNIQUE (community_id, name)
			);`},
		{"community_join_requests", `
			CREATE TABLE IF NOT EXISTS community_join_requests (
				request_id   INTEGER PRIMARY KEY AUTOINCREMENT,
				community_id INTEGER NOT NULL REFERENCES communities(community_id),
				user_id      TEXT NOT NULL,
				status       TEXT NOT NULL DEFAULT 'pending',
				requested_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);
			CREATE UNIQUE INDEX IF NOT EXISTS idx_join_requests_open
				ON community_join_requests(user_id, community_id)
				WHERE status IN ('pending', 'approved');`},
		{"user_technologies", `
			CREATE TABLE IF NOT EXISTS user_technologies (
				user_id    TEXT NOT NULL,
				tech_id    INTEGER NOT NULL REFERENCES technologies(tech_id),
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				PRIMARY KEY (user_id, tech_id)
			);`},
		{"admin_roles", `
			CREATE TABLE IF NOT EXISTS admin_roles (
				role_id     INTEGER PRIMARY KEY AUTOINCREMENT,
				role_name   TEXT NOT NULL UNIQUE,
				permissions TEXT NOT NULL DEFAULT '{}'
			);`},
		{"admin_credentials", `
			CREATE TABLE IF NOT EXISTS admin_credentials (
				admin_id      INTEGER PRIMARY KEY AUTOINCREMENT,
				username      TEXT NOT NULL UNIQUE,
				password_hash TEXT NOT NULL,
				user_id       TEXT NOT NULL,
				is_active     INTEGER NOT NULL DEFAULT 1,
				last_login    DATETIME,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			);`},
		{"admin_user_roles", `
			CREATE TABLE IF NOT EXISTS admin_user_roles (
				admin_id INTEGER NOT NULL REFERENCES admin_credentials(admin_id),
				role_id  INTEGER NOT NULL REFERENCES admin_roles(role_id),
				PRIMARY KEY (admin_id, role_id)
			);`},
	}

	for _, s := range steps {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s table: %w", s.name, err)
		}
	}

	if err := db.seedRoles(); err != nil {
		return fmt.Errorf("seeding admin roles: %w", err)
	}
	return nil
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint.
func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(se.Error(), "UNIQUE constraint failed")
}

func isForeignKeyViolation(err error) bool {
	var se *moderncsqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	if se.Code() == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT &&
		strings.Contains(se.Error(), "FOREIGN KEY constraint failed")
}

// boolInt converts a Go bool to the 0/1 SQLite stores.
func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

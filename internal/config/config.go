// Package config reads runtime settings from the environment. A .env file in
// the working directory is loaded first when present; real environment
// variables win over it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every setting the executables read.
type Config struct {
	Port int

	// Store. DATABASE_URL selects postgres; otherwise sqlite at DBPath.
	DBPath           string
	DatabaseURL      string
	DatabasePassword string

	JWTSecret  string
	SessionTTL time.Duration

	// Auth-state bus. Empty RedisAddr keeps events in process.
	RedisAddr    string
	RedisChannel string

	// Object storage. Empty AvatarBucket stores files under StorageDir.
	AvatarBucket   string
	SessionBucket  string
	AvatarCDN      string
	GCSCredentials string
	StorageDir     string
	PublicBaseURL  string

	GitHubClientID     string
	GitHubClientSecret string
	GitHubCallbackURL  string

	CORSAllowedOrigins []string
	SecureCookies      bool
	LogLevel           slog.Level
}

// Load reads the environment. It fails only on values that are present but
// malformed.
func Load() (Config, error) {
	// Missing .env is normal in containers.
	_ = godotenv.Load()
	return fromEnv(os.Getenv)
}

func fromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		DBPath:             get("DB_PATH", "data/knowex.db"),
		DatabaseURL:        get("DATABASE_URL", ""),
		DatabasePassword:   get("DATABASE_PASSWORD", ""),
		JWTSecret:          get("JWT_SECRET", ""),
		RedisAddr:          get("REDIS_ADDR", ""),
		RedisChannel:       get("REDIS_CHANNEL", "knowex:auth-state"),
		AvatarBucket:       get("AVATAR_GCS_BUCKET_NAME", ""),
		SessionBucket:      get("SESSION_GCS_BUCKET_NAME", ""),
		AvatarCDN:          get("AVATAR_CDN_DOMAIN", ""),
		GCSCredentials:     get("GCS_CREDENTIALS", ""),
		StorageDir:         get("STORAGE_DIR", "data/storage"),
		GitHubClientID:     get("GITHUB_CLIENT_ID", ""),
		GitHubClientSecret: get("GITHUB_CLIENT_SECRET", ""),
	}

	port, err := strconv.Atoi(get("PORT", "8080"))
	if err != nil || port <= 0 || port > 65535 {
		return Config{}, fmt.Errorf("config: invalid PORT %q", getenv("PORT"))
	}
	cfg.Port = port

	cfg.PublicBaseURL = strings.TrimRight(get("PUBLIC_BASE_URL", fmt.Sprintf("http://localhost:%d", port)), "/")
	cfg.GitHubCallbackURL = get("GITHUB_CALLBACK_URL", cfg.PublicBaseURL+"/auth/github/callback")
	cfg.SecureCookies = strings.HasPrefix(cfg.PublicBaseURL, "https://")

	ttl, err := time.ParseDuration(get("SESSION_TTL", "1h"))
	if err != nil || ttl <= 0 {
		return Config{}, fmt.Errorf("config: invalid SESSION_TTL %q", getenv("SESSION_TTL"))
	}
	cfg.SessionTTL = ttl

	for _, origin := range strings.Split(get("CORS_ALLOWED_ORIGINS", "*"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, origin)
		}
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(get("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("config: invalid LOG_LEVEL %q", getenv("LOG_LEVEL"))
	}

	return cfg, nil
}

// UsePostgres reports whether DATABASE_URL selects the postgres store.
func (c Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}

// GitHubEnabled reports whether social sign-in is configured.
func (c Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

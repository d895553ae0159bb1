// Package server wires the stores, services, handlers and routes together and
// runs the HTTP server.
//
// DEPENDENCY FLOW:
//
//	config.Config → OpenBackends → Backends{Store, Bus, Objects}
//	Backends → services (identity, signup, credentials, onboarding) → handlers
//
// Everything is assembled in one place (New/setupRoutes) so handlers never
// touch a store and services never touch HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/authstate"
	"github.com/knowex/knowex-api/internal/config"
	"github.com/knowex/knowex-api/internal/handler"
	"github.com/knowex/knowex-api/internal/middleware"
	"github.com/knowex/knowex-api/internal/repository"
	"github.com/knowex/knowex-api/internal/repository/postgres"
	sqliteRepo "github.com/knowex/knowex-api/internal/repository/sqlite"
	"github.com/knowex/knowex-api/internal/service"
	"github.com/knowex/knowex-api/internal/storage"
)

// Backends are the external systems the server talks to.
type Backends struct {
	Store   repository.Store
	Bus     authstate.Bus
	Objects storage.ObjectStore

	// AvatarDir is served at /storage/avatars/ when avatars live on local
	// disk. Empty when a cloud bucket holds them.
	AvatarDir string

	// Passwords defaults to bcrypt cost 12 when nil.
	Passwords *auth.PasswordService

	closers []func() error
}

// OpenBackends picks each backend from cfg:
//   - DATABASE_URL set → postgres, otherwise sqlite at DB_PATH
//   - REDIS_ADDR set → redis pub/sub bus, otherwise in-process
//   - AVATAR_GCS_BUCKET_NAME set → GCS, otherwise files under STORAGE_DIR
func OpenBackends(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{}

	store, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	b.Store = store
	b.closers = append(b.closers, store.Close)

	if cfg.RedisAddr != "" {
		bus, err := authstate.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel, logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("opening auth-state bus: %w", err)
		}
		b.Bus = bus
	} else {
		b.Bus = authstate.NewMemoryBus(logger)
	}
	b.closers = append(b.closers, b.Bus.Close)

	if cfg.AvatarBucket != "" {
		gcsStore, err := storage.NewGCS(ctx, storage.GCSConfig{
			AvatarBucket:  cfg.AvatarBucket,
			SessionBucket: cfg.SessionBucket,
			AvatarCDN:     cfg.AvatarCDN,
			Credentials:   cfg.GCSCredentials,
		}, logger)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("opening object storage: %w", err)
		}
		b.Objects = gcsStore
		b.closers = append(b.closers, gcsStore.Close)
	} else {
		local, err := storage.NewLocal(cfg.StorageDir, cfg.PublicBaseURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("opening object storage: %w", err)
		}
		b.Objects = local
		b.AvatarDir = local.Dir(storage.BucketAvatars)
		logger.Info("object storage initialized",
			slog.String("backend", "local"),
			slog.String("dir", cfg.StorageDir),
		)
	}

	return b, nil
}

// OpenStore opens postgres when DATABASE_URL is set and sqlite at DB_PATH
// otherwise. The one-shot commands use it directly.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repository.Store, error) {
	if cfg.UsePostgres() {
		db, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Options{Password: cfg.DatabasePassword}, logger)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		return db, nil
	}

	if cfg.DBPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sqliteRepo.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	logger.Info("sqlite opened", slog.String("path", cfg.DBPath))
	return db, nil
}

// Close releases the backends in reverse order of opening.
func (b *Backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	b.closers = nil
	return errors.Join(errs...)
}

// Server is the HTTP API plus the navigator that follows auth-state events.
type Server struct {
	router    *chi.Mux
	config    config.Config
	logger    *slog.Logger
	backends  *Backends
	navigator *service.Navigator
}

// New builds the service graph on top of b and registers every route. The
// server owns b from here on and closes it when Start returns.
func New(cfg config.Config, b *Backends, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords := b.Passwords
	if passwords == nil {
		passwords = auth.NewPasswordService()
	}

	identity := service.NewIdentityService(b.Store, tokens, passwords, b.Bus, logger)
	resolver := service.NewSessionResolver(b.Store, logger)

	s := &Server{
		router:    chi.NewRouter(),
		config:    cfg,
		logger:    logger,
		backends:  b,
		navigator: service.NewNavigator(b.Bus, resolver, logger),
	}

	var github *auth.GitHubProvider
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		logger.Info("GitHub sign-in disabled: GITHUB_CLIENT_ID or GITHUB_CLIENT_SECRET not set")
	}

	signup := service.NewSignupService(identity, b.Store, b.Objects, logger)
	credentials := service.NewCredentialService(identity, b.Store, b.Store, passwords, b.Objects, logger)
	onboarding := service.NewOnboardingService(b.Store, b.Store, b.Store, identity, logger)

	s.setupRoutes(tokens,
		handler.NewAuthHandler(identity, signup, credentials, resolver, github, cfg.SecureCookies, logger),
		handler.NewSessionHandler(resolver, s.navigator, b.Store, logger),
		handler.NewOnboardingHandler(onboarding, logger),
		handler.NewAdminHandler(credentials, logger),
	)

	return s, nil
}

// setupRoutes registers the middleware chain and every route.
//
// ROUTES:
//
//	POST /auth/signup                         signup (JSON or multipart)
//	GET  /auth/username-available             live username check
//	POST /auth/login                          user credentials
//	POST /auth/admin/login                    admin credentials
//	POST /auth/logout                         sign out (token optional)
//	GET  /auth/github/login, /callback        social sign-in
//	GET  /api/session/route                   where should the client go
//	GET  /api/me                              own profile
//	GET  /api/communities                     onboarding step 1 data
//	GET  /api/communities/{id}/technologies   onboarding step 2 data
//	POST /api/onboarding/community            join request
//	POST /api/onboarding/skip                 skip onboarding
//	POST /api/onboarding/complete             technology selection
//	GET  /api/admin/me                        admin permissions
//	GET  /storage/avatars/*                   local avatar files
func (s *Server) setupRoutes(
	tokens *auth.TokenService,
	authHandler *handler.AuthHandler,
	sessionHandler *handler.SessionHandler,
	onboardingHandler *handler.OnboardingHandler,
	adminHandler *handler.AdminHandler,
) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	if s.backends.AvatarDir != "" {
		fileServer := http.FileServer(http.Dir(s.backends.AvatarDir))
		s.router.Handle("/storage/avatars/*", http.StripPrefix("/storage/avatars/", fileServer))
	}

	s.router.Route("/auth", func(r chi.Router) {
		r.Post("/signup", authHandler.HandleSignup)
		r.Get("/username-available", authHandler.HandleUsernameAvailable)
		r.Post("/login", authHandler.HandleLogin)
		r.Post("/admin/login", authHandler.HandleAdminLogin)
		r.With(auth.OptionalAuth(tokens)).Post("/logout", authHandler.HandleLogout)
		r.Get("/github/login", authHandler.HandleGitHubLogin)
		r.Get("/github/callback", authHandler.HandleGitHubCallback)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.With(auth.OptionalAuth(tokens)).Get("/session/route", sessionHandler.HandleRoute)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens))
			r.Get("/me", sessionHandler.HandleMe)
			r.Get("/communities", onboardingHandler.HandleListCommunities)
			r.Get("/communities/{id}/technologies", onboardingHandler.HandleListTechnologies)
			r.Post("/onboarding/community", onboardingHandler.HandleJoinCommunity)
			r.Post("/onboarding/skip", onboardingHandler.HandleSkip)
			r.Post("/onboarding/complete", onboardingHandler.HandleComplete)
		})

		r.With(auth.RequireAdmin(tokens)).Get("/admin/me", adminHandler.HandleMe)
	})

	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Navigator returns the server's single auth-state consumer.
func (s *Server) Navigator() *service.Navigator {
	return s.navigator
}

// Start runs the navigator and the HTTP server until SIGINT/SIGTERM, then
// drains in-flight requests for up to 30 seconds and closes the backends.
func (s *Server) Start() error {
	defer s.backends.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	navErr := make(chan error, 1)
	go func() { navErr <- s.navigator.Run(ctx) }()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", s.config.PublicBaseURL),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case err := <-navErr:
		if err == nil {
			err = errors.New("auth-state stream closed")
		}
		shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		defer stop()
		_ = srv.Shutdown(shutdownCtx)
		return fmt.Errorf("navigator stopped: %w", err)

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
		defer stop()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/knowex/knowex-api/internal/apperror"
	"github.com/knowex/knowex-api/internal/auth"
	"github.com/knowex/knowex-api/internal/model"
	"github.com/knowex/knowex-api/internal/service"
)

// maxSignupBytes bounds a multipart signup, avatar included.
const maxSignupBytes = 10 << 20

// AuthHandler serves signup, login, logout and the GitHub social sign-in.
//
// Every successful sign-in answers with the session in the JSON body (mobile
// clients keep the bearer token) and also sets the token cookie for web
// clients.
type AuthHandler struct {
	identity    *service.IdentityService
	signup      *service.SignupService
	credentials *service.CredentialService
	resolver    *service.SessionResolver
	github      *auth.GitHubProvider // nil when social sign-in is not configured
	secure      bool                 // Secure flag on cookies
	logger      *slog.Logger
}

func NewAuthHandler(
	identity *service.IdentityService,
	signup *service.SignupService,
	credentials *service.CredentialService,
	resolver *service.SessionResolver,
	github *auth.GitHubProvider,
	secureCookies bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		identity:    identity,
		signup:      signup,
		credentials: credentials,
		resolver:    resolver,
		github:      github,
		secure:      secureCookies,
		logger:      logger,
	}
}

// SessionResponse is returned by every endpoint that signs someone in.
type SessionResponse struct {
	Session  *model.Session       `json:"session"`
	User     *model.User          `json:"user,omitempty"`
	Admin    *model.AdminIdentity `json:"admin,omitempty"`
	Next     model.Route          `json:"next"`
	Warnings []string             `json:"warnings,omitempty"`
}

type signupRequest struct {
	FullName        string `json:"full_name"`
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

// HandleSignup creates an account and its profile.
//
// HTTP: POST /auth/signup
// Body: JSON signupRequest, or multipart/form-data with the same fields plus
// an optional "image" file part.
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var in service.SignupInput

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, maxSignupBytes)
		if err := r.ParseMultipartForm(maxSignupBytes); err != nil {
			writeError(w, apperror.ValidationFailed("", "Invalid signup form"))
			return
		}
		in = service.SignupInput{
			FullName:        r.FormValue("full_name"),
			Username:        r.FormValue("username"),
			Email:           r.FormValue("email"),
			Password:        r.FormValue("password"),
			ConfirmPassword: r.FormValue("confirm_password"),
		}
		file, header, err := r.FormFile("image")
		switch {
		case err == nil:
			defer file.Close()
			in.Image = &service.ImageUpload{Filename: header.Filename, Reader: file}
		case !errors.Is(err, http.ErrMissingFile):
			writeError(w, apperror.ValidationFailed("image", "Invalid profile image"))
			return
		}
	} else {
		var req signupRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, err)
			return
		}
		in = service.SignupInput{
			FullName:        req.FullName,
			Username:        req.Username,
			Email:           req.Email,
			Password:        req.Password,
			ConfirmPassword: req.ConfirmPassword,
		}
	}

	res, err := h.signup.SignUp(r.Context(), in)
	if err != nil {
		h.logFailure("signup failed", err)
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, res.Session)
	writeJSON(w, http.StatusCreated, SessionResponse{
		Session:  res.Session,
		User:     res.User,
		Next:     res.Next,
		Warnings: res.Warnings,
	})
}

// HandleUsernameAvailable answers the live check on the signup form.
//
// HTTP: GET /auth/username-available?username=ada
func (h *AuthHandler) HandleUsernameAvailable(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	available, err := h.signup.CheckUsernameAvailability(r.Context(), username)
	if err != nil {
		h.logFailure("username check failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"username":  username,
		"available": available,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleLogin signs a user in with email and password.
//
// HTTP: POST /auth/login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	session, err := h.credentials.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.logFailure("login failed", err)
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, session)
	writeJSON(w, http.StatusOK, SessionResponse{
		Session: session,
		Next:    h.resolver.Resolve(r.Context(), session),
	})
}

type adminLoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleAdminLogin signs an administrator in with the admin credential.
//
// HTTP: POST /auth/admin/login
func (h *AuthHandler) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var req adminLoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.credentials.AdminLogin(r.Context(), req.Username, req.Password)
	if err != nil {
		h.logFailure("admin login failed", err)
		writeError(w, err)
		return
	}

	h.setTokenCookie(w, res.Session)
	writeJSON(w, http.StatusOK, SessionResponse{
		Session: res.Session,
		User:    &res.Identity.User,
		Admin:   &res.Identity,
		Next:    model.RouteAdminHome,
	})
}

// HandleLogout clears the cookie and announces the sign-out. Tokens are
// stateless, so a copy the client kept stays valid until it expires.
//
// HTTP: POST /auth/logout
func (h *AuthHandler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if userID, ok := auth.UserIDFromContext(r.Context()); ok {
		h.identity.SignOut(r.Context(), userID)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "logged out",
		"next":    string(model.RouteLogin),
	})
}

// HandleGitHubLogin redirects to GitHub. The state value is kept in a
// short-lived cookie and checked on callback.
//
// HTTP: GET /auth/github/login
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("provider", "github"))
		return
	}

	state := xid.New().String()
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback finishes the social sign-in: it exchanges the code,
// signs the account in (creating it on first use) and makes sure it has a
// profile.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	if h.github == nil {
		writeError(w, apperror.NotFound("provider", "github"))
		return
	}

	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || stateCookie.Value == "" || r.URL.Query().Get("state") != stateCookie.Value {
		h.logger.Warn("github callback: state mismatch")
		writeError(w, apperror.ValidationFailed("state", "invalid OAuth state"))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

	if denied := r.URL.Query().Get("error"); denied != "" {
		h.logger.Info("github callback: user denied authorization", slog.String("error", denied))
		writeError(w, apperror.Unauthorized("GitHub authorization was denied"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeError(w, apperror.ValidationFailed("code", "missing OAuth code"))
		return
	}

	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeError(w, apperror.Unauthorized("GitHub sign-in failed"))
		return
	}

	session, created, err := h.identity.SignInWithOAuth(r.Context(), ghUser.Email, model.AccountMetadata{
		FullName: ghUser.DisplayName(),
	})
	if err != nil {
		h.logFailure("github callback: sign-in failed", err)
		writeError(w, err)
		return
	}

	var avatar *string
	if ghUser.AvatarURL != "" {
		avatar = &ghUser.AvatarURL
	}
	user, err := h.signup.EnsureProfile(r.Context(), &session.User, ghUser.Login, avatar)
	if err != nil {
		writeError(w, err)
		return
	}

	h.logger.Info("github sign-in",
		slog.String("userID", session.User.ID),
		slog.String("login", ghUser.Login),
		slog.Bool("created", created),
	)

	h.setTokenCookie(w, session)
	writeJSON(w, http.StatusOK, SessionResponse{
		Session: session,
		User:    user,
		Next:    h.resolver.Resolve(r.Context(), session),
	})
}

func (h *AuthHandler) setTokenCookie(w http.ResponseWriter, session *model.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    session.AccessToken,
		Path:     "/",
		MaxAge:   int(time.Until(session.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// logFailure logs unexpected errors at Error and user mistakes at Info.
func (h *AuthHandler) logFailure(msg string, err error) {
	var appErr *apperror.AppError
	if errors.As(err, &appErr) {
		h.logger.Info(msg, slog.String("error", err.Error()))
		return
	}
	h.logger.Error(msg, slog.String("error", err.Error()))
}

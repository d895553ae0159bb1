package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/knowex/knowex-api/internal/model"
)

// contextKey is unexported so only this package can set or read these values.
type contextKey string

const (
	claimsKey contextKey = "claims"
	tokenKey  contextKey = "token"
)

// CookieName is the cookie web clients keep the session token in. Mobile
// clients send it as "Authorization: Bearer <token>" instead.
const CookieName = "token"

// RequireAuth rejects the request with 401 unless it carries a valid token.
// The decoded claims are stored in the request context.
func RequireAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := extractClaims(r, tokens)
			if err != nil {
				writeUnauthorized(w, "valid authentication required")
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims, token)))
		})
	}
}

// RequireAdmin is RequireAuth plus a check that the token was issued by the
// admin login.
func RequireAdmin(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, token, err := extractClaims(r, tokens)
			if err != nil {
				writeUnauthorized(w, "valid authentication required")
				return
			}
			if !claims.IsAdmin || claims.AdminID == 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				w.Write([]byte(`{"error":"forbidden","message":"administrator access required"}`))
				return
			}
			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims, token)))
		})
	}
}

// OptionalAuth decodes a token when one is present but never blocks. The
// session-route endpoint uses it: no token is a valid input there.
func OptionalAuth(tokens *TokenService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if claims, token, err := extractClaims(r, tokens); err == nil {
				r = r.WithContext(withClaims(r.Context(), claims, token))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserIDFromContext returns the authenticated account id, or ("", false) for
// anonymous requests.
func UserIDFromContext(ctx context.Context) (string, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", false
	}
	return c.Subject, c.Subject != ""
}

// ClaimsFromContext returns the decoded token claims, if any.
func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*Claims)
	return c, ok && c != nil
}

// SessionFromContext rebuilds the caller's session, or returns nil for an
// anonymous request.
func SessionFromContext(ctx context.Context) *model.Session {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return nil
	}
	token, _ := ctx.Value(tokenKey).(string)
	return c.Session(token)
}

// WithClaims is exported for handler tests that bypass the middleware.
func WithClaims(ctx context.Context, c *Claims, token string) context.Context {
	return withClaims(ctx, c, token)
}

func withClaims(ctx context.Context, c *Claims, token string) context.Context {
	ctx = context.WithValue(ctx, claimsKey, c)
	return context.WithValue(ctx, tokenKey, token)
}

// TokenFromRequest returns the bearer token, falling back to the cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return cookie.Value
	}
	return ""
}

func extractClaims(r *http.Request, tokens *TokenService) (*Claims, string, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, "", http.ErrNoCookie
	}
	claims, err := tokens.Validate(token)
	if err != nil {
		return nil, "", err
	}
	return claims, token, nil
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized","message":"` + message + `"}`))
}

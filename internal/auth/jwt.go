// Package auth issues and checks the credentials of the KnowEx API: session
// tokens, password hashes and the GitHub social sign-in.
//
// A session token is an HS256 JWT. Besides the registered claims it carries
// the account email, the account metadata (full name and the onboarded
// flag) and whether the holder signed in as an administrator. Routing reads
// the onboarded flag straight from the token, so a stale token can disagree
// with the database; the Session Resolver accounts for that.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/xid"

	"github.com/knowex/knowex-api/internal/model"
)

const (
	issuer     = "knowex"
	DefaultTTL = time.Hour
)

// ErrTokenExpired is returned by Validate for a well-formed but expired token.
var ErrTokenExpired = errors.New("auth: token expired")

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService. ttl <= 0 means DefaultTTL.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// Claims is the JWT payload. Subject is the account id.
type Claims struct {
	Email    string                `json:"email"`
	Metadata model.AccountMetadata `json:"user_metadata"`
	IsAdmin  bool                  `json:"is_admin,omitempty"`
	AdminID  int64                 `json:"admin_id,omitempty"`
	jwt.RegisteredClaims
}

// Subject describes who a token is issued to.
type Subject struct {
	Account model.Account
	IsAdmin bool
	AdminID int64
}

// Generate signs a token for sub that expires after the service TTL.
func (s *TokenService) Generate(sub Subject) (string, time.Time, error) {
	return s.GenerateWithDuration(sub, s.ttl)
}

// GenerateWithDuration signs a token with a custom lifetime. Tests use a
// negative duration to get an already-expired token.
func (s *TokenService) GenerateWithDuration(sub Subject, d time.Duration) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(d)

	c := Claims{
		Email:    sub.Account.Email,
		Metadata: sub.Account.Metadata,
		IsAdmin:  sub.IsAdmin,
		AdminID:  sub.AdminID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        xid.New().String(),
			Subject:   sub.Account.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses and verifies a token: HS256 only, issuer "knowex",
// expiry required, subject required.
func (s *TokenService) Validate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return s.secret, nil
		},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("auth: token has no subject")
	}
	return c, nil
}

// Session rebuilds the session a token stands for. The account carries only
// what the token holds (id, email, metadata).
func (c *Claims) Session(token string) *model.Session {
	s := &model.Session{
		AccessToken: token,
		TokenType:   "bearer",
		User: model.Account{
			ID:       c.Subject,
			Email:    c.Email,
			Metadata: c.Metadata,
		},
		IsAdmin: c.IsAdmin,
	}
	if c.ExpiresAt != nil {
		s.ExpiresAt = c.ExpiresAt.Time
	}
	return s
}

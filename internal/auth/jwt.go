// Package auth issues and checks the operator credentials that guard the API.
//
// Operators log in with a password (bcrypt) and receive a short-lived HS256
// JWT. The token carries the operator's login and permission strings, so the
// middleware can authorise a request without a database lookup.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const issuer = "care-assign"

// DefaultTokenTTL is used when NewTokenService is given a zero TTL.
const DefaultTokenTTL = 15 * time.Minute

// Permission strings understood by RequirePermission.
const (
	PermAssignmentsRead  = "assignments:read"
	PermAssignmentsWrite = "assignments:write"
	PermDirectoryWrite   = "directory:write"
)

// AllPermissions is granted to the bootstrap administrator.
var AllPermissions = []string{PermAssignmentsRead, PermAssignmentsWrite, PermDirectoryWrite}

// Actor is the authenticated caller of a request.
type Actor struct {
	OperatorID  string
	Login       string
	Permissions []string
}

// Can reports whether the actor holds perm.
func (a Actor) Can(perm string) bool {
	return slices.Contains(a.Permissions, perm)
}

// TokenService handles JWT creation and validation.
type TokenService struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenService creates a TokenService with the given secret.
// The secret should be at least 32 bytes of random data in production.
func NewTokenService(secret string, ttl time.Duration) (*TokenService, error) {
	if len(secret) < 16 {
		return nil, errors.New("auth: JWT secret must be at least 16 characters")
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenService{secret: []byte(secret), ttl: ttl}, nil
}

// claims is the JWT payload. "sub" holds the operator ID.
type claims struct {
	jwt.RegisteredClaims
	Login       string   `json:"login"`
	Permissions []string `json:"perms"`
}

// Generate signs an access token for actor with the service's TTL.
func (s *TokenService) Generate(actor Actor) (string, error) {
	return s.GenerateWithDuration(actor, s.ttl)
}

// GenerateWithDuration creates a token with a custom expiry duration.
// Used in tests.
func (s *TokenService) GenerateWithDuration(actor Actor, d time.Duration) (string, error) {
	now := time.Now()

	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.OperatorID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(d)),
			Issuer:    issuer,
		},
		Login:       actor.Login,
		Permissions: actor.Permissions,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}

	return signed, nil
}

// TTL is the lifetime of tokens returned by Generate.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Validate parses and verifies a JWT string and returns the actor it names.
//
// Only HS256 tokens from this issuer with an expiry are accepted; pinning
// the method blocks "alg: none" tokens.
func (s *TokenService) Validate(tokenStr string) (Actor, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&claims{},
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
			return Actor{}, fmt.Errorf("auth: token expired")
		}
		return Actor{}, fmt.Errorf("auth: invalid token: %w", err)
	}

	c, ok := token.Claims.(*claims)
	if !ok || !token.Valid {
		return Actor{}, fmt.Errorf("auth: invalid token claims")
	}
	if c.Subject == "" {
		return Actor{}, fmt.Errorf("auth: token has no subject")
	}

	return Actor{
		OperatorID:  c.Subject,
		Login:       c.Login,
		Permissions: c.Permissions,
	}, nil
}

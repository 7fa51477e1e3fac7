// Package auth mints and verifies the bearer tokens identifying a caller to
// the invocation engine.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/goatkit/chimesgate/internal/invoker"
)

// JwtUserClaims is the identity carried on every access token, mirroring
// the usual user_id/username/role claim set widened
// to a role list since stored objects and named queries check against
// multiple roles.
type JwtUserClaims struct {
	UserID   string   `json:"user_id"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	jwt.RegisteredClaims
}

// ToInvokerClaims projects the token claims into invoker.JWTClaims, the
// shape the schema registry's permission checks read.
func (c JwtUserClaims) ToInvokerClaims() *invoker.JWTClaims {
	return &invoker.JWTClaims{UserID: c.UserID, Username: c.Username, Roles: c.Roles}
}

// Manager mints and verifies HS256-signed access tokens.
type Manager struct {
	secret []byte
	ttl    time.Duration
}

// NewManager builds a Manager signing with secret and issuing tokens valid
// for ttl. A zero ttl means 24h.
func NewManager(secret string, ttl time.Duration) *Manager {
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{secret: []byte(secret), ttl: ttl}
}

// Mint issues a signed access token for the given identity.
func (m *Manager) Mint(userID, username string, roles []string) (string, error) {
	now := time.Now()
	claims := JwtUserClaims{
		UserID:   userID,
		Username: username,
		Roles:    roles,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates tokenString, returning its claims.
func (m *Manager) Verify(tokenString string) (*JwtUserClaims, error) {
	claims := &JwtUserClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: invalid token: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("auth: token failed validation")
	}
	return claims, nil
}

// BearerToken extracts the token from an "Authorization: Bearer <token>"
// header value.
func BearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", false
	}
	return strings.TrimPrefix(header, prefix), true
}

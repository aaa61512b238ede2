// Package auth implements the shared-password login and session tokens.
//
// There are no user accounts. Anyone who knows the shared password mints a
// session token that carries a display name and cursor color; the token is
// an HS256 JWT so the gateway stays stateless across restarts when a stable
// secret is configured.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Principal identifies the authenticated session on a request context.
type Principal struct {
	SessionID string
	Name      string
	Color     string
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(*Principal)
	return p, ok && p != nil
}

// ParseBearer extracts a bearer token from the Authorization header.
func ParseBearer(r *http.Request) (string, bool) {
	authz := strings.TrimSpace(r.Header.Get("Authorization"))
	if authz == "" {
		return "", false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authz, prefix))
	if token == "" {
		return "", false
	}
	return token, true
}

// Sessions mints and verifies session tokens.
type Sessions struct {
	sharedPassword string
	secret         []byte
	ttl            time.Duration
	now            func() time.Time
}

// NewSessions builds a session authority. An empty secret gets replaced by a
// random per-process one, which invalidates outstanding tokens on restart.
func NewSessions(sharedPassword, secret string, ttl time.Duration) *Sessions {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		_, _ = rand.Read(key)
	}
	return &Sessions{
		sharedPassword: sharedPassword,
		secret:         key,
		ttl:            ttl,
		now:            time.Now,
	}
}

// Required reports whether requests must present a session token.
func (s *Sessions) Required() bool { return s.sharedPassword != "" }

// CheckPassword compares in constant time.
func (s *Sessions) CheckPassword(candidate string) bool {
	return subtle.ConstantTimeCompare([]byte(candidate), []byte(s.sharedPassword)) == 1
}

// Mint issues a signed token for the given display identity.
func (s *Sessions) Mint(sessionID, name, color string) (string, error) {
	now := s.now()
	claims := jwt.MapClaims{
		"sid":   sessionID,
		"name":  name,
		"color": color,
		"iat":   now.Unix(),
		"exp":   now.Add(s.ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses a token and returns the principal it carries.
func (s *Sessions) Verify(tokenString string) (*Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token claims")
	}
	p := &Principal{}
	if v, ok := claims["sid"].(string); ok {
		p.SessionID = v
	}
	if v, ok := claims["name"].(string); ok {
		p.Name = v
	}
	if v, ok := claims["color"].(string); ok {
		p.Color = v
	}
	if p.SessionID == "" {
		return nil, fmt.Errorf("token missing session id")
	}
	return p, nil
}

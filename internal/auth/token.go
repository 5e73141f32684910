package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the caller derived from a verified bearer token. It lives for
// one request and is never stored.
type Identity struct {
	UserID string
}

type Claims struct {
	jwt.RegisteredClaims

	// UserID mirrors Subject; older clients read "id".
	UserID string `json:"id,omitempty"`
}

// Tokens issues and verifies HS256 bearer tokens. Verification needs no
// round trip to the user store.
type Tokens struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

func NewTokens(secret string, expiry time.Duration) *Tokens {
	return &Tokens{secret: []byte(secret), expiry: expiry, now: time.Now}
}

// WithClock returns a copy of t that reads time from now.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	c := *t
	c.now = now
	return &c
}

func (t *Tokens) Issue(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, errors.New("issue token: empty user id")
	}
	now := t.now()
	expiresAt := now.Add(t.expiry)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID: userID,
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return s, expiresAt, nil
}

// Verify checks an Authorization header value of the form "Bearer <token>".
func (t *Tokens) Verify(authorization string) (Identity, error) {
	authz := strings.TrimSpace(authorization)
	if authz == "" {
		return Identity{}, missing("authorization header required")
	}
	scheme, token, _ := strings.Cut(authz, " ")
	if !strings.EqualFold(scheme, "bearer") {
		return Identity{}, invalid("authorization header must use the Bearer scheme", nil)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, missing("bearer token required")
	}
	return t.VerifyToken(token)
}

func (t *Tokens) VerifyToken(token string) (Identity, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	claims := &Claims{}
	tok, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, invalid("token expired", err)
		}
		return Identity{}, invalid("invalid token", err)
	}
	if !tok.Valid {
		return Identity{}, invalid("invalid token", nil)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" {
		return Identity{}, invalid("token has no subject", nil)
	}
	return Identity{UserID: userID}, nil
}

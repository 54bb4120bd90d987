// Package auth verifies session credentials and guards protected workflows.
//
// Credentials are HS256 JWTs carrying a "user_id" claim. Passwords are
// stored as bcrypt hashes. Gate wraps a workflow node so that it only runs
// for a valid credential, and records the outcome of every check.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Credential errors.
var (
	ErrNoCredential      = errors.New("no authentication token provided")
	ErrInvalidCredential = errors.New("invalid or expired token")
	ErrEmptySecret       = errors.New("token secret is empty")
)

// Verifier checks a credential and returns its subject.
type Verifier interface {
	Verify(token string) (userID int64, err error)
}

// Issuer mints a credential for a user.
type Issuer interface {
	Issue(userID int64) (string, error)
}

// Claims is the credential payload.
type Claims struct {
	UserID int64 `json:"user_id"`
	jwt.RegisteredClaims
}

// JWT issues and verifies HS256 tokens. It implements Verifier and Issuer.
type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// JWTOption configures a JWT.
type JWTOption func(*JWT)

// WithTTL sets an expiry on issued tokens. Zero means tokens never expire.
func WithTTL(d time.Duration) JWTOption {
	return func(j *JWT) { j.ttl = d }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) JWTOption {
	return func(j *JWT) { j.now = now }
}

// NewJWT returns a signer for secret.
func NewJWT(secret string, opts ...JWTOption) (*JWT, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	j := &JWT{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j, nil
}

// Issue implements Issuer.
func (j *JWT) Issue(userID int64) (string, error) {
	now := j.now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if j.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(j.ttl))
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify implements Verifier. Every failure wraps ErrInvalidCredential.
func (j *JWT) Verify(token string) (int64, error) {
	if token == "" {
		return 0, ErrNoCredential
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return j.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrInvalidCredential, err)
	}
	if claims.UserID <= 0 {
		return 0, fmt.Errorf("%w: missing user_id claim", ErrInvalidCredential)
	}
	return claims.UserID, nil
}

// Package auth resolves the acting user from HS256 bearer tokens
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pulseboard/pulse/internal/feed"
	"github.com/pulseboard/pulse/pkg/config"
)

const accessTokenType = "access"

var (
	// ErrNoSecret is returned when tokens are used without a configured secret
	ErrNoSecret = errors.New("jwt secret is not configured")

	// ErrWrongTokenType is returned for refresh or other non-access tokens
	ErrWrongTokenType = errors.New("access token required")

	// ErrMissingSubject is returned for tokens without an actor
	ErrMissingSubject = errors.New("token has no subject")
)

// Claims are the token claims. The subject is the actor id.
type Claims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// Verifier signs and verifies access tokens
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewVerifier creates a verifier from the auth configuration
func NewVerifier(cfg *config.AuthConfig) *Verifier {
	return &Verifier{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer, now: time.Now}
}

// Enabled reports whether a signing secret is configured
func (v *Verifier) Enabled() bool {
	return len(v.secret) > 0
}

// Sign issues an access token for actor valid for ttl
func (v *Verifier) Sign(actor feed.ActorID, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrNoSecret
	}
	now := v.now()
	claims := &Claims{
		Type: accessTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(actor),
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Verify parses an access token and returns its actor
func (v *Verifier) Verify(tokenString string) (feed.ActorID, error) {
	if !v.Enabled() {
		return feed.Anonymous, ErrNoSecret
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return feed.Anonymous, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return feed.Anonymous, jwt.ErrTokenInvalidClaims
	}
	if claims.Type != "" && claims.Type != accessTokenType {
		return feed.Anonymous, ErrWrongTokenType
	}
	if claims.Subject == "" {
		return feed.Anonymous, ErrMissingSubject
	}
	return feed.ActorID(claims.Subject), nil
}

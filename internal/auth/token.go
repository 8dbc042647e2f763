// Package auth issues and validates bearer tokens, authenticates requests and
// serves the login endpoints.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	// DefaultIssuer is the iss claim written into every token.
	DefaultIssuer = "odyssey-iam"
	// DefaultTTL applies when Issue is called without a positive ttl.
	DefaultTTL = 24 * time.Hour

	minSecretLen = 32
	signingAlg   = "HS256"
)

// Token validation failures. Validate wraps the underlying parser error.
var (
	ErrTokenMalformed        = errors.New("token malformed")
	ErrTokenSignatureInvalid = errors.New("token signature invalid")
	ErrTokenExpired          = errors.New("token expired")
)

// TokenConfig configures a TokenService.
type TokenConfig struct {
	Secret string
	Issuer string
	TTL    time.Duration
	// Leeway tolerates clock skew on expiry. Zero means strict expiry.
	Leeway time.Duration
	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

// Token is an issued bearer token.
type Token struct {
	Value     string
	Subject   string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// TokenService signs HS256 compact tokens with a secret fixed at construction.
// It holds no mutable state and is safe for concurrent use.
type TokenService struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewTokenService validates cfg and returns a ready TokenService.
func NewTokenService(cfg TokenConfig) (*TokenService, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("auth: token secret must be at least %d bytes", minSecretLen)
	}
	if cfg.Leeway < 0 {
		return nil, errors.New("auth: token leeway must not be negative")
	}
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	return &TokenService{
		secret: []byte(cfg.Secret),
		issuer: cfg.Issuer,
		ttl:    cfg.TTL,
		now:    now,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{signingAlg}),
			jwt.WithStrictDecoding(),
			jwt.WithIssuer(cfg.Issuer),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(cfg.Leeway),
			jwt.WithTimeFunc(now),
		),
	}, nil
}

// TTL returns the default token lifetime.
func (s *TokenService) TTL() time.Duration {
	return s.ttl
}

// Issue signs a token for subject valid for ttl, or the configured default when
// ttl is not positive.
func (s *TokenService) Issue(subject string, ttl time.Duration) (Token, error) {
	if subject == "" {
		return Token{}, errors.New("auth: token subject must not be empty")
	}
	if ttl <= 0 {
		ttl = s.ttl
	}
	issued := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    s.issuer,
		Subject:   subject,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(issued),
		ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
	}
	value, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return Token{
		Value:     value,
		Subject:   subject,
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Validate checks the signature and then the expiry, returning the subject.
// Errors match ErrTokenMalformed, ErrTokenSignatureInvalid or ErrTokenExpired.
// A token that is both tampered and expired reports ErrTokenSignatureInvalid.
func (s *TokenService) Validate(token string) (string, error) {
	if strings.Count(token, ".") != 2 {
		return "", ErrTokenMalformed
	}
	// Header and claims must decode before the signature is worth checking.
	if _, _, err := s.parser.ParseUnverified(token, &jwt.RegisteredClaims{}); err != nil {
		return "", fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}

	var claims jwt.RegisteredClaims
	_, err := s.parser.ParseWithClaims(token, &claims, s.key)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "", fmt.Errorf("%w: %w", ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		// Header and claims decoded above, so only the signature segment is left.
		return "", fmt.Errorf("%w: %w", ErrTokenSignatureInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return "", fmt.Errorf("%w: %w", ErrTokenExpired, err)
	default:
		return "", fmt.Errorf("%w: %w", ErrTokenMalformed, err)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: missing subject", ErrTokenMalformed)
	}
	return claims.Subject, nil
}

func (s *TokenService) key(*jwt.Token) (any, error) {
	return s.secret, nil
}

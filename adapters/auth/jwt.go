// Package auth issues and verifies the bearer tokens of the admin API.
// Tokens are stateless so any instance can verify them.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/artpar/poolgate/ports"
)

// ErrInvalidToken is returned for tokens that fail verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims are the JWT claims of an admin session.
type Claims struct {
	Username string `json:"usr"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies admin tokens with HS256.
// Thread-safe and suitable for concurrent use.
type TokenService struct {
	secret     []byte
	issuer     string
	expiration time.Duration
	clock      ports.Clock
}

// TokenConfig configures a TokenService.
type TokenConfig struct {
	// Secret signs tokens. Empty generates a random per-process secret,
	// which invalidates tokens on restart.
	Secret     string
	Issuer     string        // default "poolgate"
	Expiration time.Duration // default 24h
	Clock      ports.Clock
}

// NewTokenService creates a new token service.
func NewTokenService(cfg TokenConfig) *TokenService {
	secret := []byte(cfg.Secret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		_, _ = rand.Read(secret)
	}
	if cfg.Issuer == "" {
		cfg.Issuer = "poolgate"
	}
	if cfg.Expiration <= 0 {
		cfg.Expiration = 24 * time.Hour
	}
	return &TokenService{
		secret:     secret,
		issuer:     cfg.Issuer,
		expiration: cfg.Expiration,
		clock:      cfg.Clock,
	}
}

func (s *TokenService) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now().UTC()
}

// Issue creates a token for username.
func (s *TokenService) Issue(username, role string) (string, time.Time, error) {
	now := s.now()
	expiresAt := now.Add(s.expiration)

	claims := Claims{
		Username: username,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, issuer and expiry and returns the claims.
func (s *TokenService) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Refresh issues a new token for the holder of a valid one.
func (s *TokenService) Refresh(token string) (string, time.Time, error) {
	claims, err := s.Verify(token)
	if err != nil {
		return "", time.Time{}, err
	}
	return s.Issue(claims.Username, claims.Role)
}

// GenerateSecret returns a random hex secret suitable for signing.
func GenerateSecret() string {
	b := make([]byte, 32)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

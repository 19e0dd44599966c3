package authz

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/upb/identity-authority/services"
)

const accessTokenType = "access"

// Claims are the claims carried by an access token. Subject is the user id;
// ServiceID is empty for global scope.
type Claims struct {
	jwt.RegisteredClaims
	ServiceID string `json:"sid,omitempty"`
	TokenType string `json:"token_type"`
}

// UserID parses the subject
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Scope parses the service claim. A nil result is global scope.
func (c *Claims) Scope() (*uuid.UUID, error) {
	if c.ServiceID == "" {
		return nil, nil
	}
	id, err := uuid.Parse(c.ServiceID)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// TokenSigner signs and verifies HS256 access tokens bound to one secret and issuer
type TokenSigner struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenSigner creates a signer
func NewTokenSigner(secret, issuer string) *TokenSigner {
	return &TokenSigner{
		secret: []byte(secret),
		issuer: issuer,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Sign issues an access token for userID, scoped to serviceID when non-nil
func (s *TokenSigner) Sign(userID uuid.UUID, serviceID *uuid.UUID, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		return "", time.Time{}, errors.New("access token ttl must be positive")
	}

	now := s.now()
	expiresAt := now.Add(ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		TokenType: accessTokenType,
	}
	if serviceID != nil {
		claims.ServiceID = serviceID.String()
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies signature, algorithm, issuer and expiry. Expiry is reported
// as ErrTokenExpired; every other failure as ErrInvalidToken.
func (s *TokenSigner) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, services.ErrInvalidToken
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, services.ErrTokenExpired.Wrap(err)
		}
		return nil, services.ErrInvalidToken.Wrap(err)
	}
	if !parsed.Valid || claims.TokenType != accessTokenType || claims.Subject == "" {
		return nil, services.ErrInvalidToken
	}
	return claims, nil
}

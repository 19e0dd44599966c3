package models

import (
	"time"

	"github.com/google/uuid"
)

// TokenKind identifies what a stored credential may be exchanged for
type TokenKind string

const (
	TokenKindRefresh       TokenKind = "refresh"
	TokenKindVerification  TokenKind = "verification"
	TokenKindPasswordReset TokenKind = "password_reset"
)

// Valid reports whether k is a known kind
func (k TokenKind) Valid() bool {
	switch k {
	case TokenKindRefresh, TokenKindVerification, TokenKindPasswordReset:
		return true
	}
	return false
}

// TokenMetadata records where a credential was issued
type TokenMetadata struct {
	ServiceID *uuid.UUID `json:"service_id,omitempty"`
	IPAddress string     `json:"ip_address,omitempty"`
	UserAgent string     `json:"user_agent,omitempty"`
}

// Token is a stored single-use credential. Only the SHA-256 of the opaque
// value is persisted; the plaintext is returned once at issue time.
type Token struct {
	ID        uuid.UUID     `json:"id" db:"id"`
	UserID    uuid.UUID     `json:"user_id" db:"user_id"`
	ValueHash string        `json:"-" db:"value_hash"`
	Kind      TokenKind     `json:"kind" db:"kind"`
	ExpiresAt time.Time     `json:"expires_at" db:"expires_at"`
	Metadata  TokenMetadata `json:"metadata" db:"metadata"` // JSONB
	CreatedAt time.Time     `json:"created_at" db:"created_at"`
}

// TableName returns the table name for the Token model
func (Token) TableName() string {
	return "tokens"
}

// NewToken creates a token record expiring after ttl
func NewToken(userID uuid.UUID, kind TokenKind, valueHash string, ttl time.Duration, meta TokenMetadata) *Token {
	now := time.Now().UTC()
	return &Token{
		ID:        uuid.New(),
		UserID:    userID,
		ValueHash: valueHash,
		Kind:      kind,
		ExpiresAt: now.Add(ttl),
		Metadata:  meta,
		CreatedAt: now,
	}
}

// IsExpired reports whether the token has expired at now
func (t *Token) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

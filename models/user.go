package models

import (
	"time"

	"github.com/google/uuid"
)

// UserStatus represents the lifecycle state of a principal
type UserStatus string

const (
	UserStatusPending   UserStatus = "pending"
	UserStatusActive    UserStatus = "active"
	UserStatusSuspended UserStatus = "suspended"
)

// Valid reports whether s is a known status
func (s UserStatus) Valid() bool {
	switch s {
	case UserStatusPending, UserStatusActive, UserStatusSuspended:
		return true
	}
	return false
}

// User represents an authenticated principal
type User struct {
	ID           uuid.UUID    `json:"id" db:"id"`
	Username     string       `json:"username" db:"username"`
	Email        string       `json:"email" db:"email"`
	PasswordHash string       `json:"-" db:"password_hash"`
	Name         string       `json:"name" db:"name"`
	IsVerified   bool         `json:"is_verified" db:"is_verified"`
	Status       UserStatus   `json:"status" db:"status"`
	LastLoginAt  *time.Time   `json:"last_login_at,omitempty" db:"last_login_at"`
	Metadata     UserMetadata `json:"metadata" db:"metadata"` // JSONB
	CreatedAt    time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the User model
func (User) TableName() string {
	return "users"
}

// NewUser creates a new pending User
func NewUser(username, email, name, passwordHash string) *User {
	now := time.Now().UTC()
	return &User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		Name:         name,
		PasswordHash: passwordHash,
		Status:       UserStatusPending,
		Metadata:     UserMetadata{Preferences: map[string]string{}},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// IsActive returns true if the user may authenticate
func (u *User) IsActive() bool {
	return u.Status == UserStatusActive
}

// Verify marks the email as verified and activates a pending account.
// Suspended accounts stay suspended.
func (u *User) Verify() {
	u.IsVerified = true
	if u.Status == UserStatusPending {
		u.Status = UserStatusActive
	}
	u.UpdatedAt = time.Now().UTC()
}

// UserMetadata holds profile data owned by the user
type UserMetadata struct {
	AvatarURL   string            `json:"avatar_url,omitempty"`
	Locale      string            `json:"locale,omitempty"`
	Timezone    string            `json:"timezone,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// UserMetadataPatch is a partial update to UserMetadata. Nil fields are left untouched.
type UserMetadataPatch struct {
	AvatarURL   *string           `json:"avatar_url,omitempty"`
	Locale      *string           `json:"locale,omitempty"`
	Timezone    *string           `json:"timezone,omitempty"`
	Preferences map[string]string `json:"preferences,omitempty"`
}

// MergeUserMetadata applies patch to base and returns the result.
// Scalar fields are replaced when set. Preferences are additive: keys in the
// patch overwrite or extend the base map, and an empty value removes the key.
func MergeUserMetadata(base UserMetadata, patch UserMetadataPatch) UserMetadata {
	out := base
	if patch.AvatarURL != nil {
		out.AvatarURL = *patch.AvatarURL
	}
	if patch.Locale != nil {
		out.Locale = *patch.Locale
	}
	if patch.Timezone != nil {
		out.Timezone = *patch.Timezone
	}

	prefs := make(map[string]string, len(base.Preferences)+len(patch.Preferences))
	for k, v := range base.Preferences {
		prefs[k] = v
	}
	for k, v := range patch.Preferences {
		if v == "" {
			delete(prefs, k)
			continue
		}
		prefs[k] = v
	}
	out.Preferences = prefs
	return out
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// GrantStatus represents whether a grant is usable
type GrantStatus string

const (
	GrantStatusActive    GrantStatus = "active"
	GrantStatusSuspended GrantStatus = "suspended"
)

// Valid reports whether s is a known status
func (s GrantStatus) Valid() bool {
	return s == GrantStatusActive || s == GrantStatusSuspended
}

// Grant links a user to a service (or to the global scope when ServiceID is nil)
// and carries the roles the user holds there.
type Grant struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    uuid.UUID       `json:"user_id" db:"user_id"`
	ServiceID *uuid.UUID      `json:"service_id,omitempty" db:"service_id"`
	RoleIDs   []uuid.UUID     `json:"role_ids" db:"role_ids"`
	Status    GrantStatus     `json:"status" db:"status"`
	Data      json.RawMessage `json:"data,omitempty" db:"data"` // JSONB, service-specific
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Grant model
func (Grant) TableName() string {
	return "user_services"
}

// NewGrant creates a new active grant
func NewGrant(userID uuid.UUID, serviceID *uuid.UUID, roleIDs []uuid.UUID) *Grant {
	now := time.Now().UTC()
	if roleIDs == nil {
		roleIDs = []uuid.UUID{}
	}
	return &Grant{
		ID:        uuid.New(),
		UserID:    userID,
		ServiceID: serviceID,
		RoleIDs:   roleIDs,
		Status:    GrantStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// IsGlobal reports whether the grant applies to the global scope
func (g *Grant) IsGlobal() bool {
	return g.ServiceID == nil
}

// IsActive reports whether the grant may be used for authorization
func (g *Grant) IsActive() bool {
	return g.Status == GrantStatusActive
}

// HasRole reports whether roleID is attached to the grant
func (g *Grant) HasRole(roleID uuid.UUID) bool {
	for _, id := range g.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

package models

import (
	"time"

	"github.com/google/uuid"
)

// PasswordPolicy describes the password requirements enforced for a service
type PasswordPolicy struct {
	MinLength        int  `json:"min_length"`
	RequireUppercase bool `json:"require_uppercase"`
	RequireLowercase bool `json:"require_lowercase"`
	RequireNumber    bool `json:"require_number"`
	RequireSymbol    bool `json:"require_symbol"`
}

// DefaultPasswordPolicy is applied when no service-specific policy exists
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:        8,
		RequireUppercase: true,
		RequireLowercase: true,
		RequireNumber:    true,
	}
}

// ServiceConfig is the configuration block of a tenant service
type ServiceConfig struct {
	AllowedOrigins []string       `json:"allowed_origins"`
	TokenLifetime  Duration       `json:"token_lifetime,omitempty"`
	PasswordPolicy PasswordPolicy `json:"password_policy"`
}

// DefaultServiceConfig returns the configuration assigned to new services
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		AllowedOrigins: []string{},
		PasswordPolicy: DefaultPasswordPolicy(),
	}
}

// PasswordPolicyPatch is a field-level partial update to PasswordPolicy
type PasswordPolicyPatch struct {
	MinLength        *int  `json:"min_length,omitempty"`
	RequireUppercase *bool `json:"require_uppercase,omitempty"`
	RequireLowercase *bool `json:"require_lowercase,omitempty"`
	RequireNumber    *bool `json:"require_number,omitempty"`
	RequireSymbol    *bool `json:"require_symbol,omitempty"`
}

// ServiceConfigPatch is a partial update to ServiceConfig. Nil fields are left untouched.
type ServiceConfigPatch struct {
	AllowedOrigins []string             `json:"allowed_origins,omitempty"`
	TokenLifetime  *Duration            `json:"token_lifetime,omitempty"`
	PasswordPolicy *PasswordPolicyPatch `json:"password_policy,omitempty"`
}

// MergeServiceConfig applies patch to base and returns the result.
// AllowedOrigins and TokenLifetime are replaced wholesale when present;
// PasswordPolicy is merged field by field.
func MergeServiceConfig(base ServiceConfig, patch ServiceConfigPatch) ServiceConfig {
	out := base
	if patch.AllowedOrigins != nil {
		out.AllowedOrigins = append([]string(nil), patch.AllowedOrigins...)
	}
	if patch.TokenLifetime != nil {
		out.TokenLifetime = *patch.TokenLifetime
	}
	if p := patch.PasswordPolicy; p != nil {
		if p.MinLength != nil {
			out.PasswordPolicy.MinLength = *p.MinLength
		}
		if p.RequireUppercase != nil {
			out.PasswordPolicy.RequireUppercase = *p.RequireUppercase
		}
		if p.RequireLowercase != nil {
			out.PasswordPolicy.RequireLowercase = *p.RequireLowercase
		}
		if p.RequireNumber != nil {
			out.PasswordPolicy.RequireNumber = *p.RequireNumber
		}
		if p.RequireSymbol != nil {
			out.PasswordPolicy.RequireSymbol = *p.RequireSymbol
		}
	}
	return out
}

// Service represents a tenant client application
type Service struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	Name          string        `json:"name" db:"name"`
	Description   string        `json:"description" db:"description"`
	APIKey        string        `json:"api_key" db:"api_key"`
	APISecretHash string        `json:"-" db:"api_secret_hash"` // SHA-256 of the issued secret
	IsActive      bool          `json:"is_active" db:"is_active"`
	Config        ServiceConfig `json:"config" db:"config"` // JSONB
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

// TableName returns the table name for the Service model
func (Service) TableName() string {
	return "services"
}

// NewService creates a new active Service with the given credential pair
func NewService(name, description, apiKey, apiSecretHash string) *Service {
	now := time.Now().UTC()
	return &Service{
		ID:            uuid.New(),
		Name:          name,
		Description:   description,
		APIKey:        apiKey,
		APISecretHash: apiSecretHash,
		IsActive:      true,
		Config:        DefaultServiceConfig(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

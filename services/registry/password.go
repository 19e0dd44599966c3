package registry

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/upb/identity-authority/models"
	"github.com/upb/identity-authority/services"
)

// bcrypt ignores input past 72 bytes
const maxPasswordBytes = 72

// ValidatePassword checks password against policy and names every unmet rule
func ValidatePassword(policy models.PasswordPolicy, password string) error {
	var unmet []string

	if len(password) < policy.MinLength {
		unmet = append(unmet, fmt.Sprintf("at least %d characters", policy.MinLength))
	}
	if len(password) > maxPasswordBytes {
		unmet = append(unmet, fmt.Sprintf("at most %d bytes", maxPasswordBytes))
	}

	var upper, lower, number, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			number = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}

	if policy.RequireUppercase && !upper {
		unmet = append(unmet, "an uppercase letter")
	}
	if policy.RequireLowercase && !lower {
		unmet = append(unmet, "a lowercase letter")
	}
	if policy.RequireNumber && !number {
		unmet = append(unmet, "a number")
	}
	if policy.RequireSymbol && !symbol {
		unmet = append(unmet, "a symbol")
	}

	if len(unmet) > 0 {
		return services.ErrWeakPassword.WithDetail("requirements", strings.Join(unmet, ", "))
	}
	return nil
}

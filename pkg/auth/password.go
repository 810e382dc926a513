package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const (
	TokenKeyLength = 32 // 256 bits
	MinPasswordLen = 8
	MaxPasswordLen = 72 // bcrypt input limit in bytes
)

// BcryptCost is the work factor for new hashes. Tests lower it to bcrypt.MinCost.
var BcryptCost = 12

// PasswordValidationError holds validation error details (internal use only)
type PasswordValidationError struct {
	Errors []string
}

func (e *PasswordValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "password validation failed"
	}
	return "invalid password: " + e.Errors[0]
}

// PasswordPolicy describes what a new password must satisfy.
type PasswordPolicy struct {
	MinLength         int
	MaxLength         int
	RequireComplexity bool // upper, lower, digit and symbol
}

// DefaultPasswordPolicy only enforces length and the common-password list.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{MinLength: MinPasswordLen, MaxLength: MaxPasswordLen}
}

// Common weak passwords to reject
var commonPasswords = map[string]bool{
	"password":     true,
	"12345678":     true,
	"qwerty":       true,
	"abc123":       true,
	"password123":  true,
	"password123!": true,
	"123456":       true,
	"admin":        true,
	"letmein":      true,
	"welcome":      true,
	"monkey":       true,
	"dragon":       true,
	"master":       true,
	"123123":       true,
	"passw0rd":     true,
	"shadow":       true,
	"sunshine":     true,
	"princess":     true,
	"starwars":     true,
	"football":     true,
	"trustno1":     true,
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// ComparePassword checks password against hashedPassword in constant time.
// An empty hash never matches.
func ComparePassword(hashedPassword, password string) error {
	if hashedPassword == "" {
		return bcrypt.ErrMismatchedHashAndPassword
	}
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

func GenerateTokenKey() (string, error) {
	bytes := make([]byte, TokenKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(bytes), nil
}

// ValidatePassword checks password against the policy.
func (p PasswordPolicy) ValidatePassword(password string) error {
	errors := make([]string, 0)

	minLen := p.MinLength
	if minLen <= 0 {
		minLen = MinPasswordLen
	}
	maxLen := p.MaxLength
	if maxLen <= 0 || maxLen > MaxPasswordLen {
		maxLen = MaxPasswordLen
	}

	if len(password) < minLen {
		errors = append(errors, fmt.Sprintf("must be at least %d characters", minLen))
	}
	if len(password) > maxLen {
		errors = append(errors, fmt.Sprintf("must be at most %d bytes", maxLen))
	}

	if p.RequireComplexity {
		hasUpper := false
		hasLower := false
		hasDigit := false
		hasSpecial := false

		for _, r := range password {
			switch {
			case unicode.IsUpper(r):
				hasUpper = true
			case unicode.IsLower(r):
				hasLower = true
			case unicode.IsDigit(r):
				hasDigit = true
			case unicode.IsPunct(r) || unicode.IsSymbol(r):
				hasSpecial = true
			}
		}

		if !hasUpper {
			errors = append(errors, "must contain at least one uppercase letter")
		}
		if !hasLower {
			errors = append(errors, "must contain at least one lowercase letter")
		}
		if !hasDigit {
			errors = append(errors, "must contain at least one digit")
		}
		if !hasSpecial {
			errors = append(errors, "must contain at least one special character")
		}
	}

	// Check against common passwords (case-insensitive)
	if commonPasswords[strings.ToLower(password)] {
		errors = append(errors, "is too common, please choose a more unique password")
	}

	if len(errors) > 0 {
		return &PasswordValidationError{Errors: errors}
	}

	return nil
}

// ValidatePassword enforces the default policy.
func ValidatePassword(password string) error {
	return DefaultPasswordPolicy().ValidatePassword(password)
}

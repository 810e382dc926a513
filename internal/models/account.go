package models

import (
	"strings"
	"time"
)

// Account is an email-identified user record.
type Account struct {
	ID           string
	Email        string
	PasswordHash string // empty until a password is set (signup without password)
	FirstName    string
	LastName     string
	IsActive     bool
	IsStaff      bool
	IsSuperuser  bool
	IsVerified   bool
	TokenKey     string // per-account secret mixed into bearer token signing
	CreatedAt    time.Time
	LastLogin    *time.Time
}

// FullName returns first and last name separated by a space.
func (a *Account) FullName() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

// HasUsablePassword reports whether a password credential has been set.
func (a *Account) HasUsablePassword() bool {
	return a.PasswordHash != ""
}

// NormalizeEmail trims and lowercases an address so lookups are case-insensitive.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

package models

import (
	"fmt"
	"time"
)

// CodeKind discriminates the three verification code flows.
type CodeKind string

const (
	CodeKindSignup        CodeKind = "signup"
	CodeKindPasswordReset CodeKind = "password_reset"
	CodeKindEmailChange   CodeKind = "email_change"
)

// CodeKinds lists every kind, in a stable order.
var CodeKinds = []CodeKind{CodeKindSignup, CodeKindPasswordReset, CodeKindEmailChange}

// DefaultCodeExpiryDays is how many calendar days a code stays usable.
const DefaultCodeExpiryDays = 3

// Valid reports whether k is a known kind.
func (k CodeKind) Valid() bool {
	switch k {
	case CodeKindSignup, CodeKindPasswordReset, CodeKindEmailChange:
		return true
	}
	return false
}

func (k CodeKind) String() string {
	return string(k)
}

// ParseCodeKind converts a stored discriminant back into a CodeKind.
func ParseCodeKind(s string) (CodeKind, error) {
	k := CodeKind(s)
	if !k.Valid() {
		return "", fmt.Errorf("unknown code kind %q", s)
	}
	return k, nil
}

// CodeBase holds the fields shared by every verification code.
type CodeBase struct {
	Code      string
	AccountID string
	CreatedAt time.Time
}

// VerificationCode is a single-use code of one kind.
// IPAddress is set for signup codes, Email for email change codes.
type VerificationCode struct {
	CodeBase
	Kind      CodeKind
	IPAddress *string
	Email     *string
}

// CodePayload is the kind-specific data stored with a new code.
type CodePayload struct {
	IPAddress string
	Email     string
}

// Payload returns the kind-specific payload of the code.
func (c *VerificationCode) Payload() CodePayload {
	var p CodePayload
	if c.IPAddress != nil {
		p.IPAddress = *c.IPAddress
	}
	if c.Email != nil {
		p.Email = *c.Email
	}
	return p
}

// CodeExpired applies the calendar-day policy: a code is expired once more than
// periodDays calendar days separate the creation date from the current date.
// Both instants are compared as UTC dates.
func CodeExpired(createdAt, now time.Time, periodDays int) bool {
	return calendarDaysBetween(createdAt, now) > periodDays
}

// IsExpired reports whether the code is past its expiry window as of now.
func (c *VerificationCode) IsExpired(now time.Time, periodDays int) bool {
	return CodeExpired(c.CreatedAt, now, periodDays)
}

func calendarDaysBetween(from, to time.Time) int {
	fy, fm, fd := from.UTC().Date()
	ty, tm, td := to.UTC().Date()
	start := time.Date(fy, fm, fd, 0, 0, 0, 0, time.UTC)
	end := time.Date(ty, tm, td, 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start).Hours() / 24)
}

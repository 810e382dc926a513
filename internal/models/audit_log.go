package models

import (
	"time"
)

// AuditEventType enumerates the security-relevant actions recorded per account.
type AuditEventType string

const (
	AuditEventAccountSignup        AuditEventType = "account_signup"
	AuditEventLogin                AuditEventType = "login"
	AuditEventResetPasswordRequest AuditEventType = "reset_password_request"
	AuditEventPasswordUpdated      AuditEventType = "password_updated"
	AuditEventChangeEmailRequest   AuditEventType = "change_email_request"
	AuditEventEmailUpdated         AuditEventType = "email_updated"
)

// AuditEventTypes lists every event type.
var AuditEventTypes = []AuditEventType{
	AuditEventAccountSignup,
	AuditEventLogin,
	AuditEventResetPasswordRequest,
	AuditEventPasswordUpdated,
	AuditEventChangeEmailRequest,
	AuditEventEmailUpdated,
}

// Valid reports whether t is a known event type.
func (t AuditEventType) Valid() bool {
	for _, known := range AuditEventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// AuditEntry is an append-only record of one security-relevant action.
type AuditEntry struct {
	ID            int64
	AccountID     string
	EventType     AuditEventType
	IPAddress     *string
	FingerprintID *int64
	CreatedAt     time.Time

	// Fingerprint is populated by reads that join the device fingerprint.
	Fingerprint *DeviceFingerprint
}

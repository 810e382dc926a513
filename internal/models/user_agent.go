package models

import "time"

// MaxUserAgentLength caps the stored raw user-agent string, in bytes.
const MaxUserAgentLength = 256

// DeviceFingerprint is the deduplicated, parsed form of a user-agent string.
// Identifier is the hex SHA-256 of the full raw string.
type DeviceFingerprint struct {
	ID             int64
	Identifier     string
	UserAgent      string
	BrowserFamily  *string
	BrowserVersion *string
	OSFamily       *string
	OSVersion      *string
	DeviceBrand    *string
	DeviceFamily   *string
	DeviceModel    *string
	CreatedAt      time.Time
}

// Parsed reports whether enrichment has populated any parsed field.
func (f *DeviceFingerprint) Parsed() bool {
	return f.BrowserFamily != nil || f.OSFamily != nil || f.DeviceFamily != nil
}

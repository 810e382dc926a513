package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodeExpired_Boundary(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name      string
		createdAt time.Time
		expired   bool
	}{
		{"same day", now.Add(-time.Hour), false},
		{"exactly period days ago", now.AddDate(0, 0, -3), false},
		{"period days ago at midnight", time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC), false},
		{"period plus one days ago", now.AddDate(0, 0, -4), true},
		{"late on the day before the window", time.Date(2026, 3, 6, 23, 59, 59, 0, time.UTC), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expired, CodeExpired(tt.createdAt, now, 3))
		})
	}
}

func TestCodeExpired_CalendarGranularity(t *testing.T) {
	// One minute of wall time across midnight counts as a full day.
	createdAt := time.Date(2026, 3, 9, 23, 59, 0, 0, time.UTC)
	now := time.Date(2026, 3, 10, 0, 1, 0, 0, time.UTC)

	assert.False(t, CodeExpired(createdAt, now, 1))
	assert.True(t, CodeExpired(createdAt, now, 0))
}

func TestCodeExpired_ComparesUTCDates(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 2026-03-06 22:00 at UTC-5 is 2026-03-07 03:00 UTC.
	createdAt := time.Date(2026, 3, 6, 22, 0, 0, 0, loc)
	now := time.Date(2026, 3, 10, 1, 0, 0, 0, time.UTC)

	assert.False(t, CodeExpired(createdAt, now, 3))
}

func TestVerificationCode_Payload(t *testing.T) {
	ip := "10.0.0.1"
	email := "new@co.com"

	signup := &VerificationCode{Kind: CodeKindSignup, IPAddress: &ip}
	assert.Equal(t, CodePayload{IPAddress: ip}, signup.Payload())

	change := &VerificationCode{Kind: CodeKindEmailChange, Email: &email}
	assert.Equal(t, CodePayload{Email: email}, change.Payload())

	reset := &VerificationCode{Kind: CodeKindPasswordReset}
	assert.Equal(t, CodePayload{}, reset.Payload())
}

func TestParseCodeKind(t *testing.T) {
	for _, k := range CodeKinds {
		parsed, err := ParseCodeKind(string(k))
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	_, err := ParseCodeKind("magic_link")
	assert.Error(t, err)
}

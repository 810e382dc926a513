package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferedAuditLogger(buf *bytes.Buffer) *AuditLogger {
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(buf, nil)))
	al.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return al
}

func TestAuditLogger_LogAccountEvent(t *testing.T) {
	var buf bytes.Buffer
	al := newBufferedAuditLogger(&buf)

	al.LogAccountEvent(context.Background(), AuditEvent{
		EventType: "login",
		AccountID: "acc-1",
		IPAddress: "203.0.113.1",
		Metadata:  map[string]string{"fingerprint": "abc"},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "INFO", line["level"])
	assert.Equal(t, "login", line["event_type"])
	assert.Equal(t, "acc-1", line["account_id"])
	assert.Equal(t, "203.0.113.1", line["ip_address"])
	assert.Equal(t, "abc", line["fingerprint"])
	assert.Equal(t, "2024-05-01T12:00:00Z", line["timestamp"])
	assert.NotContains(t, line, "user_agent")
}

func TestAuditLogger_LogAuthFailure_MasksEmail(t *testing.T) {
	var buf bytes.Buffer
	al := newBufferedAuditLogger(&buf)

	al.LogAuthFailure(context.Background(), "login", "user@example.com", "", "invalid_credentials")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "u***@*******.com", line["email"])
	assert.Equal(t, false, line["success"])
	assert.Equal(t, "invalid_credentials", line["failure_reason"])
}

func TestAuditLogger_NilSafe(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() {
		al.LogAccountEvent(context.Background(), AuditEvent{EventType: "login"})
		al.LogAuthFailure(context.Background(), "login", "", "", "")
	})
}

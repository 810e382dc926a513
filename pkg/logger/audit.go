package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent mirrors a persisted audit entry into the structured log stream
type AuditEvent struct {
	EventType string
	AccountID string
	IPAddress string
	UserAgent string
	Metadata  map[string]string
}

// AuditLogger provides audit logging functionality
type AuditLogger struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
		now:    time.Now,
	}
}

// LogAccountEvent records an account lifecycle event (signup, login, password or email change)
func (al *AuditLogger) LogAccountEvent(ctx context.Context, event AuditEvent) {
	if al == nil || al.logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "account"),
		slog.String("event_type", event.EventType),
		slog.String("account_id", event.AccountID),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}

	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// LogAuthFailure records a rejected authentication or verification attempt.
// Failures are never persisted, only logged.
func (al *AuditLogger) LogAuthFailure(ctx context.Context, eventType, email, ipAddress, reason string) {
	if al == nil || al.logger == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", eventType),
		slog.Bool("success", false),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
	if email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(email)))
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	if reason != "" {
		attrs = append(attrs, slog.String("failure_reason", reason))
	}

	al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
}

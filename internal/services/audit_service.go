package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/BradenHooton/authemail/internal/models"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
)

// FingerprintResolver is implemented by UserAgentRegistry
type FingerprintResolver interface {
	GetOrCreate(ctx context.Context, raw string) (*models.DeviceFingerprint, error)
}

// AuditService records account events with a dual-write: one persisted AuditEntry and one slog line
type AuditService struct {
	repo         AuditLogRepository
	fingerprints FingerprintResolver
	auditLogger  *pkglogger.AuditLogger
	logger       *slog.Logger
}

// NewAuditService creates a new AuditService
func NewAuditService(repo AuditLogRepository, fingerprints FingerprintResolver, auditLogger *pkglogger.AuditLogger, logger *slog.Logger) *AuditService {
	return &AuditService{
		repo:         repo,
		fingerprints: fingerprints,
		auditLogger:  auditLogger,
		logger:       logger,
	}
}

// WithRepository returns a copy of the service writing through repo
func (s *AuditService) WithRepository(repo AuditLogRepository) *AuditService {
	clone := *s
	clone.repo = repo
	return &clone
}

// Record appends an entry for the account. The entry is persisted before Record returns;
// a storage failure is returned so the caller's transaction can roll back.
// An unresolvable user agent only drops the fingerprint reference.
func (s *AuditService) Record(ctx context.Context, accountID string, eventType models.AuditEventType, meta pkghttp.RequestMeta) (*models.AuditEntry, error) {
	if !eventType.Valid() {
		return nil, fmt.Errorf("record audit entry: unknown event type %q", eventType)
	}

	entry := &models.AuditEntry{
		AccountID: accountID,
		EventType: eventType,
	}

	if addr, err := netip.ParseAddr(meta.IPAddress); err == nil {
		ip := addr.Unmap().String()
		entry.IPAddress = &ip
	}

	if meta.UserAgent != "" && s.fingerprints != nil {
		f, err := s.fingerprints.GetOrCreate(ctx, meta.UserAgent)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to resolve user agent",
				slog.String("event_type", string(eventType)),
				slog.Any("error", err))
		} else {
			entry.FingerprintID = &f.ID
			entry.Fingerprint = f
		}
	}

	stored, err := s.repo.Create(ctx, entry)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to persist audit entry",
			slog.String("event_type", string(eventType)),
			slog.String("account_id", accountID),
			slog.Any("error", err))
		return nil, err
	}
	stored.Fingerprint = entry.Fingerprint

	event := pkglogger.AuditEvent{
		EventType: string(eventType),
		AccountID: accountID,
		IPAddress: meta.IPAddress,
	}
	if entry.Fingerprint != nil {
		event.Metadata = map[string]string{"fingerprint": entry.Fingerprint.Identifier}
	}
	s.auditLogger.LogAccountEvent(ctx, event)

	return stored, nil
}

// MostRecent returns the latest entry of eventType for the account, or nil if there is none
func (s *AuditService) MostRecent(ctx context.Context, accountID string, eventType models.AuditEventType) (*models.AuditEntry, error) {
	entry, err := s.repo.MostRecent(ctx, accountID, eventType)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load latest %s entry: %w", eventType, err)
	}
	return entry, nil
}

// List returns the account's entries newest first
func (s *AuditService) List(ctx context.Context, accountID string, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error) {
	for _, t := range types {
		if !t.Valid() {
			return nil, &models.ValidationError{Field: "types", Message: fmt.Sprintf("unknown event type %q", t)}
		}
	}
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByAccount(ctx, accountID, types, limit, offset)
}

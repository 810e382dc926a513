package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/BradenHooton/authemail/internal/models"
	pkgauth "github.com/BradenHooton/authemail/pkg/auth"
	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
)

// maxCodeAttempts bounds retries when a freshly generated code collides with an existing one
const maxCodeAttempts = 3

// CodeExpiry resolves the expiry window, in calendar days, of each code kind
type CodeExpiry struct {
	DefaultDays int
	KindDays    map[models.CodeKind]int
}

// Days returns the window for kind, falling back to DefaultDays
func (e CodeExpiry) Days(kind models.CodeKind) int {
	if d, ok := e.KindDays[kind]; ok && d > 0 {
		return d
	}
	if e.DefaultDays > 0 {
		return e.DefaultDays
	}
	return models.DefaultCodeExpiryDays
}

// VerificationCodeService is the code engine shared by signup, password reset and email change.
// Absent and expired codes are both reported as models.ErrNotFound.
type VerificationCodeService struct {
	repo     VerificationCodeRepository
	expiry   CodeExpiry
	logger   *slog.Logger
	generate func() (string, error)
	now      func() time.Time
}

func NewVerificationCodeService(repo VerificationCodeRepository, expiry CodeExpiry, logger *slog.Logger) *VerificationCodeService {
	return &VerificationCodeService{
		repo:     repo,
		expiry:   expiry,
		logger:   logger,
		generate: pkgauth.GenerateCode,
		now:      time.Now,
	}
}

// WithRepository returns a copy of the service that uses repo, typically one bound to a transaction
func (s *VerificationCodeService) WithRepository(repo VerificationCodeRepository) *VerificationCodeService {
	clone := *s
	clone.repo = repo
	return &clone
}

// Issue stores a fresh code of kind for the account, replacing any live code of the
// same kind. Codes of other kinds are not touched.
func (s *VerificationCodeService) Issue(ctx context.Context, kind models.CodeKind, accountID string, payload models.CodePayload) (*models.VerificationCode, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("issue code: unknown kind %q", kind)
	}

	code := &models.VerificationCode{
		CodeBase: models.CodeBase{AccountID: accountID},
		Kind:     kind,
	}
	if addr, err := netip.ParseAddr(payload.IPAddress); err == nil {
		ip := addr.Unmap().String()
		code.IPAddress = &ip
	}
	if payload.Email != "" {
		email := payload.Email
		code.Email = &email
	}

	var lastErr error
	for attempt := 1; attempt <= maxCodeAttempts; attempt++ {
		value, err := s.generate()
		if err != nil {
			return nil, fmt.Errorf("generate code: %w", err)
		}
		code.Code = value
		code.CreatedAt = s.now().UTC()

		stored, err := s.repo.Replace(ctx, code)
		if err == nil {
			s.logger.Debug("verification code issued",
				slog.String("kind", kind.String()),
				slog.String("account_id", accountID),
				pkglogger.CodeAttr("code", stored.Code))
			return stored, nil
		}
		if !errors.Is(err, models.ErrCodeCollision) {
			return nil, fmt.Errorf("store %s code: %w", kind, err)
		}

		lastErr = err
		s.logger.Warn("verification code collision, retrying",
			slog.String("kind", kind.String()),
			slog.Int("attempt", attempt))
	}

	return nil, fmt.Errorf("store %s code after %d attempts: %w", kind, maxCodeAttempts, lastErr)
}

// Lookup returns the stored code without checking expiry
func (s *VerificationCodeService) Lookup(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error) {
	if code == "" {
		return nil, models.ErrNotFound
	}
	return s.repo.Get(ctx, kind, code)
}

// IsExpired applies the calendar-day expiry policy for the code's kind
func (s *VerificationCodeService) IsExpired(code *models.VerificationCode) bool {
	return code.IsExpired(s.now(), s.expiry.Days(code.Kind))
}

// Peek returns a live code without consuming it. An expired code is deleted
// and reported as not found.
func (s *VerificationCodeService) Peek(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error) {
	found, err := s.Lookup(ctx, kind, code)
	if err != nil {
		return nil, err
	}

	if s.IsExpired(found) {
		if err := s.repo.Delete(ctx, kind, found.Code); err != nil {
			return nil, fmt.Errorf("delete expired %s code: %w", kind, err)
		}
		s.logger.Info("expired verification code deleted",
			slog.String("kind", kind.String()),
			slog.String("account_id", found.AccountID),
			pkglogger.CodeAttr("code", found.Code))
		return nil, models.ErrNotFound
	}

	return found, nil
}

// Consume atomically deletes the code and returns it if it was still valid.
// Of several concurrent callers with the same code only one gets it.
func (s *VerificationCodeService) Consume(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error) {
	if code == "" {
		return nil, models.ErrNotFound
	}

	taken, err := s.repo.Take(ctx, kind, code)
	if err != nil {
		return nil, err
	}

	// already deleted by Take. Inside a transaction the caller has to commit
	// even on this error for the expired row to stay gone.
	if s.IsExpired(taken) {
		s.logger.Info("expired verification code consumed",
			slog.String("kind", kind.String()),
			slog.String("account_id", taken.AccountID),
			pkglogger.CodeAttr("code", taken.Code))
		return nil, models.ErrNotFound
	}

	return taken, nil
}

// Discard deletes a code regardless of its state
func (s *VerificationCodeService) Discard(ctx context.Context, kind models.CodeKind, code string) error {
	return s.repo.Delete(ctx, kind, code)
}

// Invalidate deletes every live code of kind for the account
func (s *VerificationCodeService) Invalidate(ctx context.Context, kind models.CodeKind, accountID string) error {
	n, err := s.repo.DeleteByAccount(ctx, kind, accountID)
	if err != nil {
		return fmt.Errorf("invalidate %s codes: %w", kind, err)
	}
	if n > 0 {
		s.logger.Debug("verification codes invalidated",
			slog.String("kind", kind.String()),
			slog.String("account_id", accountID),
			slog.Int64("count", n))
	}
	return nil
}

// SweepExpired deletes every expired code and returns how many were removed.
// A code is expired once its UTC creation date is more than the window before today,
// so everything created before midnight UTC of (today - window) goes.
func (s *VerificationCodeService) SweepExpired(ctx context.Context) (int64, error) {
	y, m, d := s.now().UTC().Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var total int64
	var errs []error
	for _, kind := range models.CodeKinds {
		cutoff := today.AddDate(0, 0, -s.expiry.Days(kind))
		n, err := s.repo.DeleteCreatedBefore(ctx, kind, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %s codes: %w", kind, err))
			continue
		}
		total += n
	}
	return total, errors.Join(errs...)
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/authemail/internal/models"
	"github.com/BradenHooton/authemail/pkg/useragent"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"
)

// DefaultFingerprintCacheSize bounds the in-process fingerprint cache
const DefaultFingerprintCacheSize = 4096

// resolveTimeout bounds one shared lookup-or-insert
const resolveTimeout = 5 * time.Second

// UserAgentRegistry maps raw User-Agent strings to shared DeviceFingerprint records.
// Records are keyed by the SHA-256 of the full raw string and cached per process.
// It always writes through its own repository, never a caller's transaction, so a
// rolled-back request cannot leave a cached fingerprint that was never stored.
type UserAgentRegistry struct {
	repo   UserAgentRepository
	parser useragent.Parser
	cache  *lru.Cache
	group  singleflight.Group
	logger *slog.Logger
}

func NewUserAgentRegistry(repo UserAgentRepository, parser useragent.Parser, cacheSize int, logger *slog.Logger) (*UserAgentRegistry, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultFingerprintCacheSize
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create fingerprint cache: %w", err)
	}

	return &UserAgentRegistry{
		repo:   repo,
		parser: parser,
		cache:  cache,
		logger: logger,
	}, nil
}

// GetOrCreate returns the fingerprint for raw, inserting and parsing it on first sighting.
// Concurrent first sightings in this process share one lookup; across processes the
// unique identifier constraint collapses them to one row.
func (r *UserAgentRegistry) GetOrCreate(ctx context.Context, raw string) (*models.DeviceFingerprint, error) {
	if raw == "" {
		return nil, errors.New("empty user agent")
	}

	identifier := useragent.Hash(raw)
	if cached, ok := r.cache.Get(identifier); ok {
		return cached.(*models.DeviceFingerprint), nil
	}

	v, err, _ := r.group.Do(identifier, func() (any, error) {
		// shared by every waiter, so one caller's cancellation must not fail the others
		sharedCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolveTimeout)
		defer cancel()
		f, err := r.resolve(sharedCtx, identifier, raw)
		if err != nil {
			return nil, err
		}
		r.cache.Add(identifier, f)
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.DeviceFingerprint), nil
}

func (r *UserAgentRegistry) resolve(ctx context.Context, identifier, raw string) (*models.DeviceFingerprint, error) {
	existing, err := r.repo.GetByIdentifier(ctx, identifier)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("lookup user agent: %w", err)
	}

	f, inserted, err := r.repo.InsertIfAbsent(ctx, identifier, useragent.Truncate(raw, models.MaxUserAgentLength))
	if err != nil {
		return nil, fmt.Errorf("insert user agent: %w", err)
	}
	if !inserted {
		// another writer won the race
		f, err = r.repo.GetByIdentifier(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("reload user agent: %w", err)
		}
		return f, nil
	}

	return r.enrich(ctx, f, raw), nil
}

// enrich parses raw and stores the result. Failures leave f unparsed.
func (r *UserAgentRegistry) enrich(ctx context.Context, f *models.DeviceFingerprint, raw string) *models.DeviceFingerprint {
	parsed := r.parser.Parse(raw)
	if parsed == (useragent.Result{}) {
		return f
	}

	candidate := *f
	candidate.BrowserFamily = parsed.BrowserFamily
	candidate.BrowserVersion = parsed.BrowserVersion
	candidate.OSFamily = parsed.OSFamily
	candidate.OSVersion = parsed.OSVersion
	candidate.DeviceBrand = parsed.DeviceBrand
	candidate.DeviceFamily = parsed.DeviceFamily
	candidate.DeviceModel = parsed.DeviceModel

	updated, err := r.repo.UpdateParsed(ctx, &candidate)
	if err != nil {
		r.logger.Warn("failed to store parsed user agent",
			slog.Int64("user_agent_id", f.ID),
			slog.Any("error", err))
		return f
	}
	return updated
}

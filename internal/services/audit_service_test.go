package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/BradenHooton/authemail/internal/models"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	pkglogger "github.com/BradenHooton/authemail/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditService_Record(t *testing.T) {
	var persisted *models.AuditEntry
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
			persisted = entry
			out := *entry
			out.ID = 42
			return &out, nil
		},
	}
	var buf bytes.Buffer
	auditLogger := pkglogger.NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	svc := NewAuditService(repo, &MockFingerprintResolver{}, auditLogger, discardLogger())

	entry, err := svc.Record(context.Background(), "acc-1", models.AuditEventLogin,
		pkghttp.RequestMeta{IPAddress: "2001:db8::1", UserAgent: testUA})

	require.NoError(t, err)
	assert.Equal(t, int64(42), entry.ID)
	require.NotNil(t, persisted.IPAddress)
	assert.Equal(t, "2001:db8::1", *persisted.IPAddress)
	require.NotNil(t, persisted.FingerprintID)
	require.NotNil(t, entry.Fingerprint)
	assert.Contains(t, buf.String(), `"event_type":"login"`)
}

func TestAuditService_Record_OptionalFields(t *testing.T) {
	var persisted *models.AuditEntry
	resolver := &MockFingerprintResolver{
		GetOrCreateFunc: func(ctx context.Context, raw string) (*models.DeviceFingerprint, error) {
			t.Fatal("resolver must not be called without a user agent")
			return nil, nil
		},
	}
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
			persisted = entry
			return entry, nil
		},
	}
	svc := NewAuditService(repo, resolver, nil, discardLogger())

	_, err := svc.Record(context.Background(), "acc-1", models.AuditEventPasswordUpdated, pkghttp.RequestMeta{IPAddress: "not-an-ip"})

	require.NoError(t, err)
	assert.Nil(t, persisted.IPAddress)
	assert.Nil(t, persisted.FingerprintID)
}

func TestAuditService_Record_ResolverFailureDropsFingerprint(t *testing.T) {
	resolver := &MockFingerprintResolver{
		GetOrCreateFunc: func(ctx context.Context, raw string) (*models.DeviceFingerprint, error) {
			return nil, errors.New("db down")
		},
	}
	svc := NewAuditService(&MockAuditLogRepository{}, resolver, nil, discardLogger())

	entry, err := svc.Record(context.Background(), "acc-1", models.AuditEventLogin, testMeta)

	require.NoError(t, err)
	assert.Nil(t, entry.FingerprintID)
}

func TestAuditService_Record_PersistFailure(t *testing.T) {
	repo := &MockAuditLogRepository{
		CreateFunc: func(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
			return nil, errors.New("disk full")
		},
	}
	svc := NewAuditService(repo, &MockFingerprintResolver{}, nil, discardLogger())

	_, err := svc.Record(context.Background(), "acc-1", models.AuditEventLogin, testMeta)
	assert.Error(t, err)

	_, err = svc.Record(context.Background(), "acc-1", models.AuditEventType("unknown"), testMeta)
	assert.Error(t, err)
}

func TestAuditService_MostRecent(t *testing.T) {
	svc := NewAuditService(&MockAuditLogRepository{}, nil, nil, discardLogger())

	entry, err := svc.MostRecent(context.Background(), "acc-1", models.AuditEventAccountSignup)

	assert.NoError(t, err)
	assert.Nil(t, entry)
}

func TestAuditService_List(t *testing.T) {
	var gotLimit int
	repo := &MockAuditLogRepository{
		ListByAccountFunc: func(ctx context.Context, accountID string, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error) {
			gotLimit = limit
			return []*models.AuditEntry{}, nil
		},
	}
	svc := NewAuditService(repo, nil, nil, discardLogger())

	_, err := svc.List(context.Background(), "acc-1", nil, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, gotLimit)

	_, err = svc.List(context.Background(), "acc-1", nil, 500, 0)
	require.NoError(t, err)
	assert.Equal(t, 50, gotLimit)

	_, err = svc.List(context.Background(), "acc-1", []models.AuditEventType{"bogus"}, 10, 0)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestAuditTrail_NewestFirstWithFingerprint(t *testing.T) {
	h := newAccountHarness(t, verifyingOptions())
	ctx := context.Background()
	account := putAccount(t, h, "a@co.com", true, true)

	for i := 0; i < 3; i++ {
		_, _, err := h.svc.Login(ctx, "a@co.com", testPassword, testMeta)
		require.NoError(t, err)
	}
	require.NoError(t, h.svc.PasswordChange(ctx, account, "a-brand-new-secret", testMeta))

	entries, err := h.svc.AuditTrail(ctx, account, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 4)
	assert.Equal(t, models.AuditEventPasswordUpdated, entries[0].EventType)
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i-1].ID, entries[i].ID)
	}
	require.NotNil(t, entries[0].Fingerprint)
	assert.Equal(t, 1, h.store.agents.insertCount(), "one fingerprint shared by every entry")

	logins, err := h.svc.AuditTrail(ctx, account, []models.AuditEventType{models.AuditEventLogin}, 2, 0)
	require.NoError(t, err)
	assert.Len(t, logins, 2)
}

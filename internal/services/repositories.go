package services

import (
	"context"
	"time"

	"github.com/BradenHooton/authemail/internal/database"
	"github.com/BradenHooton/authemail/internal/models"
	"github.com/jackc/pgx/v5"
)

// AccountRepository defines account persistence
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	Update(ctx context.Context, account *models.Account) (*models.Account, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	RotateTokenKey(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
}

// VerificationCodeRepository stores codes of every kind, at most one per (account, kind)
type VerificationCodeRepository interface {
	Replace(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error)
	Get(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error)
	GetByAccount(ctx context.Context, kind models.CodeKind, accountID string) (*models.VerificationCode, error)
	Take(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error)
	Delete(ctx context.Context, kind models.CodeKind, code string) error
	DeleteByAccount(ctx context.Context, kind models.CodeKind, accountID string) (int64, error)
	DeleteCreatedBefore(ctx context.Context, kind models.CodeKind, cutoff time.Time) (int64, error)
}

// AuditLogRepository appends and reads audit entries
type AuditLogRepository interface {
	Create(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error)
	MostRecent(ctx context.Context, accountID string, eventType models.AuditEventType) (*models.AuditEntry, error)
	ListByAccount(ctx context.Context, accountID string, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error)
}

// UserAgentRepository persists device fingerprints
type UserAgentRepository interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.DeviceFingerprint, error)
	InsertIfAbsent(ctx context.Context, identifier, userAgent string) (*models.DeviceFingerprint, bool, error)
	UpdateParsed(ctx context.Context, f *models.DeviceFingerprint) (*models.DeviceFingerprint, error)
}

// Repos is the set of repositories bound to one connection or transaction
type Repos struct {
	Accounts AccountRepository
	Codes    VerificationCodeRepository
	Audit    AuditLogRepository
}

// TxManager runs fn with repositories bound to a single transaction.
// fn's error rolls the transaction back.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(Repos) error) error
}

// RepoFactory builds Repos over a pool or a transaction
type RepoFactory func(db database.DBTX) Repos

// PgTxManager implements TxManager on a pgx pool
type PgTxManager struct {
	db    *database.DB
	build RepoFactory
}

func NewPgTxManager(db *database.DB, build RepoFactory) *PgTxManager {
	return &PgTxManager{db: db, build: build}
}

func (m *PgTxManager) WithinTx(ctx context.Context, fn func(Repos) error) error {
	return m.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(m.build(tx))
	})
}

package repositories

import (
	"context"
	"errors"

	"github.com/BradenHooton/authemail/internal/database"
	"github.com/BradenHooton/authemail/internal/models"
)

const userAgentColumns = `id, identifier, user_agent, browser_family, browser_version,
	os_family, os_version, device_brand, device_family, device_model, created_at`

type UserAgentRepository struct {
	db database.DBTX
}

func NewUserAgentRepository(db database.DBTX) *UserAgentRepository {
	return &UserAgentRepository{db: db}
}

func scanUserAgentRow(row rowScanner) (*models.DeviceFingerprint, error) {
	var f models.DeviceFingerprint

	err := row.Scan(
		&f.ID, &f.Identifier, &f.UserAgent, &f.BrowserFamily, &f.BrowserVersion,
		&f.OSFamily, &f.OSVersion, &f.DeviceBrand, &f.DeviceFamily, &f.DeviceModel,
		&f.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &f, nil
}

func (r *UserAgentRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + userAgentColumns + ` FROM user_agents WHERE identifier = $1`
	return scanUserAgentRow(r.db.QueryRow(ctx, query, identifier))
}

// InsertIfAbsent inserts a minimal record for identifier. When another writer got there
// first it returns (nil, false, nil) and the caller should read the existing row.
func (r *UserAgentRepository) InsertIfAbsent(ctx context.Context, identifier, userAgent string) (*models.DeviceFingerprint, bool, error) {
	query := `
		INSERT INTO user_agents (identifier, user_agent)
		VALUES ($1, $2)
		ON CONFLICT (identifier) DO NOTHING
		RETURNING ` + userAgentColumns

	f, err := scanUserAgentRow(r.db.QueryRow(ctx, query, identifier, userAgent))
	if errors.Is(err, models.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return f, true, nil
}

// UpdateParsed stores the parsed fields of f. Rows that were already enriched are left alone.
func (r *UserAgentRepository) UpdateParsed(ctx context.Context, f *models.DeviceFingerprint) (*models.DeviceFingerprint, error) {
	query := `
		UPDATE user_agents
		SET browser_family = $2, browser_version = $3, os_family = $4, os_version = $5,
		    device_brand = $6, device_family = $7, device_model = $8
		WHERE id = $1 AND browser_family IS NULL AND os_family IS NULL AND device_family IS NULL
		RETURNING ` + userAgentColumns

	updated, err := scanUserAgentRow(r.db.QueryRow(ctx, query,
		f.ID, f.BrowserFamily, f.BrowserVersion, f.OSFamily, f.OSVersion,
		f.DeviceBrand, f.DeviceFamily, f.DeviceModel,
	))
	if errors.Is(err, models.ErrNotFound) {
		// already enriched
		return r.getByID(ctx, f.ID)
	}
	return updated, err
}

func (r *UserAgentRepository) getByID(ctx context.Context, id int64) (*models.DeviceFingerprint, error) {
	query := `SELECT ` + userAgentColumns + ` FROM user_agents WHERE id = $1`
	return scanUserAgentRow(r.db.QueryRow(ctx, query, id))
}

package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/authemail/internal/database"
	"github.com/BradenHooton/authemail/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

const auditSelect = `
	SELECT l.id, l.account_id, l.event_type, host(l.ip_address), l.user_agent_id, l.created_at,
	       u.id, u.identifier, u.user_agent, u.browser_family, u.browser_version,
	       u.os_family, u.os_version, u.device_brand, u.device_family, u.device_model, u.created_at
	FROM audit_log l
	LEFT JOIN user_agents u ON u.id = l.user_agent_id`

// AuditLogRepository handles audit log data access. Entries are append-only.
type AuditLogRepository struct {
	db database.DBTX
}

func NewAuditLogRepository(db database.DBTX) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// scanAuditRow scans an entry and its optional joined fingerprint
func scanAuditRow(row rowScanner) (*models.AuditEntry, error) {
	var e models.AuditEntry
	var eventType string
	var ua struct {
		ID         *int64
		Identifier *string
		UserAgent  *string
	}
	var f models.DeviceFingerprint
	var uaCreated *time.Time

	err := row.Scan(
		&e.ID, &e.AccountID, &eventType, &e.IPAddress, &e.FingerprintID, &e.CreatedAt,
		&ua.ID, &ua.Identifier, &ua.UserAgent, &f.BrowserFamily, &f.BrowserVersion,
		&f.OSFamily, &f.OSVersion, &f.DeviceBrand, &f.DeviceFamily, &f.DeviceModel, &uaCreated,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	e.EventType = models.AuditEventType(eventType)
	if ua.ID != nil {
		f.ID = *ua.ID
		f.Identifier = deref(ua.Identifier)
		f.UserAgent = deref(ua.UserAgent)
		if uaCreated != nil {
			f.CreatedAt = *uaCreated
		}
		e.Fingerprint = &f
	}
	return &e, nil
}

func scanAuditRows(rows pgx.Rows) ([]*models.AuditEntry, error) {
	defer rows.Close()

	entries := make([]*models.AuditEntry, 0)
	for rows.Next() {
		e, err := scanAuditRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit rows: %w", err)
	}
	return entries, nil
}

// Create appends an entry. The fingerprint is referenced by FingerprintID only.
func (r *AuditLogRepository) Create(ctx context.Context, entry *models.AuditEntry) (*models.AuditEntry, error) {
	query := `
		INSERT INTO audit_log (account_id, event_type, ip_address, user_agent_id)
		VALUES ($1, $2, NULLIF($3::text, '')::inet, $4)
		RETURNING id, created_at`

	out := *entry
	err := r.db.QueryRow(ctx, query,
		entry.AccountID, string(entry.EventType), entry.IPAddress, entry.FingerprintID,
	).Scan(&out.ID, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create audit entry: %w", database.MapPostgresError(err))
	}
	return &out, nil
}

// MostRecent returns the latest entry of eventType for the account.
// Ties on created_at resolve to the most recently inserted row.
func (r *AuditLogRepository) MostRecent(ctx context.Context, accountID string, eventType models.AuditEventType) (*models.AuditEntry, error) {
	query := auditSelect + `
	WHERE l.account_id = $1 AND l.event_type = $2
	ORDER BY l.created_at DESC, l.id DESC
	LIMIT 1`

	return scanAuditRow(r.db.QueryRow(ctx, query, accountID, string(eventType)))
}

// ListByAccount returns the account's entries newest first, optionally filtered by event types.
func (r *AuditLogRepository) ListByAccount(ctx context.Context, accountID string, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error) {
	filter := make([]string, 0, len(types))
	for _, t := range types {
		filter = append(filter, string(t))
	}

	query := auditSelect + `
	WHERE l.account_id = $1
	  AND (cardinality($2::text[]) = 0 OR l.event_type = ANY($2::text[]))
	ORDER BY l.created_at DESC, l.id DESC
	LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, accountID, pq.Array(filter), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	return scanAuditRows(rows)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

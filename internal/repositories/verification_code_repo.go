package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/authemail/internal/database"
	"github.com/BradenHooton/authemail/internal/models"
)

// CodePrimaryKey names the constraint violated when a generated code already exists.
const CodePrimaryKey = "verification_codes_pkey"

const codeColumns = `code, kind, account_id, host(ip_address), email, created_at`

// VerificationCodeRepository stores all code kinds in one table keyed by code,
// with at most one row per (account_id, kind).
type VerificationCodeRepository struct {
	db database.DBTX
}

func NewVerificationCodeRepository(db database.DBTX) *VerificationCodeRepository {
	return &VerificationCodeRepository{db: db}
}

func scanCodeRow(row rowScanner) (*models.VerificationCode, error) {
	var c models.VerificationCode
	var kind string

	err := row.Scan(&c.Code, &kind, &c.AccountID, &c.IPAddress, &c.Email, &c.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	if c.Kind, err = models.ParseCodeKind(kind); err != nil {
		return nil, err
	}
	return &c, nil
}

// Replace stores code as the only live code of its kind for its account.
// Any previous code of the same kind for that account is overwritten in the same statement.
// A collision on the code value itself yields models.ErrCodeCollision.
func (r *VerificationCodeRepository) Replace(ctx context.Context, code *models.VerificationCode) (*models.VerificationCode, error) {
	query := `
		INSERT INTO verification_codes (code, kind, account_id, ip_address, email, created_at)
		VALUES ($1, $2, $3, NULLIF($4::text, '')::inet, NULLIF($5::text, ''), $6)
		ON CONFLICT (account_id, kind) DO UPDATE
		SET code = EXCLUDED.code,
		    ip_address = EXCLUDED.ip_address,
		    email = EXCLUDED.email,
		    created_at = EXCLUDED.created_at
		RETURNING ` + codeColumns

	payload := code.Payload()
	stored, err := scanCodeRow(r.db.QueryRow(ctx, query,
		code.Code, code.Kind.String(), code.AccountID,
		payload.IPAddress, payload.Email, code.CreatedAt.UTC(),
	))
	if database.IsUniqueViolation(err, CodePrimaryKey) {
		return nil, fmt.Errorf("%w: %w", models.ErrCodeCollision, err)
	}
	return stored, err
}

func (r *VerificationCodeRepository) Get(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error) {
	query := `SELECT ` + codeColumns + ` FROM verification_codes WHERE code = $1 AND kind = $2`
	return scanCodeRow(r.db.QueryRow(ctx, query, code, kind.String()))
}

// GetByAccount returns the live code of kind for an account.
func (r *VerificationCodeRepository) GetByAccount(ctx context.Context, kind models.CodeKind, accountID string) (*models.VerificationCode, error) {
	query := `SELECT ` + codeColumns + ` FROM verification_codes WHERE account_id = $1 AND kind = $2`
	return scanCodeRow(r.db.QueryRow(ctx, query, accountID, kind.String()))
}

// Take deletes the code and returns what was deleted. Exactly one concurrent caller
// can take a given code; the rest get models.ErrNotFound.
func (r *VerificationCodeRepository) Take(ctx context.Context, kind models.CodeKind, code string) (*models.VerificationCode, error) {
	query := `DELETE FROM verification_codes WHERE code = $1 AND kind = $2 RETURNING ` + codeColumns
	return scanCodeRow(r.db.QueryRow(ctx, query, code, kind.String()))
}

func (r *VerificationCodeRepository) Delete(ctx context.Context, kind models.CodeKind, code string) error {
	_, err := r.db.Exec(ctx, `DELETE FROM verification_codes WHERE code = $1 AND kind = $2`, code, kind.String())
	return database.MapPostgresError(err)
}

func (r *VerificationCodeRepository) DeleteByAccount(ctx context.Context, kind models.CodeKind, accountID string) (int64, error) {
	result, err := r.db.Exec(ctx,
		`DELETE FROM verification_codes WHERE account_id = $1 AND kind = $2`,
		accountID, kind.String(),
	)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

// DeleteCreatedBefore removes codes of kind created strictly before cutoff.
func (r *VerificationCodeRepository) DeleteCreatedBefore(ctx context.Context, kind models.CodeKind, cutoff time.Time) (int64, error) {
	result, err := r.db.Exec(ctx,
		`DELETE FROM verification_codes WHERE kind = $1 AND created_at < $2`,
		kind.String(), cutoff.UTC(),
	)
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

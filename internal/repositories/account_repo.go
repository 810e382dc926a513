package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/authemail/internal/database"
	"github.com/BradenHooton/authemail/internal/models"
	"github.com/BradenHooton/authemail/pkg/auth"
	"github.com/google/uuid"
)

const accountColumns = `id, email, password_hash, first_name, last_name,
	is_active, is_staff, is_superuser, is_verified, token_key, created_at, last_login`

type AccountRepository struct {
	db database.DBTX
}

func NewAccountRepository(db database.DBTX) *AccountRepository {
	return &AccountRepository{db: db}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var a models.Account

	err := scanner.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FirstName, &a.LastName,
		&a.IsActive, &a.IsStaff, &a.IsSuperuser, &a.IsVerified, &a.TokenKey,
		&a.CreatedAt, &a.LastLogin,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &a, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, models.ErrNotFound
	}

	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.db.QueryRow(ctx, query, id))
}

// GetByEmail matches case-insensitively
func (r *AccountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE lower(email) = $1`
	return scanAccountRow(r.db.QueryRow(ctx, query, models.NormalizeEmail(email)))
}

// Create inserts a new account, assigning its id, token key and creation time.
// A duplicate email yields models.ErrConflict.
func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate token key: %w", err)
	}

	query := `
		INSERT INTO accounts (id, email, password_hash, first_name, last_name,
			is_active, is_staff, is_superuser, is_verified, token_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.QueryRow(ctx, query,
		uuid.New().String(), models.NormalizeEmail(account.Email), account.PasswordHash,
		account.FirstName, account.LastName,
		account.IsActive, account.IsStaff, account.IsSuperuser, account.IsVerified,
		tokenKey, time.Now().UTC(),
	))
}

// Update writes the mutable profile and state fields of account.
func (r *AccountRepository) Update(ctx context.Context, account *models.Account) (*models.Account, error) {
	query := `
		UPDATE accounts SET email = $1, password_hash = $2, first_name = $3, last_name = $4,
			is_active = $5, is_staff = $6, is_superuser = $7, is_verified = $8
		WHERE id = $9
		RETURNING ` + accountColumns

	return scanAccountRow(r.db.QueryRow(ctx, query,
		models.NormalizeEmail(account.Email), account.PasswordHash, account.FirstName, account.LastName,
		account.IsActive, account.IsStaff, account.IsSuperuser, account.IsVerified,
		account.ID,
	))
}

func (r *AccountRepository) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.Exec(ctx, `UPDATE accounts SET last_login = $1 WHERE id = $2`, at.UTC(), id)
	if err != nil {
		return database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RotateTokenKey replaces the account's token key, invalidating every token signed with the old one.
func (r *AccountRepository) RotateTokenKey(ctx context.Context, id string) (string, error) {
	tokenKey, err := auth.GenerateTokenKey()
	if err != nil {
		return "", fmt.Errorf("failed to generate token key: %w", err)
	}

	result, err := r.db.Exec(ctx, `UPDATE accounts SET token_key = $1 WHERE id = $2`, tokenKey, id)
	if err != nil {
		return "", database.MapPostgresError(err)
	}
	if result.RowsAffected() == 0 {
		return "", models.ErrNotFound
	}
	return tokenKey, nil
}

func (r *AccountRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	if err != nil {
		return database.MapPostgresError(err)
	}

	if result.RowsAffected() == 0 {
		return models.ErrNotFound
	}

	return nil
}

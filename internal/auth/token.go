package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BradenHooton/authemail/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccountFetcher loads the account a token was issued to
type AccountFetcher interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
}

// TokenManager issues and validates bearer tokens.
// Tokens are signed with the global secret followed by the account's token key,
// so rotating the key revokes every token issued to that account.
type TokenManager struct {
	secret   string
	expiry   time.Duration
	accounts AccountFetcher
	now      func() time.Time
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret string, expiry time.Duration, accounts AccountFetcher) *TokenManager {
	return &TokenManager{
		secret:   secret,
		expiry:   expiry,
		accounts: accounts,
		now:      time.Now,
	}
}

func (tm *TokenManager) signingKey(account *models.Account) []byte {
	return []byte(tm.secret + account.TokenKey)
}

// Issue creates a token for account
func (tm *TokenManager) Issue(account *models.Account) (string, error) {
	now := tm.now()
	claims := &models.TokenClaims{
		Type:      models.TokenTypeAccess,
		AccountID: account.ID,
		Email:     account.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   account.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(tm.expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.signingKey(account))
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, nil
}

// Validate verifies tokenString and returns its claims together with the current account.
// Unknown, inactive and rotated-key accounts all yield models.ErrUnauthorized.
func (tm *TokenManager) Validate(ctx context.Context, tokenString string) (*models.TokenClaims, *models.Account, error) {
	var account *models.Account
	var lookupErr error
	claims := &models.TokenClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		c, ok := token.Claims.(*models.TokenClaims)
		if !ok || c.AccountID == "" {
			return nil, errors.New("missing account id")
		}

		account, lookupErr = tm.accounts.GetByID(ctx, c.AccountID)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return tm.signingKey(account), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(tm.now),
	)
	if lookupErr != nil && !errors.Is(lookupErr, models.ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to load token account: %w", lookupErr)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", models.ErrUnauthorized, err)
	}

	if !token.Valid || claims.Type != models.TokenTypeAccess {
		return nil, nil, models.ErrUnauthorized
	}
	if !account.IsActive {
		return nil, nil, fmt.Errorf("%w: account inactive", models.ErrUnauthorized)
	}

	return claims, account, nil
}

package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/authemail/internal/models"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
)

// contextKey is a custom type for context keys
type contextKey string

const (
	claimsContextKey  contextKey = "claims"
	accountContextKey contextKey = "account"
)

// TokenValidator is implemented by TokenManager
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (*models.TokenClaims, *models.Account, error)
}

// AuthMiddleware requires a valid bearer token and injects its claims and account into the context
func AuthMiddleware(tv TokenValidator, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, ok := bearerToken(r)
			if !ok {
				pkghttp.WriteUnauthorized(w, "Authentication credentials were not provided.")
				return
			}

			claims, account, err := tv.Validate(r.Context(), tokenString)
			if err != nil {
				if !errors.Is(err, models.ErrUnauthorized) {
					logger.Error("token validation failed", slog.Any("error", err))
					pkghttp.WriteInternalError(w, "internal server error")
					return
				}
				pkghttp.WriteUnauthorized(w, "Invalid token.")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			ctx = context.WithValue(ctx, accountContextKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireStaff allows only staff accounts. Must run after AuthMiddleware.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := AccountFromContext(r.Context())
		if account == nil {
			pkghttp.WriteUnauthorized(w, "Authentication credentials were not provided.")
			return
		}
		if !account.IsStaff && !account.IsSuperuser {
			pkghttp.WriteForbidden(w, "You do not have permission to perform this action.")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// bearerToken accepts both "Bearer" and "Token" schemes
func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	scheme := strings.ToLower(parts[0])
	if scheme != "bearer" && scheme != "token" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// ClaimsFromContext extracts token claims from the context
func ClaimsFromContext(ctx context.Context) *models.TokenClaims {
	claims, _ := ctx.Value(claimsContextKey).(*models.TokenClaims)
	return claims
}

// AccountFromContext returns the authenticated account, or nil
func AccountFromContext(ctx context.Context) *models.Account {
	account, _ := ctx.Value(accountContextKey).(*models.Account)
	return account
}

// WithAccount returns a context carrying account, as AuthMiddleware would set it
func WithAccount(ctx context.Context, account *models.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

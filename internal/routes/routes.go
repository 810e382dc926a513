package routes

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/authemail/internal/auth"
	"github.com/BradenHooton/authemail/internal/handlers"
	"github.com/BradenHooton/authemail/internal/middleware"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	"github.com/go-chi/chi/v5"
)

// HealthChecker reports whether the database is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps holds everything the route table needs
type Deps struct {
	Accounts       *handlers.AccountHandler
	Admin          *handlers.AdminHandler
	Tokens         auth.TokenValidator
	Health         HealthChecker
	LoginRateLimit middleware.RateLimitConfig
	EmailRateLimit middleware.RateLimitConfig
	Logger         *slog.Logger
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Deps) {
	router.Get("/health", healthHandler(deps.Health))

	authenticate := auth.AuthMiddleware(deps.Tokens, deps.Logger)

	router.Route("/api/accounts", func(r chi.Router) {
		// Public routes - no authentication required
		r.Post("/signup/", deps.Accounts.Signup)
		r.Get("/signup/verify/", deps.Accounts.SignupVerify)
		r.Post("/signup/verify/", deps.Accounts.SignupVerify)
		r.With(
			middleware.RateLimitByIP(deps.LoginRateLimit),
			middleware.RateLimitByEmail(deps.EmailRateLimit),
		).Post("/login/", deps.Accounts.Login)
		r.With(middleware.RateLimitByEmail(deps.EmailRateLimit)).Post("/password/reset/", deps.Accounts.PasswordReset)
		r.Get("/password/reset/verify/", deps.Accounts.PasswordResetVerify)
		r.Post("/password/reset/verified/", deps.Accounts.PasswordResetVerified)
		r.Get("/email/change/verify/", deps.Accounts.EmailChangeVerify)

		// Protected routes - bearer token required
		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/logout/", deps.Accounts.Logout)
			r.Post("/password/change/", deps.Accounts.PasswordChange)
			r.Post("/email/change/", deps.Accounts.EmailChange)
			r.Get("/users/me/", deps.Accounts.UserMe)
			r.Get("/users/me/audit/", deps.Accounts.AuditTrail)
		})
	})

	// Staff-only routes
	router.Route("/api/admin", func(r chi.Router) {
		r.Use(authenticate)
		r.Use(auth.RequireStaff)
		r.Post("/accounts/{id}/verify/", deps.Admin.VerifyAccount)
		r.Get("/ip/{ip}", deps.Admin.LookupIP)
	})
}

// healthHandler reports database reachability
func healthHandler(db HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	}
}

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/BradenHooton/authemail/internal/models"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// AdminServiceInterface defines the staff-only account operations
type AdminServiceInterface interface {
	VerifyAccount(ctx context.Context, id string) (*models.Account, error)
}

// AdminHandler handles /api/admin endpoints. Routes must be behind auth.RequireStaff.
type AdminHandler struct {
	service AdminServiceInterface
	locator Locator
	logger  *slog.Logger
}

func NewAdminHandler(service AdminServiceInterface, locator Locator, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, locator: locator, logger: logger}
}

// AdminAccountResponse includes the account state flags
type AdminAccountResponse struct {
	AccountResponse
	IsActive    bool `json:"is_active"`
	IsVerified  bool `json:"is_verified"`
	IsStaff     bool `json:"is_staff"`
	IsSuperuser bool `json:"is_superuser"`
}

// IPLocationResponse is the geo lookup result for one address
type IPLocationResponse struct {
	IP          string `json:"ip"`
	CountryCode string `json:"country_code"`
	Country     string `json:"country"`
	Region      string `json:"region"`
	City        string `json:"city"`
	Found       bool   `json:"found"`
}

// VerifyAccount marks an account verified
// @Summary Verify account (staff)
// @Param id path string true "Account ID"
// @Produce json
// @Success 200 {object} AdminAccountResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /api/admin/accounts/{id}/verify/ [post]
func (h *AdminHandler) VerifyAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		pkghttp.WriteValidationFailed(w, "id: must be a valid UUID")
		return
	}

	account, err := h.service.VerifyAccount(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, AdminAccountResponse{
		AccountResponse: toAccountResponse(account),
		IsActive:        account.IsActive,
		IsVerified:      account.IsVerified,
		IsStaff:         account.IsStaff,
		IsSuperuser:     account.IsSuperuser,
	})
}

// LookupIP resolves an address against the geoip dataset
// @Summary Geo lookup (staff)
// @Param ip path string true "IPv4 or IPv6 address"
// @Produce json
// @Success 200 {object} IPLocationResponse
// @Router /api/admin/ip/{ip} [get]
func (h *AdminHandler) LookupIP(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if _, err := netip.ParseAddr(ip); err != nil {
		pkghttp.WriteValidationFailed(w, "ip: must be a valid IP address")
		return
	}
	if h.locator == nil {
		pkghttp.WriteNotFound(w, "GeoIP lookups are not configured.")
		return
	}

	loc, err := h.locator.Lookup(r.Context(), ip)
	if err != nil {
		h.logger.Error("geoip lookup failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, IPLocationResponse{
		IP:          ip,
		CountryCode: loc.CountryCode,
		Country:     loc.Country,
		Region:      loc.Region,
		City:        loc.City,
		Found:       loc.Found,
	})
}

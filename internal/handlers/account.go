package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/authemail/internal/auth"
	"github.com/BradenHooton/authemail/internal/geoip"
	"github.com/BradenHooton/authemail/internal/models"
	"github.com/BradenHooton/authemail/internal/services"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
)

// AccountServiceInterface defines the account lifecycle operations used by the HTTP layer
type AccountServiceInterface interface {
	Signup(ctx context.Context, in services.SignupInput, meta pkghttp.RequestMeta) (*models.Account, error)
	SignupVerify(ctx context.Context, code string, meta pkghttp.RequestMeta) (*models.Account, string, error)
	Login(ctx context.Context, email, password string, meta pkghttp.RequestMeta) (*models.Account, string, error)
	Logout(ctx context.Context, account *models.Account) error
	PasswordResetRequest(ctx context.Context, email string, meta pkghttp.RequestMeta) error
	PasswordResetVerify(ctx context.Context, code string) error
	PasswordResetVerified(ctx context.Context, code, password string, meta pkghttp.RequestMeta) error
	PasswordChange(ctx context.Context, account *models.Account, password string, meta pkghttp.RequestMeta) error
	EmailChangeRequest(ctx context.Context, account *models.Account, currentPassword, newEmail string, meta pkghttp.RequestMeta) error
	EmailChangeVerify(ctx context.Context, code string, meta pkghttp.RequestMeta) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	AuditTrail(ctx context.Context, account *models.Account, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error)
}

// Locator resolves an IP address to a coarse location
type Locator interface {
	Lookup(ctx context.Context, ip string) (geoip.Location, error)
}

// AccountHandlerConfig carries the request policy knobs
type AccountHandlerConfig struct {
	MinPasswordLength int
	WorkEmailOnly     bool
}

// AccountHandler handles the /api/accounts endpoints
type AccountHandler struct {
	service  AccountServiceInterface
	locator  Locator
	ipConfig *pkghttp.IPConfig
	cfg      AccountHandlerConfig
	logger   *slog.Logger
}

// NewAccountHandler creates a new AccountHandler. locator may be nil.
func NewAccountHandler(service AccountServiceInterface, locator Locator, ipConfig *pkghttp.IPConfig, cfg AccountHandlerConfig, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		service:  service,
		locator:  locator,
		ipConfig: ipConfig,
		cfg:      cfg,
		logger:   logger,
	}
}

// Request DTOs

// SignupRequest represents the request body for signup. Password is optional.
type SignupRequest struct {
	Email     string `json:"email" validate:"required,email,max=255"`
	Password  string `json:"password" validate:"omitempty,max=72"`
	FirstName string `json:"first_name" validate:"max=30"`
	LastName  string `json:"last_name" validate:"max=30"`
}

// CodeRequest carries a verification code
type CodeRequest struct {
	Code string `json:"code" validate:"required,max=40"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,max=128"`
}

// PasswordResetRequest represents the request body for a password reset
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email,max=255"`
}

// PasswordResetVerifiedRequest sets a new password with a reset code
type PasswordResetVerifiedRequest struct {
	Code     string `json:"code" validate:"required,max=40"`
	Password string `json:"password" validate:"required,max=72"`
}

// PasswordChangeRequest changes the password of the authenticated account
type PasswordChangeRequest struct {
	Password string `json:"password" validate:"required,max=72"`
}

// EmailChangeRequest starts an email change for the authenticated account
type EmailChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=128"`
	Email           string `json:"email" validate:"required,email,max=255"`
}

// Response DTOs

// AccountResponse is the public view of an account
type AccountResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// TokenResponse carries a bearer token
type TokenResponse struct {
	Token string `json:"token"`
}

// SignupVerifyResponse is returned when a signup code is accepted
type SignupVerifyResponse struct {
	Success string `json:"success"`
	Token   string `json:"token"`
}

// EmailResponse echoes the submitted address
type EmailResponse struct {
	Email string `json:"email"`
}

// UserAgentResponse is the parsed device fingerprint of an audit entry
type UserAgentResponse struct {
	UserAgent      string  `json:"user_agent"`
	BrowserFamily  *string `json:"browser_family"`
	BrowserVersion *string `json:"browser_version"`
	OSFamily       *string `json:"os_family"`
	OSVersion      *string `json:"os_version"`
	DeviceBrand    *string `json:"device_brand"`
	DeviceFamily   *string `json:"device_family"`
	DeviceModel    *string `json:"device_model"`
}

// AuditEntryResponse is one entry of the account's audit trail
type AuditEntryResponse struct {
	ID        int64              `json:"id"`
	EventType string             `json:"event_type"`
	IPAddress *string            `json:"ip_address"`
	CreatedAt time.Time          `json:"created_at"`
	UserAgent *UserAgentResponse `json:"user_agent,omitempty"`
	Location  *geoip.Location    `json:"location,omitempty"`
}

func toAccountResponse(a *models.Account) AccountResponse {
	return AccountResponse{
		ID:        a.ID,
		Email:     a.Email,
		FirstName: a.FirstName,
		LastName:  a.LastName,
	}
}

// Signup handles account signup
// @Summary Sign up with email
// @Accept json
// @Param request body SignupRequest true "Signup request"
// @Produce json
// @Success 201 {object} AccountResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /api/accounts/signup/ [post]
func (h *AccountHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := h.validateSignup(req); err != nil {
		h.writeError(w, err)
		return
	}

	account, err := h.service.Signup(r.Context(), services.SignupInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	}, pkghttp.MetaFromRequest(r, h.ipConfig))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *AccountHandler) validateSignup(req SignupRequest) error {
	if err := ValidateRequest(req); err != nil {
		return err
	}
	if err := checkPasswordLength("password", req.Password, h.cfg.MinPasswordLength); err != nil {
		return err
	}
	if h.cfg.WorkEmailOnly {
		return checkWorkEmail(req.Email)
	}
	return nil
}

// SignupVerify accepts a signup code from the emailed link (GET ?code=) or a JSON body (POST)
// @Summary Verify signup code
// @Produce json
// @Success 200 {object} SignupVerifyResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /api/accounts/signup/verify/ [get]
func (h *AccountHandler) SignupVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	_, token, err := h.service.SignupVerify(r.Context(), req.Code, pkghttp.MetaFromRequest(r, h.ipConfig))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, SignupVerifyResponse{Success: "User verified.", Token: token})
}

// Login handles email and password login
// @Summary Login
// @Accept json
// @Param request body LoginRequest true "Login request"
// @Produce json
// @Success 200 {object} TokenResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /api/accounts/login/ [post]
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}

	_, token, err := h.service.Login(r.Context(), req.Email, req.Password, pkghttp.MetaFromRequest(r, h.ipConfig))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, TokenResponse{Token: token})
}

// Logout revokes every token issued to the authenticated account
// @Summary Logout
// @Produce json
// @Success 200 {object} pkghttp.SuccessResponse
// @Router /api/accounts/logout/ [get]
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	if err := h.service.Logout(r.Context(), account); err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteSuccess(w, http.StatusOK, "User logged out.")
}

// PasswordReset starts a password reset. The response is identical whether or not the address is registered.
// @Summary Request password reset
// @Accept json
// @Param request body PasswordResetRequest true "Password reset request"
// @Produce json
// @Success 201 {object} EmailResponse
// @Router /api/accounts/password/reset/ [post]
func (h *AccountHandler) PasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.service.PasswordResetRequest(r.Context(), req.Email, pkghttp.MetaFromRequest(r, h.ipConfig)); err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, EmailResponse{Email: req.Email})
}

// PasswordResetVerify checks a reset code without consuming it
// @Summary Check password reset code
// @Produce json
// @Success 200 {object} pkghttp.SuccessResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /api/accounts/password/reset/verify/ [get]
func (h *AccountHandler) PasswordResetVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	if err := h.service.PasswordResetVerify(r.Context(), req.Code); err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteSuccess(w, http.StatusOK, "Email address verified.")
}

// PasswordResetVerified sets a new password with a reset code
// @Summary Complete password reset
// @Accept json
// @Param request body PasswordResetVerifiedRequest true "New password"
// @Produce json
// @Success 200 {object} pkghttp.SuccessResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /api/accounts/password/reset/verified/ [post]
func (h *AccountHandler) PasswordResetVerified(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetVerifiedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := checkPasswordLength("password", req.Password, h.cfg.MinPasswordLength); err != nil {
		h.writeError(w, err)
		return
	}

	if err := h.service.PasswordResetVerified(r.Context(), req.Code, req.Password, pkghttp.MetaFromRequest(r, h.ipConfig)); err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteSuccess(w, http.StatusOK, "Password reset.")
}

// PasswordChange changes the password of the authenticated account
// @Summary Change password
// @Accept json
// @Param request body PasswordChangeRequest true "Password change"
// @Produce json
// @Success 200 {object} pkghttp.SuccessResponse
// @Router /api/accounts/password/change/ [post]
func (h *AccountHandler) PasswordChange(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	var req PasswordChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}
	if err := checkPasswordLength("password", req.Password, h.cfg.MinPasswordLength); err != nil {
		h.writeError(w, err)
		return
	}

	err := h.service.PasswordChange(r.Context(), account, req.Password, pkghttp.MetaFromRequest(r, h.ipConfig))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteSuccess(w, http.StatusOK, "Password changed.")
}

// EmailChange requests a new email address for the authenticated account
// @Summary Request email change
// @Accept json
// @Param request body EmailChangeRequest true "Email change"
// @Produce json
// @Success 201 {object} EmailResponse
// @Router /api/accounts/email/change/ [post]
func (h *AccountHandler) EmailChange(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	var req EmailChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		h.writeError(w, err)
		return
	}

	err := h.service.EmailChangeRequest(r.Context(), account, req.CurrentPassword, req.Email, pkghttp.MetaFromRequest(r, h.ipConfig))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, EmailResponse{Email: req.Email})
}

// EmailChangeVerify applies a confirmed email change
// @Summary Confirm email change
// @Produce json
// @Success 200 {object} pkghttp.SuccessResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Router /api/accounts/email/change/verify/ [get]
func (h *AccountHandler) EmailChangeVerify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCode(w, r)
	if !ok {
		return
	}

	if err := h.service.EmailChangeVerify(r.Context(), req.Code, pkghttp.MetaFromRequest(r, h.ipConfig)); err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteSuccess(w, http.StatusOK, "Email address changed.")
}

// UserMe returns the authenticated account
// @Summary Current account
// @Produce json
// @Success 200 {object} AccountResponse
// @Router /api/accounts/users/me/ [get]
func (h *AccountHandler) UserMe(w http.ResponseWriter, r *http.Request) {
	current, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	account, err := h.service.GetAccount(r.Context(), current.ID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

// AuditTrail lists the authenticated account's audit entries, newest first
// @Summary Own audit trail
// @Param types query string false "Comma-separated event types"
// @Param limit query int false "Page size"
// @Param offset query int false "Offset"
// @Produce json
// @Success 200 {array} AuditEntryResponse
// @Router /api/accounts/users/me/audit/ [get]
func (h *AccountHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	account, ok := h.currentAccount(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	var types []models.AuditEventType
	for _, t := range strings.Split(query.Get("types"), ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, models.AuditEventType(t))
		}
	}
	limit, err := queryInt(query.Get("limit"), "limit")
	if err != nil {
		h.writeError(w, err)
		return
	}
	offset, err := queryInt(query.Get("offset"), "offset")
	if err != nil {
		h.writeError(w, err)
		return
	}

	entries, err := h.service.AuditTrail(r.Context(), account, types, limit, offset)
	if err != nil {
		h.writeError(w, err)
		return
	}

	out := make([]AuditEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, h.toAuditEntryResponse(r.Context(), e))
	}
	pkghttp.WriteJSON(w, http.StatusOK, out)
}

func (h *AccountHandler) toAuditEntryResponse(ctx context.Context, e *models.AuditEntry) AuditEntryResponse {
	resp := AuditEntryResponse{
		ID:        e.ID,
		EventType: string(e.EventType),
		IPAddress: e.IPAddress,
		CreatedAt: e.CreatedAt,
	}
	if f := e.Fingerprint; f != nil {
		resp.UserAgent = &UserAgentResponse{
			UserAgent:      f.UserAgent,
			BrowserFamily:  f.BrowserFamily,
			BrowserVersion: f.BrowserVersion,
			OSFamily:       f.OSFamily,
			OSVersion:      f.OSVersion,
			DeviceBrand:    f.DeviceBrand,
			DeviceFamily:   f.DeviceFamily,
			DeviceModel:    f.DeviceModel,
		}
	}
	if h.locator != nil && e.IPAddress != nil {
		loc, err := h.locator.Lookup(ctx, *e.IPAddress)
		if err != nil {
			h.logger.Warn("geoip lookup failed", slog.Any("error", err))
		} else {
			resp.Location = &loc
		}
	}
	return resp
}

// decodeCode reads the code from the query string, or from a JSON body on POST
func (h *AccountHandler) decodeCode(w http.ResponseWriter, r *http.Request) (CodeRequest, bool) {
	var req CodeRequest
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			pkghttp.WriteBadRequest(w, "Invalid request body")
			return req, false
		}
	} else {
		req.Code = r.URL.Query().Get("code")
	}
	if err := ValidateRequest(req); err != nil {
		h.writeError(w, err)
		return req, false
	}
	return req, true
}

func (h *AccountHandler) currentAccount(w http.ResponseWriter, r *http.Request) (*models.Account, bool) {
	account := auth.AccountFromContext(r.Context())
	if account == nil {
		pkghttp.WriteUnauthorized(w, "Authentication credentials were not provided.")
		return nil, false
	}
	return account, true
}

func queryInt(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &models.ValidationError{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}

// writeError maps service errors onto HTTP responses
func (h *AccountHandler) writeError(w http.ResponseWriter, err error) {
	writeServiceError(w, h.logger, err)
}

func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var ve *models.ValidationError
	switch {
	case errors.As(err, &ve):
		pkghttp.WriteValidationFailed(w, ve.Error())
	case errors.Is(err, models.ErrValidation):
		pkghttp.WriteValidationFailed(w, err.Error())
	case errors.Is(err, models.ErrVerificationFailed):
		pkghttp.WriteVerificationFailed(w, "Unable to verify user.")
	case errors.Is(err, models.ErrCodeCollision):
		logger.Error("verification code collision", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	case errors.Is(err, models.ErrConflict):
		pkghttp.WriteConflict(w, "Email address already taken.")
	case errors.Is(err, models.ErrAccountNotVerified):
		pkghttp.WriteUnauthorized(w, "User account not verified.")
	case errors.Is(err, models.ErrAccountNotActive):
		pkghttp.WriteUnauthorized(w, "User account not active.")
	case errors.Is(err, models.ErrUnauthorized):
		pkghttp.WriteUnauthorized(w, "Unable to login with provided credentials.")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "You do not have permission to perform this action.")
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Not found.")
	default:
		logger.Error("request failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}

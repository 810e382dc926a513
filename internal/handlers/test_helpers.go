package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/authemail/internal/auth"
	"github.com/BradenHooton/authemail/internal/geoip"
	"github.com/BradenHooton/authemail/internal/models"
	"github.com/BradenHooton/authemail/internal/services"
	pkghttp "github.com/BradenHooton/authemail/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext puts account into the request context as AuthMiddleware would
func WithAuthContext(req *http.Request, account *models.Account) *http.Request {
	return req.WithContext(auth.WithAccount(req.Context(), account))
}

// WithChiRouteContext adds chi URL parameters to request context for testing
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks the error code and message of an error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError, expectedMessage string) {
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	if expectedMessage != "" {
		assert.Equal(t, expectedMessage, resp.Message, "Error message mismatch")
	} else {
		assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	}
}

// MockAccountService implements AccountServiceInterface and AdminServiceInterface for testing
type MockAccountService struct {
	SignupFunc                func(ctx context.Context, in services.SignupInput, meta pkghttp.RequestMeta) (*models.Account, error)
	SignupVerifyFunc          func(ctx context.Context, code string, meta pkghttp.RequestMeta) (*models.Account, string, error)
	LoginFunc                 func(ctx context.Context, email, password string, meta pkghttp.RequestMeta) (*models.Account, string, error)
	LogoutFunc                func(ctx context.Context, account *models.Account) error
	PasswordResetRequestFunc  func(ctx context.Context, email string, meta pkghttp.RequestMeta) error
	PasswordResetVerifyFunc   func(ctx context.Context, code string) error
	PasswordResetVerifiedFunc func(ctx context.Context, code, password string, meta pkghttp.RequestMeta) error
	PasswordChangeFunc        func(ctx context.Context, account *models.Account, password string, meta pkghttp.RequestMeta) error
	EmailChangeRequestFunc    func(ctx context.Context, account *models.Account, currentPassword, newEmail string, meta pkghttp.RequestMeta) error
	EmailChangeVerifyFunc     func(ctx context.Context, code string, meta pkghttp.RequestMeta) error
	GetAccountFunc            func(ctx context.Context, id string) (*models.Account, error)
	AuditTrailFunc            func(ctx context.Context, account *models.Account, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error)
	VerifyAccountFunc         func(ctx context.Context, id string) (*models.Account, error)
}

func (m *MockAccountService) Signup(ctx context.Context, in services.SignupInput, meta pkghttp.RequestMeta) (*models.Account, error) {
	if m.SignupFunc == nil {
		return &models.Account{ID: "acc-1", Email: in.Email, FirstName: in.FirstName, LastName: in.LastName}, nil
	}
	return m.SignupFunc(ctx, in, meta)
}

func (m *MockAccountService) SignupVerify(ctx context.Context, code string, meta pkghttp.RequestMeta) (*models.Account, string, error) {
	if m.SignupVerifyFunc == nil {
		return nil, "", models.ErrVerificationFailed
	}
	return m.SignupVerifyFunc(ctx, code, meta)
}

func (m *MockAccountService) Login(ctx context.Context, email, password string, meta pkghttp.RequestMeta) (*models.Account, string, error) {
	if m.LoginFunc == nil {
		return nil, "", models.ErrInvalidCredentials
	}
	return m.LoginFunc(ctx, email, password, meta)
}

func (m *MockAccountService) Logout(ctx context.Context, account *models.Account) error {
	if m.LogoutFunc == nil {
		return nil
	}
	return m.LogoutFunc(ctx, account)
}

func (m *MockAccountService) PasswordResetRequest(ctx context.Context, email string, meta pkghttp.RequestMeta) error {
	if m.PasswordResetRequestFunc == nil {
		return nil
	}
	return m.PasswordResetRequestFunc(ctx, email, meta)
}

func (m *MockAccountService) PasswordResetVerify(ctx context.Context, code string) error {
	if m.PasswordResetVerifyFunc == nil {
		return models.ErrVerificationFailed
	}
	return m.PasswordResetVerifyFunc(ctx, code)
}

func (m *MockAccountService) PasswordResetVerified(ctx context.Context, code, password string, meta pkghttp.RequestMeta) error {
	if m.PasswordResetVerifiedFunc == nil {
		return models.ErrVerificationFailed
	}
	return m.PasswordResetVerifiedFunc(ctx, code, password, meta)
}

func (m *MockAccountService) PasswordChange(ctx context.Context, account *models.Account, password string, meta pkghttp.RequestMeta) error {
	if m.PasswordChangeFunc == nil {
		return nil
	}
	return m.PasswordChangeFunc(ctx, account, password, meta)
}

func (m *MockAccountService) EmailChangeRequest(ctx context.Context, account *models.Account, currentPassword, newEmail string, meta pkghttp.RequestMeta) error {
	if m.EmailChangeRequestFunc == nil {
		return nil
	}
	return m.EmailChangeRequestFunc(ctx, account, currentPassword, newEmail, meta)
}

func (m *MockAccountService) EmailChangeVerify(ctx context.Context, code string, meta pkghttp.RequestMeta) error {
	if m.EmailChangeVerifyFunc == nil {
		return models.ErrVerificationFailed
	}
	return m.EmailChangeVerifyFunc(ctx, code, meta)
}

func (m *MockAccountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	if m.GetAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.GetAccountFunc(ctx, id)
}

func (m *MockAccountService) AuditTrail(ctx context.Context, account *models.Account, types []models.AuditEventType, limit, offset int) ([]*models.AuditEntry, error) {
	if m.AuditTrailFunc == nil {
		return []*models.AuditEntry{}, nil
	}
	return m.AuditTrailFunc(ctx, account, types, limit, offset)
}

func (m *MockAccountService) VerifyAccount(ctx context.Context, id string) (*models.Account, error) {
	if m.VerifyAccountFunc == nil {
		return nil, models.ErrNotFound
	}
	return m.VerifyAccountFunc(ctx, id)
}

// MockLocator implements Locator for testing
type MockLocator struct {
	LookupFunc func(ctx context.Context, ip string) (geoip.Location, error)
}

func (m *MockLocator) Lookup(ctx context.Context, ip string) (geoip.Location, error) {
	if m.LookupFunc == nil {
		return geoip.NotFound, nil
	}
	return m.LookupFunc(ctx, ip)
}

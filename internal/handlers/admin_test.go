package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/authemail/internal/geoip"
	"github.com/BradenHooton/authemail/internal/handlers"
	"github.com/BradenHooton/authemail/internal/models"
	"github.com/stretchr/testify/assert"
)

const accountID = "8c5d3f7e-9a0b-4c1d-8e2f-3a4b5c6d7e8f"

func TestAdminVerifyAccount(t *testing.T) {
	svc := &handlers.MockAccountService{
		VerifyAccountFunc: func(ctx context.Context, id string) (*models.Account, error) {
			return &models.Account{ID: id, Email: "a@co.com", IsActive: true, IsVerified: true}, nil
		},
	}
	h := handlers.NewAdminHandler(svc, nil, discardLogger())

	req := handlers.WithChiRouteContext(httptest.NewRequest("POST", "/api/admin/accounts/"+accountID+"/verify/", nil),
		map[string]string{"id": accountID})
	w := httptest.NewRecorder()
	h.VerifyAccount(w, req)

	var resp handlers.AdminAccountResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, accountID, resp.ID)
	assert.True(t, resp.IsVerified)
	assert.False(t, resp.IsStaff)
}

func TestAdminVerifyAccount_Errors(t *testing.T) {
	h := handlers.NewAdminHandler(&handlers.MockAccountService{}, nil, discardLogger())

	w := httptest.NewRecorder()
	h.VerifyAccount(w, handlers.WithChiRouteContext(httptest.NewRequest("POST", "/", nil), map[string]string{"id": "nope"}))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed", "")

	w = httptest.NewRecorder()
	h.VerifyAccount(w, handlers.WithChiRouteContext(httptest.NewRequest("POST", "/", nil), map[string]string{"id": accountID}))
	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found", "")
}

func TestAdminLookupIP(t *testing.T) {
	locator := &handlers.MockLocator{
		LookupFunc: func(ctx context.Context, ip string) (geoip.Location, error) {
			if ip == "2001:db8::1" {
				return geoip.Location{CountryCode: "ZZ", Country: "Documentation", Region: "Test", City: "Net", Found: true}, nil
			}
			return geoip.NotFound, nil
		},
	}
	h := handlers.NewAdminHandler(&handlers.MockAccountService{}, locator, discardLogger())

	w := httptest.NewRecorder()
	h.LookupIP(w, handlers.WithChiRouteContext(httptest.NewRequest("GET", "/", nil), map[string]string{"ip": "2001:db8::1"}))
	var resp handlers.IPLocationResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Found)
	assert.Equal(t, "ZZ", resp.CountryCode)

	w = httptest.NewRecorder()
	h.LookupIP(w, handlers.WithChiRouteContext(httptest.NewRequest("GET", "/", nil), map[string]string{"ip": "198.51.100.1"}))
	resp = handlers.IPLocationResponse{}
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.False(t, resp.Found)
	assert.Equal(t, "Unknown", resp.City)

	w = httptest.NewRecorder()
	h.LookupIP(w, handlers.WithChiRouteContext(httptest.NewRequest("GET", "/", nil), map[string]string{"ip": "999.1.1.1"}))
	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed", "")
}

func TestAdminLookupIP_Unavailable(t *testing.T) {
	w := httptest.NewRecorder()
	handlers.NewAdminHandler(&handlers.MockAccountService{}, nil, discardLogger()).
		LookupIP(w, handlers.WithChiRouteContext(httptest.NewRequest("GET", "/", nil), map[string]string{"ip": "192.0.2.1"}))
	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found", "")

	locator := &handlers.MockLocator{
		LookupFunc: func(ctx context.Context, ip string) (geoip.Location, error) {
			return geoip.NotFound, errors.New("dataset missing")
		},
	}
	w = httptest.NewRecorder()
	handlers.NewAdminHandler(&handlers.MockAccountService{}, locator, discardLogger()).
		LookupIP(w, handlers.WithChiRouteContext(httptest.NewRequest("GET", "/", nil), map[string]string{"ip": "192.0.2.1"}))
	handlers.AssertErrorResponse(t, w, http.StatusInternalServerError, "internal_error", "")
}

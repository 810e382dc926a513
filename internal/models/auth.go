package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeAccess is the only bearer token type issued.
const TokenTypeAccess = "access"

type TokenClaims struct {
	Type      string `json:"type"`
	AccountID string `json:"account_id"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

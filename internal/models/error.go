package models

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	ErrValidation         = errors.New("validation failed")
	ErrVerificationFailed = errors.New("verification failed")
	ErrEmailTaken         = fmt.Errorf("%w: email address already taken", ErrConflict)

	// ErrCodeCollision means a newly generated verification code already exists
	ErrCodeCollision = fmt.Errorf("%w: verification code collision", ErrConflict)

	// Login failure causes, all of which are ErrUnauthorized
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	ErrAccountNotVerified = fmt.Errorf("%w: account not verified", ErrUnauthorized)
	ErrAccountNotActive   = fmt.Errorf("%w: account not active", ErrUnauthorized)
)

// ValidationError carries a caller-facing reason for rejected input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

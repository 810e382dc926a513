package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BradenHooton/authemail/internal/models"
	"github.com/go-playground/validator/v10"
)

// Global validator instance (reused across all handlers)
var validate = validator.New()

// ValidateRequest validates a request struct using go-playground/validator.
// The first failing field is reported as a *models.ValidationError.
func ValidateRequest(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) && len(ve) > 0 {
			return &models.ValidationError{
				Field:   jsonFieldName(ve[0]),
				Message: formatValidationError(ve[0]),
			}
		}
		return &models.ValidationError{Message: err.Error()}
	}
	return nil
}

// jsonFieldName maps the Go field name to its snake_case wire name
func jsonFieldName(fe validator.FieldError) string {
	switch fe.Field() {
	case "FirstName":
		return "first_name"
	case "LastName":
		return "last_name"
	case "CurrentPassword":
		return "current_password"
	default:
		return strings.ToLower(fe.Field())
	}
}

// formatValidationError converts a validator FieldError to a user-friendly message
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must have a minimum of %s characters", fe.Param())
	case "max":
		return fmt.Sprintf("must have a maximum of %s characters", fe.Param())
	default:
		return fmt.Sprintf("failed validation: %s", fe.Tag())
	}
}

// checkPasswordLength applies the configurable lower bound the struct tags cannot express
func checkPasswordLength(field, password string, min int) error {
	if password == "" || min <= 0 || len(password) >= min {
		return nil
	}
	return &models.ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must have a minimum of %d characters", min),
	}
}

// checkWorkEmail rejects addresses at public webmail or disposable domains
func checkWorkEmail(email string) error {
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return nil
	}
	domain := strings.ToLower(strings.TrimSpace(email[at+1:]))
	if _, ok := publicEmailDomains[domain]; ok {
		return &models.ValidationError{Field: "email", Message: "Only work emails are allowed to sign up"}
	}
	if _, ok := burnerEmailDomains[domain]; ok {
		return &models.ValidationError{Field: "email", Message: "Only work emails are allowed to sign up"}
	}
	return nil
}

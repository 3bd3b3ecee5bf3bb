package session

import (
	"regexp"
	"sync"

	"github.com/go-playground/validator/v10"
)

var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// emailValidator accepts the same addresses as the hosted web client. The stock "email" tag
// is stricter and would reject addresses the service accepts.
func emailValidator(fl validator.FieldLevel) bool {
	return emailRegex.MatchString(fl.Field().String())
}

type createInput struct {
	Email string `validate:"required,sessionEmail"`
}

type verifyInput struct {
	OTP string `validate:"len=6"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// V returns the package validator.
func V() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterValidation("sessionEmail", emailValidator)
	})
	return validate
}

// ValidateEmail reports whether email is acceptable for session creation.
func ValidateEmail(email string) error {
	if err := V().Struct(createInput{Email: email}); err != nil {
		return ErrInvalidEmail
	}
	return nil
}

// ValidateOTP reports whether code has the length of a one-time code. Content is checked by
// the service.
func ValidateOTP(code string) error {
	if err := V().Struct(verifyInput{OTP: code}); err != nil {
		return ErrInvalidOTP
	}
	return nil
}

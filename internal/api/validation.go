package api

import (
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

var (
	phonePattern = regexp.MustCompile(`^[0-9]{11}$`)
	emailPattern = regexp.MustCompile(`(?i)^[A-Z0-9._%+-]+@[A-Z0-9.-]+\.[A-Z]{2,}$`)

	phoneRules = []validation.Rule{validation.Required, validation.Match(phonePattern)}
	emailRules = []validation.Rule{validation.Required, validation.Match(emailPattern)}
)

// IsValidPhoneNumber reports whether phone is exactly 11 ASCII digits.
func IsValidPhoneNumber(phone string) bool {
	return validation.Validate(phone, phoneRules...) == nil
}

// IsValidEmail reports whether email looks like local@domain.tld.
func IsValidEmail(email string) bool {
	return validation.Validate(email, emailRules...) == nil
}

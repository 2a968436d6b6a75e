package api

import (
	"github.com/gofiber/fiber/v2"
)

const contactInfoKey = "contact_info"

// Guard messages returned with 400.
const (
	MsgMissingContactData = "Incorrect contact data"
	MsgInvalidPhone       = "Incorrect phone number"
	MsgInvalidEmail       = "Invalid email address"
)

// ValidateContactInfo rejects requests whose email or phone query parameter
// is missing or malformed before the handler runs.
func ValidateContactInfo() fiber.Handler {
	return func(c *fiber.Ctx) error {
		email := c.Query("email")
		phone := c.Query("phone")

		switch {
		case email == "" || phone == "":
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: MsgMissingContactData})
		case !IsValidPhoneNumber(phone):
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: MsgInvalidPhone})
		case !IsValidEmail(email):
			return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: MsgInvalidEmail})
		}

		c.Locals(contactInfoKey, ContactInfo{Email: email, Phone: phone})
		return c.Next()
	}
}

// ContactInfoFrom returns the guard-validated contact info, if any.
func ContactInfoFrom(c *fiber.Ctx) (ContactInfo, bool) {
	info, ok := c.Locals(contactInfoKey).(ContactInfo)
	return info, ok
}

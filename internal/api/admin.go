package api

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/keyauth"
)

// MsgUnauthorized is returned when the admin bearer token is missing or wrong.
const MsgUnauthorized = "Unauthorized"

// AdminAuth requires "Authorization: Bearer <token>" on the routes it guards.
func AdminAuth(token string) fiber.Handler {
	want := []byte(token)
	return keyauth.New(keyauth.Config{
		KeyLookup:  "header:" + fiber.HeaderAuthorization,
		AuthScheme: "Bearer",
		Validator: func(_ *fiber.Ctx, key string) (bool, error) {
			if subtle.ConstantTimeCompare([]byte(key), want) == 1 {
				return true, nil
			}
			return false, keyauth.ErrMissingOrMalformedAPIKey
		},
		ErrorHandler: func(c *fiber.Ctx, _ error) error {
			return c.Status(fiber.StatusUnauthorized).JSON(ErrorResponse{Error: MsgUnauthorized})
		},
	})
}

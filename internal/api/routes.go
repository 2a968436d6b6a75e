package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Checker-Finance/amocrm-adapter/internal/amocrm"
)

// StoreChecker is implemented by the Redis lock.
type StoreChecker interface {
	HealthCheck(ctx context.Context) error
}

// EventsChecker is implemented by the NATS publisher.
type EventsChecker interface {
	HealthCheck() error
}

// Health lists what /health reports on. Nil checkers are reported as "disabled".
type Health struct {
	Tokens TokenRefresher
	Store  StoreChecker
	Events EventsChecker
}

// RegisterRoutes mounts /metrics, /health and the /amo-crm group. A non-empty
// adminToken puts the token refresh route behind AdminAuth.
func RegisterRoutes(app *fiber.App, health Health, handler *AmoCRMHandler, adminToken string) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/health", func(c *fiber.Ctx) error {
		checks := map[string]string{
			"token": "ok",
			"redis": "disabled",
			"nats":  "disabled",
		}
		status := "ok"
		code := fiber.StatusOK
		degrade := func(name, reason string) {
			checks[name] = reason
			status = "degraded"
			code = fiber.StatusServiceUnavailable
		}

		if health.Tokens == nil {
			degrade("token", "not configured")
		} else if state, err := health.Tokens.State(); state != amocrm.StateReady {
			reason := string(state)
			if err != nil {
				reason += ": " + err.Error()
			}
			degrade("token", reason)
		}

		if health.Store != nil {
			healthCtx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := health.Store.HealthCheck(healthCtx); err != nil {
				degrade("redis", err.Error())
			} else {
				checks["redis"] = "ok"
			}
		}

		if health.Events != nil {
			if err := health.Events.HealthCheck(); err != nil {
				degrade("nats", err.Error())
			} else {
				checks["nats"] = "ok"
			}
		}

		return c.Status(code).JSON(HealthResponse{Status: status, Checks: checks})
	})

	crm := app.Group("/amo-crm")
	crm.Get("/create-lead", ValidateContactInfo(), handler.CreateLead)
	crm.Get("/find-contact", ValidateContactInfo(), handler.FindContact)
	crm.Get("/update-contact", ValidateContactInfo(), handler.UpdateContact)
	crm.Get("/create-contact", ValidateContactInfo(), handler.CreateContact)
	if adminToken != "" {
		crm.Post("/token/refresh", AdminAuth(adminToken), handler.RefreshToken)
	} else {
		crm.Post("/token/refresh", handler.RefreshToken)
	}
}

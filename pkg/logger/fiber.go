package logger

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDKey is the fiber Locals key holding the request correlation id.
const RequestIDKey = "request_id"

// FiberMiddleware logs one line per request and propagates X-Request-ID.
// Query strings carry contact PII (email, phone) and are not logged.
func FiberMiddleware(l *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := c.Get(fiber.HeaderXRequestID)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		c.Locals(RequestIDKey, reqID)
		c.Set(fiber.HeaderXRequestID, reqID)

		err := c.Next()

		status := c.Response().StatusCode()
		var fe *fiber.Error
		if err != nil {
			status = fiber.StatusInternalServerError
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", reqID),
		}
		switch {
		case status >= 500:
			l.Error("http.request", append(fields, zap.Error(err))...)
		case status >= 400:
			l.Warn("http.request", fields...)
		default:
			l.Info("http.request", fields...)
		}
		return err
	}
}

// RequestID returns the correlation id stored by FiberMiddleware, if any.
func RequestID(c *fiber.Ctx) string {
	if v, ok := c.Locals(RequestIDKey).(string); ok {
		return v
	}
	return ""
}

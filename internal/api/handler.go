package api

import (
	"context"
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/amocrm-adapter/internal/amocrm"
	"github.com/Checker-Finance/amocrm-adapter/pkg/logger"
	"github.com/Checker-Finance/amocrm-adapter/pkg/utils"
)

// MsgContactNotFound is returned by update-contact when nothing matches.
const MsgContactNotFound = "Contact not found"

// ContactService defines the contact and lead operations needed by the handler.
type ContactService interface {
	FindContact(ctx context.Context, email, phone string) (amocrm.Result, error)
	UpdateContact(ctx context.Context, in amocrm.ContactInput) (amocrm.Result, error)
	CreateContact(ctx context.Context, in amocrm.ContactInput) (amocrm.Result, error)
	CreateLead(ctx context.Context, in amocrm.ContactInput) (amocrm.Result, error)
}

// TokenRefresher exposes the token store to the HTTP surface.
type TokenRefresher interface {
	Refresh(ctx context.Context) error
	State() (amocrm.TokenState, error)
}

// AmoCRMHandler handles the /amo-crm endpoints.
type AmoCRMHandler struct {
	logger  *zap.Logger
	service ContactService
	tokens  TokenRefresher
}

// NewAmoCRMHandler creates a new AmoCRMHandler. tokens may be nil, which
// disables the refresh endpoint.
func NewAmoCRMHandler(logger *zap.Logger, service ContactService, tokens TokenRefresher) *AmoCRMHandler {
	return &AmoCRMHandler{
		logger:  logger,
		service: service,
		tokens:  tokens,
	}
}

// FindContact handles GET /amo-crm/find-contact.
func (h *AmoCRMHandler) FindContact(c *fiber.Ctx) error {
	info, _ := ContactInfoFrom(c)

	res, err := h.service.FindContact(c.UserContext(), info.Email, info.Phone)
	if err != nil {
		return h.fail(c, "amocrm.find_contact.failed", err)
	}
	return sendRaw(c, fiber.StatusOK, res.Body)
}

// UpdateContact handles GET /amo-crm/update-contact.
func (h *AmoCRMHandler) UpdateContact(c *fiber.Ctx) error {
	in, err := bindContact(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	res, err := h.service.UpdateContact(c.UserContext(), in)
	if err != nil {
		return h.fail(c, "amocrm.update_contact.failed", err)
	}
	if res.Outcome == amocrm.OutcomeNotFound {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: MsgContactNotFound})
	}
	return sendRaw(c, fiber.StatusOK, res.Body)
}

// CreateContact handles GET /amo-crm/create-contact.
func (h *AmoCRMHandler) CreateContact(c *fiber.Ctx) error {
	in, err := bindContact(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	res, err := h.service.CreateContact(c.UserContext(), in)
	if err != nil {
		return h.fail(c, "amocrm.create_contact.failed", err)
	}
	if res.Outcome == amocrm.OutcomeAlreadyExists {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{Error: amocrm.AlreadyExistsMessage})
	}
	return sendRaw(c, fiber.StatusCreated, res.Body)
}

// CreateLead handles GET /amo-crm/create-lead.
func (h *AmoCRMHandler) CreateLead(c *fiber.Ctx) error {
	in, err := bindContact(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: err.Error()})
	}

	res, err := h.service.CreateLead(c.UserContext(), in)
	if err != nil {
		return h.fail(c, "amocrm.create_lead.failed", err)
	}
	return sendRaw(c, fiber.StatusCreated, res.Body)
}

// RefreshToken handles POST /amo-crm/token/refresh.
func (h *AmoCRMHandler) RefreshToken(c *fiber.Ctx) error {
	if h.tokens == nil {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{Error: "token store not configured"})
	}
	if err := h.tokens.Refresh(c.UserContext()); err != nil {
		state, _ := h.tokens.State()
		h.logger.Error("amocrm.token_refresh.failed",
			zap.String("request_id", logger.RequestID(c)),
			zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(TokenResponse{
			Status: "error",
			State:  string(state),
			Error:  err.Error(),
		})
	}
	state, _ := h.tokens.State()
	return c.Status(fiber.StatusOK).JSON(TokenResponse{Status: "ok", State: string(state)})
}

func (h *AmoCRMHandler) fail(c *fiber.Ctx, event string, err error) error {
	kind := amocrm.KindOf(err)
	h.logger.Error(event,
		zap.String("request_id", logger.RequestID(c)),
		zap.String("kind", string(kind)),
		zap.String("email", utils.MaskEmail(c.Query("email"))),
		zap.String("phone", utils.MaskPhone(c.Query("phone"))),
		zap.Error(err))
	return c.Status(statusFor(kind)).JSON(ErrorResponse{Error: err.Error()})
}

// statusFor maps a service error kind to an HTTP status.
func statusFor(kind amocrm.ErrorKind) int {
	switch kind {
	case amocrm.KindAuthorization:
		return fiber.StatusServiceUnavailable
	case amocrm.KindRejected:
		return fiber.StatusUnprocessableEntity
	case amocrm.KindConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusBadGateway
	}
}

func bindContact(c *fiber.Ctx) (amocrm.ContactInput, error) {
	var q ContactQuery
	if err := c.QueryParser(&q); err != nil {
		return amocrm.ContactInput{}, err
	}
	return q.toInput(), nil
}

// sendRaw writes an amoCRM response body through unchanged.
func sendRaw(c *fiber.Ctx, status int, body json.RawMessage) error {
	if len(body) == 0 {
		body = json.RawMessage("null")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Status(status).Send(body)
}

package passkey

import (
	"encoding/json"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lgota-app/lgota_auth/internal/auth"
)

// Handler exposes the biometric enrollment and login endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler constructs a passkey HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type registerVerifyRequest struct {
	Response json.RawMessage `json:"response"`
}

type loginOptionsRequest struct {
	Phone string `json:"phone"`
}

type loginVerifyRequest struct {
	Phone    string          `json:"phone"`
	Response json.RawMessage `json:"response"`
}

// RegisterOptions returns credential creation options for the current user.
func (h *Handler) RegisterOptions(c *fiber.Ctx) error {
	opts, err := h.manager.RegistrationOptions(c.UserContext(), auth.UserID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(opts)
}

// RegisterVerify enrolls the attested credential.
func (h *Handler) RegisterVerify(c *fiber.Ctx) error {
	var req registerVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	cred, err := h.manager.VerifyRegistration(c.UserContext(), auth.UserID(c), req.Response)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"verified":     true,
		"credentialId": cred.ID,
	})
}

// LoginOptions returns assertion options for the account behind a phone.
func (h *Handler) LoginOptions(c *fiber.Ctx) error {
	var req loginOptionsRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	opts, err := h.manager.LoginOptions(c.UserContext(), req.Phone)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(opts)
}

// LoginVerify checks the assertion and returns a session.
func (h *Handler) LoginVerify(c *fiber.Ctx) error {
	var req loginVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	session, err := h.manager.VerifyLogin(c.UserContext(), req.Phone, req.Response)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(session)
}

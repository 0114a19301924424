package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// Handler exposes registration endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerResponse struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Register stages a registration and sends the verification code.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req RegisterInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	phone, err := h.service.Register(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(registerResponse{
		Phone:   phone,
		Message: "Verification code sent",
	})
}

type verifyRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

// VerifyPhone confirms the pending registration.
func (h *Handler) VerifyPhone(c *fiber.Ctx) error {
	var req verifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	user, err := h.service.VerifyPhone(c.UserContext(), req.Phone, req.Code)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{
		"message": "Phone verified successfully",
		"user":    NewSafeUser(user),
	})
}

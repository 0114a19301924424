package share

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lgota-app/lgota_auth/internal/auth"
)

// Handler exposes share-token endpoints.
type Handler struct {
	manager *Manager
}

// NewHandler constructs a share-token HTTP handler.
func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

type resolveRequest struct {
	Token string `json:"token"`
}

// Create issues a share token for the current user.
func (h *Handler) Create(c *fiber.Ctx) error {
	grant, err := h.manager.Create(c.UserContext(), auth.UserID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(grant)
}

// Resolve redeems a share token and returns the redacted profile.
func (h *Handler) Resolve(c *fiber.Ctx) error {
	var req resolveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	proj, err := h.manager.Redeem(c.UserContext(), req.Token)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(proj)
}

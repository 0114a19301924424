package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
)

// LocalUserID is the fiber.Ctx locals key holding the authenticated user id.
const LocalUserID = "user_id"

// UserID returns the authenticated user id stored by the JWT middleware.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(LocalUserID).(string)
	return id
}

// Handler exposes auth endpoints for login/refresh/logout/me.
type Handler struct {
	svc *Service
}

// NewHandler constructs an auth HTTP handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

// Login validates credentials and returns the user with a token pair.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	session, err := h.svc.Login(c.UserContext(), req.Phone, req.Password)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(session)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates the token pair.
func (h *Handler) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	session, err := h.svc.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(session)
}

// Logout is stateless: clients drop their tokens, which lapse on expiry.
func (h *Handler) Logout(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Logged out successfully"})
}

// Me returns the current user's redacted profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	user, err := h.svc.Me(c.UserContext(), UserID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(user)
}

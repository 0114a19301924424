package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lgota-app/lgota_auth/internal/auth"
	"github.com/lgota-app/lgota_auth/internal/identity"
	"github.com/lgota-app/lgota_auth/internal/passkey"
	"github.com/lgota-app/lgota_auth/internal/share"
)

// Handlers groups the HTTP handlers mounted under /auth.
type Handlers struct {
	Identity *identity.Handler
	Auth     *auth.Handler
	Passkey  *passkey.Handler
	Share    *share.Handler
}

// RegisterAuthRoutes wires authentication endpoints. requireAuth guards the
// routes that act on behalf of the signed-in user. idempotent is mounted on
// registration only: routes that redeem a single-use credential or mint
// tokens must never replay a stored response.
func RegisterAuthRoutes(r fiber.Router, h Handlers, requireAuth, idempotent fiber.Handler) {
	group := r.Group("/auth")

	group.Post("/register", idempotent, h.Identity.Register)
	group.Post("/verify-phone", h.Identity.VerifyPhone)
	group.Post("/login", h.Auth.Login)
	group.Post("/refresh", h.Auth.Refresh)
	group.Post("/logout", h.Auth.Logout)
	group.Get("/me", requireAuth, h.Auth.Me)

	webauthn := group.Group("/webauthn")
	webauthn.Get("/register/options", requireAuth, h.Passkey.RegisterOptions)
	webauthn.Post("/register/verify", requireAuth, h.Passkey.RegisterVerify)
	webauthn.Post("/login/options", h.Passkey.LoginOptions)
	webauthn.Post("/login/verify", h.Passkey.LoginVerify)

	group.Post("/share-token", requireAuth, h.Share.Create)
	group.Post("/share-token/resolve", h.Share.Resolve)
}

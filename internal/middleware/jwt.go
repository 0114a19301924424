package middleware

import (
	"errors"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/auth"
	"github.com/lgota-app/lgota_auth/internal/identity"
)

var (
	errMissingBearer  = apperr.New(apperr.CodeUnauthorized, apperr.KindUnauthorized, "Missing bearer token")
	errInvalidBearer  = apperr.New(apperr.CodeUnauthorized, apperr.KindUnauthorized, "Invalid or expired token")
	errAccountBlocked = apperr.New(apperr.CodeAccountForbidden, apperr.KindForbidden, "Account access is restricted")
)

// JWTAuth validates the bearer access token and re-reads the user on every
// request so status changes apply before the token expires.
func JWTAuth(issuer *auth.Issuer, users identity.Repository, logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return errMissingBearer
		}
		sub, err := issuer.ParseAccess(authz[len("Bearer "):])
		if err != nil {
			return errInvalidBearer
		}

		user, err := users.FindByID(c.UserContext(), sub)
		if err != nil {
			if errors.Is(err, identity.ErrUserNotFound) {
				return errInvalidBearer
			}
			logger.Error("resolve token subject", slog.String("user_id", sub), slog.Any("error", err))
			return apperr.Internal(err)
		}
		if user.Status != identity.StatusActive {
			return errAccountBlocked
		}

		c.Locals(auth.LocalUserID, user.ID)
		return c.Next()
	}
}

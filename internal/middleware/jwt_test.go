package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/auth"
	"github.com/lgota-app/lgota_auth/internal/identity"
	"github.com/lgota-app/lgota_auth/internal/logging"
)

const (
	activeID  = "0d5a3c1e-7f2b-4e6a-9c8d-1a2b3c4d5e6f"
	blockedID = "1e6b4d2f-8a3c-4f7b-8d9e-2b3c4d5e6f70"
	ghostID   = "3d8e6f4b-0c5e-4b9d-8f1a-4d5e6f708192"
)

func newJWTApp(t *testing.T) (*fiber.App, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Issuer:  "test",
		Access:  auth.KeyringFrom("k1", "access-secret", nil),
		Refresh: auth.KeyringFrom("k1", "refresh-secret", nil),
	})
	require.NoError(t, err)

	users := identity.NewMemoryRepository()
	identity.SeedUser(users, identity.User{ID: activeID, Phone: "79001234567", Status: identity.StatusActive})
	identity.SeedUser(users, identity.User{ID: blockedID, Phone: "79001234568", Status: identity.StatusBlocked})

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return c.Status(ErrorStatus(err)).SendString(string(apperr.CodeOf(err)))
		},
	})
	app.Get("/me", JWTAuth(issuer, users, logging.Discard()), func(c *fiber.Ctx) error {
		return c.SendString(auth.UserID(c))
	})
	return app, issuer
}

func call(t *testing.T, app *fiber.App, authz string) int {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, "/me", nil)
	if authz != "" {
		req.Header.Set(fiber.HeaderAuthorization, authz)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestJWTAuth(t *testing.T) {
	app, issuer := newJWTApp(t)

	pair := func(id string) auth.Pair {
		p, err := issuer.Issue(id)
		require.NoError(t, err)
		return p
	}

	require.Equal(t, fiber.StatusOK, call(t, app, "Bearer "+pair(activeID).AccessToken))
	require.Equal(t, fiber.StatusOK, call(t, app, "bearer "+pair(activeID).AccessToken))
	require.Equal(t, fiber.StatusUnauthorized, call(t, app, ""))
	require.Equal(t, fiber.StatusUnauthorized, call(t, app, "Basic abc"))
	require.Equal(t, fiber.StatusUnauthorized, call(t, app, "Bearer garbage"))
	require.Equal(t, fiber.StatusUnauthorized, call(t, app, "Bearer "+pair(activeID).RefreshToken))
	require.Equal(t, fiber.StatusUnauthorized, call(t, app, "Bearer "+pair(ghostID).AccessToken))
	require.Equal(t, fiber.StatusForbidden, call(t, app, "Bearer "+pair(blockedID).AccessToken))
}

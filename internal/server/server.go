package server

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/config"
	"github.com/lgota-app/lgota_auth/internal/middleware"
	"github.com/lgota-app/lgota_auth/internal/passkey"
	"github.com/lgota-app/lgota_auth/internal/routes"
)

// Server wraps the Fiber application and shared dependencies.
type Server struct {
	app *fiber.App
	cfg config.Config
}

// Option customises server construction.
type Option func(*routes.Deps)

// WithPasskeyProvider replaces the relying party built from configuration.
func WithPasskeyProvider(p passkey.Provider) Option {
	return func(d *routes.Deps) { d.Passkeys = p }
}

// New instantiates the HTTP server and delegates route wiring to routes.Setup.
func New(cfg config.Config, db *pgxpool.Pool, cache redis.UniversalClient, logger *slog.Logger, opts ...Option) (*Server, error) {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		ErrorHandler: errorHandler(logger),
	})

	deps := routes.Deps{Cfg: cfg, DB: db, Cache: cache, Logger: logger}
	for _, opt := range opts {
		opt(&deps)
	}
	if err := routes.Setup(app, deps); err != nil {
		return nil, err
	}

	return &Server{app: app, cfg: cfg}, nil
}

// App exposes the underlying Fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen starts the HTTP server.
func (s *Server) Listen() error {
	return s.app.Listen(s.cfg.Address())
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// errorHandler renders domain and transport errors as {"error", "code"}.
// Internal failures never expose their cause.
func errorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := middleware.ErrorStatus(err)

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(status).JSON(errorBody{Error: fe.Message, Code: statusCode(status)})
		}
		if apperr.KindOf(err) == apperr.KindInternal {
			logger.Error("internal error",
				slog.String("path", c.Path()),
				slog.String("request_id", middleware.RequestIDFrom(c)),
				slog.Any("error", err),
			)
		}
		return c.Status(status).JSON(errorBody{
			Error: apperr.PublicMessage(err),
			Code:  string(apperr.CodeOf(err)),
		})
	}
}

// statusCode turns an HTTP status into a code such as NOT_FOUND.
func statusCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return string(apperr.CodeValidation)
	case fiber.StatusUnauthorized:
		return string(apperr.CodeUnauthorized)
	}
	return strings.ToUpper(strings.ReplaceAll(utils.StatusMessage(status), " ", "_"))
}

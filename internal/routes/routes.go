package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/lgota-app/lgota_auth/internal/auth"
	"github.com/lgota-app/lgota_auth/internal/challenge"
	"github.com/lgota-app/lgota_auth/internal/config"
	"github.com/lgota-app/lgota_auth/internal/identity"
	"github.com/lgota-app/lgota_auth/internal/middleware"
	"github.com/lgota-app/lgota_auth/internal/notification"
	"github.com/lgota-app/lgota_auth/internal/passkey"
	"github.com/lgota-app/lgota_auth/internal/profile"
	"github.com/lgota-app/lgota_auth/internal/share"
	"github.com/lgota-app/lgota_auth/internal/token"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  redis.UniversalClient
	Logger *slog.Logger
	// Passkeys replaces the relying party built from Cfg.WebAuthn.
	Passkeys passkey.Provider
}

// stores holds the persistence backends chosen for this process.
type stores struct {
	users     identity.Repository
	creds     passkey.Repository
	directory profile.Directory
	tokens    token.Store
}

// Setup configures middlewares and all application routes.
func Setup(app *fiber.App, d Deps) error {
	// Enforce DB presence outside of dev, even though main also checks.
	if !d.Cfg.IsDev() && d.DB == nil {
		return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
	}

	// Middlewares
	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log in desired format: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))
	app.Use(middleware.Audit(d.Logger))

	// Health
	RegisterHealthRoutes(app, d)

	st, err := buildStores(d)
	if err != nil {
		return err
	}

	// Services and handlers
	codes := identity.RandomCode
	if d.Cfg.Password.MockCode != "" {
		codes = identity.FixedCode(d.Cfg.Password.MockCode)
	}
	identitySvc := identity.NewService(st.users,
		identity.NewHasher(d.Cfg.Password.BcryptCost, d.Cfg.Password.HashWorkers),
		identity.Options{
			RegistrationTTL: d.Cfg.Password.RegistrationTTL,
			Codes:           codes,
			Notifier:        notification.NewLoggerNotifier(d.Logger),
			Regions:         st.directory,
			Logger:          d.Logger,
		})

	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Issuer:     d.Cfg.Session.Issuer,
		Access:     auth.KeyringFrom(d.Cfg.Session.KeyID, d.Cfg.Session.AccessSecret, d.Cfg.Session.PreviousAccessKeys),
		Refresh:    auth.KeyringFrom(d.Cfg.Session.KeyID, d.Cfg.Session.RefreshSecret, d.Cfg.Session.PreviousRefreshKeys),
		AccessTTL:  d.Cfg.Session.AccessTTL,
		RefreshTTL: d.Cfg.Session.RefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("session issuer: %w", err)
	}
	authSvc := auth.NewService(identitySvc, issuer, d.Logger)

	provider := d.Passkeys
	if provider == nil {
		rp, err := passkey.NewProvider(d.Cfg.WebAuthn)
		if err != nil {
			return err
		}
		provider = rp
	}
	broker := challenge.NewBroker(st.tokens, d.Cfg.WebAuthn.ChallengeTTL, nil)
	passkeys := passkey.NewManager(st.users, st.creds, broker, provider, passkey.DefaultParser{}, authSvc, passkey.Options{
		StrictCounter: d.Cfg.WebAuthn.StrictCounter(),
		Logger:        d.Logger,
	})
	shares := share.NewManager(st.users, st.tokens, st.directory, share.Options{
		TTL:    d.Cfg.Share.TokenTTL,
		Logger: d.Logger,
	})

	// API routes
	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterAuthRoutes(api, Handlers{
		Identity: identity.NewHandler(identitySvc),
		Auth:     auth.NewHandler(authSvc),
		Passkey:  passkey.NewHandler(passkeys),
		Share:    share.NewHandler(shares),
	}, middleware.JWTAuth(issuer, st.users, d.Logger), idempotent(d))

	return nil
}

// idempotent replays responses for repeated requests. Without a cache it
// passes requests through.
func idempotent(d Deps) fiber.Handler {
	if d.Cache == nil {
		return func(c *fiber.Ctx) error { return c.Next() }
	}
	return middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger)
}

func buildStores(d Deps) (stores, error) {
	var st stores
	if d.DB != nil {
		st.users = identity.NewPostgresRepository(d.DB)
		st.creds = passkey.NewPostgresRepository(d.DB)
		st.directory = profile.NewPostgresDirectory(d.DB)
	} else {
		d.Logger.Warn("no database configured, using in-memory repositories")
		st.users = identity.NewMemoryRepository()
		st.creds = passkey.NewMemoryRepository()
		directory := profile.NewMemoryDirectory()
		directory.SeedRegions(profile.FederalSubjects)
		st.directory = directory
	}

	switch d.Cfg.TokenStore {
	case config.TokenStorePostgres:
		if d.DB != nil {
			st.tokens = token.NewPostgresStore(d.DB)
		}
	case config.TokenStoreRedis:
		if d.Cache != nil {
			st.tokens = token.NewRedisStore(d.Cache)
		}
	case config.TokenStoreMemory:
		st.tokens = token.NewMemoryStore()
	}
	if st.tokens == nil {
		if !d.Cfg.IsDev() {
			return stores{}, fmt.Errorf("token store %q is not available", d.Cfg.TokenStore)
		}
		d.Logger.Warn("token store backend unavailable, using memory", slog.String("token_store", d.Cfg.TokenStore))
		st.tokens = token.NewMemoryStore()
	}
	return st, nil
}

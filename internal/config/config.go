package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	counterPolicyStrict  = "strict"
	counterPolicyLenient = "lenient"

	TokenStorePostgres = "postgres"
	TokenStoreRedis    = "redis"
	TokenStoreMemory   = "memory"

	devMockCode = "4444"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME"          envDefault:"Lgota"`
	AppEnv         string        `env:"APP_ENV"           envDefault:"development"`
	Port           string        `env:"PORT"              envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL"         envDefault:"info"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	RedisURL       string        `env:"REDIS_URL"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT"  envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL"   envDefault:"24h"`
	TokenStore     string        `env:"TOKEN_STORE"       envDefault:"postgres"`
	AutoMigrate    bool          `env:"AUTO_MIGRATE"      envDefault:"true"`
	DBMaxConns     int32         `env:"DB_MAX_CONNS"      envDefault:"10"`

	Session  SessionConfig
	Password PasswordConfig
	WebAuthn WebAuthnConfig
	Share    ShareConfig
}

// SessionConfig holds signing material and lifetimes for access/refresh tokens.
type SessionConfig struct {
	Issuer              string            `env:"JWT_ISSUER"                 envDefault:"lgota-auth"`
	KeyID               string            `env:"JWT_KEY_ID"                 envDefault:"k1"`
	AccessSecret        string            `env:"JWT_ACCESS_SECRET"`
	RefreshSecret       string            `env:"JWT_REFRESH_SECRET"`
	PreviousAccessKeys  map[string]string `env:"JWT_PREVIOUS_ACCESS_KEYS"   envSeparator:"," envKeyValSeparator:":"`
	PreviousRefreshKeys map[string]string `env:"JWT_PREVIOUS_REFRESH_KEYS"  envSeparator:"," envKeyValSeparator:":"`
	AccessTTL           time.Duration     `env:"ACCESS_TOKEN_TTL"           envDefault:"1h"`
	RefreshTTL          time.Duration     `env:"REFRESH_TOKEN_TTL"          envDefault:"168h"`
}

// PasswordConfig controls registration and password hashing.
type PasswordConfig struct {
	RegistrationTTL time.Duration `env:"REGISTRATION_TTL" envDefault:"5m"`
	MockCode        string        `env:"SMS_MOCK_CODE"`
	BcryptCost      int           `env:"BCRYPT_COST"      envDefault:"10"`
	HashWorkers     int           `env:"HASH_WORKERS"`
}

// WebAuthnConfig controls relying party settings.
type WebAuthnConfig struct {
	RPID          string        `env:"WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPDisplayName string        `env:"WEBAUTHN_RP_DISPLAY_NAME"`
	RPOrigins     []string      `env:"WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
	CounterPolicy string        `env:"WEBAUTHN_COUNTER_POLICY"  envDefault:"strict"`
}

// ShareConfig controls delegated profile share tokens.
type ShareConfig struct {
	TokenTTL time.Duration `env:"SHARE_TOKEN_TTL" envDefault:"10m"`
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.TokenStore = strings.ToLower(strings.TrimSpace(cfg.TokenStore))
	cfg.WebAuthn.CounterPolicy = strings.ToLower(strings.TrimSpace(cfg.WebAuthn.CounterPolicy))

	if cfg.WebAuthn.RPDisplayName == "" {
		cfg.WebAuthn.RPDisplayName = cfg.AppName
	}
	if len(cfg.WebAuthn.RPOrigins) == 0 {
		cfg.WebAuthn.RPOrigins = []string{"http://localhost:5173"}
	}
	if cfg.Password.HashWorkers <= 0 {
		cfg.Password.HashWorkers = runtime.NumCPU()
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.WebAuthn.CounterPolicy {
	case counterPolicyStrict, counterPolicyLenient:
	default:
		return fmt.Errorf("invalid WEBAUTHN_COUNTER_POLICY %q", c.WebAuthn.CounterPolicy)
	}
	switch c.TokenStore {
	case TokenStorePostgres, TokenStoreRedis, TokenStoreMemory:
	default:
		return fmt.Errorf("invalid TOKEN_STORE %q", c.TokenStore)
	}
	if c.Password.MockCode != "" && !isDigits(c.Password.MockCode, 4) {
		return fmt.Errorf("SMS_MOCK_CODE must be 4 digits")
	}

	if c.IsDev() {
		if c.Password.MockCode == "" {
			c.Password.MockCode = devMockCode
		}
		if c.Session.AccessSecret == "" {
			c.Session.AccessSecret = "dev-access-secret"
		}
		if c.Session.RefreshSecret == "" {
			c.Session.RefreshSecret = "dev-refresh-secret"
		}
		return nil
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL must be set")
	}
	if c.TokenStore == TokenStoreRedis && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL must be set when TOKEN_STORE=redis")
	}
	if c.Session.AccessSecret == "" || c.Session.RefreshSecret == "" {
		return fmt.Errorf("JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must be set")
	}
	if c.Session.AccessSecret == c.Session.RefreshSecret {
		return fmt.Errorf("access and refresh secrets must differ")
	}
	return nil
}

// StrictCounter reports whether a non-increasing authenticator counter must be rejected.
func (w WebAuthnConfig) StrictCounter() bool {
	return w.CounterPolicy != counterPolicyLenient
}

// IsDev reports whether the service runs in a local development mode.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

func isDigits(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

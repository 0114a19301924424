package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"

	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
)

var (
	// ErrInvalidToken is returned for malformed, forged, expired or mistyped tokens.
	ErrInvalidToken = errors.New("invalid token")
)

// Key is a named HMAC signing secret.
type Key struct {
	ID     string
	Secret []byte
}

// Keyring holds the key new tokens are signed with and older keys that are
// still accepted during rotation.
type Keyring struct {
	Current  Key
	Previous []Key
}

func (k Keyring) lookup(id string) ([]byte, bool) {
	if id == k.Current.ID {
		return k.Current.Secret, true
	}
	for _, prev := range k.Previous {
		if prev.ID == id {
			return prev.Secret, true
		}
	}
	return nil, false
}

// KeyringFrom builds a keyring from a current secret and a kid to secret map.
func KeyringFrom(currentID, currentSecret string, previous map[string]string) Keyring {
	ring := Keyring{Current: Key{ID: currentID, Secret: []byte(currentSecret)}}
	for id, secret := range previous {
		if id == currentID || secret == "" {
			continue
		}
		ring.Previous = append(ring.Previous, Key{ID: id, Secret: []byte(secret)})
	}
	return ring
}

// IssuerConfig configures token signing. Access and refresh tokens use
// separate keyrings so one can never stand in for the other.
type IssuerConfig struct {
	Issuer     string
	Access     Keyring
	Refresh    Keyring
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Now        func() time.Time
}

// Pair is a freshly minted access/refresh token pair.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

type claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// Issuer mints and verifies HS256 session tokens that carry only the user id.
type Issuer struct {
	cfg IssuerConfig
}

// NewIssuer validates cfg and returns an Issuer.
func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer name is required")
	}
	for name, ring := range map[string]Keyring{typeAccess: cfg.Access, typeRefresh: cfg.Refresh} {
		if ring.Current.ID == "" || len(ring.Current.Secret) == 0 {
			return nil, fmt.Errorf("%s signing key is required", name)
		}
	}
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = defaultAccessTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = defaultRefreshTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Issuer{cfg: cfg}, nil
}

// Issue signs a new access and refresh token for userID.
func (i *Issuer) Issue(userID string) (Pair, error) {
	if strings.TrimSpace(userID) == "" {
		return Pair{}, errors.New("user id is required")
	}
	now := i.cfg.Now().UTC()
	access, accessExp, err := i.sign(userID, typeAccess, i.cfg.Access.Current, now, i.cfg.AccessTTL)
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := i.sign(userID, typeRefresh, i.cfg.Refresh.Current, now, i.cfg.RefreshTTL)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *Issuer) sign(userID, typ string, key Key, now time.Time, ttl time.Duration) (string, time.Time, error) {
	exp := now.Add(ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.Issuer,
			Subject:   userID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Type: typ,
	})
	token.Header["kid"] = key.ID
	signed, err := token.SignedString(key.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return signed, exp, nil
}

// ParseAccess verifies an access token and returns its subject.
func (i *Issuer) ParseAccess(raw string) (string, error) {
	return i.parse(raw, typeAccess, i.cfg.Access)
}

// ParseRefresh verifies a refresh token and returns its subject.
func (i *Issuer) ParseRefresh(raw string) (string, error) {
	return i.parse(raw, typeRefresh, i.cfg.Refresh)
}

func (i *Issuer) parse(raw, typ string, ring Keyring) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalidToken
	}
	var parsed claims
	_, err := jwt.ParseWithClaims(raw, &parsed, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		secret, ok := ring.lookup(kid)
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.cfg.Now),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed.Type != typ || parsed.Subject == "" {
		return "", ErrInvalidToken
	}
	return parsed.Subject, nil
}

// AccessTTL returns the lifetime of issued access tokens.
func (i *Issuer) AccessTTL() time.Duration {
	return i.cfg.AccessTTL
}

// Package challenge issues and redeems the single-use challenges used by
// platform-authenticator ceremonies.
package challenge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/token"
)

const defaultTTL = 5 * time.Minute

// Ceremony identifies which WebAuthn ceremony a challenge belongs to.
type Ceremony int

const (
	Registration Ceremony = iota + 1
	Login
)

func (c Ceremony) String() string {
	switch c {
	case Registration:
		return "registration"
	case Login:
		return "login"
	default:
		return "unknown"
	}
}

func (c Ceremony) kind() (token.Kind, error) {
	switch c {
	case Registration:
		return token.KindRegistrationChallenge, nil
	case Login:
		return token.KindLoginChallenge, nil
	default:
		return "", fmt.Errorf("unknown ceremony %d", int(c))
	}
}

var (
	errExpired = apperr.New(apperr.CodeChallengeExpired, apperr.KindExpired, "Challenge not found or expired")
	errUsed    = apperr.New(apperr.CodeChallengeUsed, apperr.KindUnauthorized, "Challenge already used")
)

// Challenge is a pending ceremony challenge together with the relying-party
// session state needed to verify the client's response.
type Challenge struct {
	Value     string
	UserID    string
	Ceremony  Ceremony
	Session   []byte
	ExpiresAt time.Time
}

// Broker hands out at most one live challenge per user and ceremony.
type Broker struct {
	store token.Store
	ttl   time.Duration
	now   func() time.Time
}

// NewBroker builds a challenge broker over a token store. A zero ttl selects
// the default five minutes and a nil clock uses time.Now.
func NewBroker(store token.Store, ttl time.Duration, now func() time.Time) *Broker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Broker{store: store, ttl: ttl, now: now}
}

// TTL returns how long issued challenges stay valid.
func (b *Broker) TTL() time.Duration {
	return b.ttl
}

// Issue stores value as the user's only live challenge for the ceremony.
func (b *Broker) Issue(ctx context.Context, userID string, ceremony Ceremony, value string, session []byte) (Challenge, error) {
	kind, err := ceremony.kind()
	if err != nil {
		return Challenge{}, apperr.Internal(err)
	}
	now := b.now().UTC()
	t := token.Token{
		Value:     value,
		Kind:      kind,
		UserID:    userID,
		Payload:   session,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}
	if err := b.store.Replace(ctx, t); err != nil {
		return Challenge{}, apperr.Internal(fmt.Errorf("store %s challenge: %w", ceremony, err))
	}
	return fromToken(t, ceremony), nil
}

// Consume finds the user's live challenge for the ceremony without spending it.
func (b *Broker) Consume(ctx context.Context, userID string, ceremony Ceremony) (Challenge, error) {
	kind, err := ceremony.kind()
	if err != nil {
		return Challenge{}, apperr.Internal(err)
	}
	t, err := b.store.Latest(ctx, userID, kind, b.now().UTC())
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return Challenge{}, errExpired
		}
		return Challenge{}, apperr.Internal(fmt.Errorf("load %s challenge: %w", ceremony, err))
	}
	return fromToken(t, ceremony), nil
}

// Redeem marks a consumed challenge used. Only one caller can redeem a challenge.
func (b *Broker) Redeem(ctx context.Context, ch Challenge) error {
	kind, err := ch.Ceremony.kind()
	if err != nil {
		return apperr.Internal(err)
	}
	now := b.now().UTC()
	if _, err := b.store.MarkUsed(ctx, ch.Value, kind, now); err != nil {
		switch {
		case errors.Is(err, token.ErrUnavailable):
			if !now.Before(ch.ExpiresAt) {
				return errExpired
			}
			return errUsed
		case errors.Is(err, token.ErrNotFound):
			return errExpired
		}
		return apperr.Internal(fmt.Errorf("redeem %s challenge: %w", ch.Ceremony, err))
	}
	return nil
}

func fromToken(t token.Token, ceremony Ceremony) Challenge {
	return Challenge{
		Value:     t.Value,
		UserID:    t.UserID,
		Ceremony:  ceremony,
		Session:   t.Payload,
		ExpiresAt: t.ExpiresAt,
	}
}

package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// Kind tags the purpose of a single-use token. Lookups are always scoped by
// kind so a token minted for one purpose can never be redeemed for another.
type Kind string

const (
	KindRegistrationChallenge Kind = "webauthn_registration_challenge"
	KindLoginChallenge        Kind = "webauthn_login_challenge"
	KindShareProfile          Kind = "share_profile"
)

// Valid reports whether k is a known token kind.
func (k Kind) Valid() bool {
	switch k {
	case KindRegistrationChallenge, KindLoginChallenge, KindShareProfile:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no token of the requested kind matches.
	ErrNotFound = errors.New("token not found")
	// ErrUnavailable is returned when a token exists but was already used or has expired.
	ErrUnavailable = errors.New("token already used or expired")
	// ErrDuplicate is returned when a token value collides with an existing one.
	ErrDuplicate = errors.New("token already exists")
)

// Token is a single-use, expiring bearer value owned by a user.
type Token struct {
	Value     string
	Kind      Kind
	UserID    string
	Payload   []byte
	ExpiresAt time.Time
	CreatedAt time.Time
	Used      bool
}

// Live reports whether the token can still be redeemed at now.
func (t Token) Live(now time.Time) bool {
	return !t.Used && now.Before(t.ExpiresAt)
}

// Store persists tokens. Implementations must make Replace and MarkUsed
// atomic with respect to concurrent callers.
type Store interface {
	// Replace removes every unused token of t.Kind owned by t.UserID and inserts t.
	Replace(ctx context.Context, t Token) error
	// Insert stores t without touching other tokens.
	Insert(ctx context.Context, t Token) error
	// Latest returns the most recently created live token of kind for the user.
	Latest(ctx context.Context, userID string, kind Kind, now time.Time) (Token, error)
	// Get returns the token with the given value and kind regardless of state.
	Get(ctx context.Context, value string, kind Kind) (Token, error)
	// MarkUsed flips the used flag if the token is still live at now.
	// Exactly one of several concurrent callers succeeds.
	MarkUsed(ctx context.Context, value string, kind Kind, now time.Time) (Token, error)
}

// NewValue returns a high-entropy URL-safe token value.
func NewValue() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func checkToken(t Token) error {
	if t.Value == "" {
		return errors.New("token value is required")
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("unknown token kind %q", t.Kind)
	}
	if t.UserID == "" {
		return errors.New("token owner is required")
	}
	return nil
}

// Package share issues one-time tokens that let a third party read a
// redacted view of a user's profile.
package share

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/identity"
	"github.com/lgota-app/lgota_auth/internal/profile"
	"github.com/lgota-app/lgota_auth/internal/token"
)

const defaultTTL = 10 * time.Minute

var (
	errUserNotFound  = apperr.New(apperr.CodeUserNotFound, apperr.KindNotFound, "User not found")
	errInvalidToken  = apperr.New(apperr.CodeInvalidToken, apperr.KindUnauthorized, "Invalid share token")
	errExpiredOrUsed = apperr.New(apperr.CodeTokenExpiredOrUsed, apperr.KindExpired, "Share token expired or already used")
	errUserNotActive = apperr.New(apperr.CodeUserNotActive, apperr.KindForbidden, "User is not active")
	errTokenMissing  = apperr.Validation("token is required")
)

// Grant is a freshly created share token.
type Grant struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Projection is what a token holder may see about the owner.
type Projection struct {
	FullName          string             `json:"fullName"`
	Phone             string             `json:"phone"`
	Age               int                `json:"age"`
	Region            *profile.Region    `json:"region"`
	BenefitCategories []profile.Category `json:"benefitCategories"`
}

// Options tunes the manager. Zero values select defaults.
type Options struct {
	TTL    time.Duration
	Logger *slog.Logger
	Now    func() time.Time
}

// Manager creates and redeems share tokens.
type Manager struct {
	users     identity.Repository
	tokens    token.Store
	directory profile.Directory
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewManager wires a share-token manager.
func NewManager(users identity.Repository, tokens token.Store, directory profile.Directory, opts Options) *Manager {
	m := &Manager{
		users:     users,
		tokens:    tokens,
		directory: directory,
		ttl:       opts.TTL,
		logger:    opts.Logger,
		now:       opts.Now,
	}
	if m.ttl <= 0 {
		m.ttl = defaultTTL
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Create mints a share token for an active user. Earlier tokens stay valid
// until they expire or are redeemed.
func (m *Manager) Create(ctx context.Context, userID string) (Grant, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return Grant{}, errUserNotFound
		}
		return Grant{}, apperr.Internal(fmt.Errorf("find user: %w", err))
	}
	if user.Status != identity.StatusActive {
		return Grant{}, errUserNotActive
	}

	value, err := token.NewValue()
	if err != nil {
		return Grant{}, apperr.Internal(err)
	}
	now := m.now().UTC()
	t := token.Token{
		Value:     value,
		Kind:      token.KindShareProfile,
		UserID:    user.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}
	if err := m.tokens.Insert(ctx, t); err != nil {
		return Grant{}, apperr.Internal(fmt.Errorf("store share token: %w", err))
	}
	return Grant{Token: t.Value, ExpiresAt: t.ExpiresAt}, nil
}

// Redeem spends a share token and returns the owner's redacted profile.
func (m *Manager) Redeem(ctx context.Context, value string) (Projection, error) {
	if value == "" {
		return Projection{}, errTokenMissing
	}
	now := m.now().UTC()
	t, err := m.tokens.Get(ctx, value, token.KindShareProfile)
	if err != nil {
		if errors.Is(err, token.ErrNotFound) {
			return Projection{}, errInvalidToken
		}
		return Projection{}, apperr.Internal(fmt.Errorf("load share token: %w", err))
	}
	if !t.Live(now) {
		return Projection{}, errExpiredOrUsed
	}

	user, err := m.users.FindByID(ctx, t.UserID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return Projection{}, errUserNotActive
		}
		return Projection{}, apperr.Internal(fmt.Errorf("find token owner: %w", err))
	}
	if user.Status != identity.StatusActive {
		return Projection{}, errUserNotActive
	}

	if _, err := m.tokens.MarkUsed(ctx, value, token.KindShareProfile, now); err != nil {
		if errors.Is(err, token.ErrUnavailable) || errors.Is(err, token.ErrNotFound) {
			return Projection{}, errExpiredOrUsed
		}
		return Projection{}, apperr.Internal(fmt.Errorf("redeem share token: %w", err))
	}

	proj, err := m.project(ctx, user, now)
	if err != nil {
		return Projection{}, err
	}
	m.logger.Info("share token redeemed", slog.String("user_id", user.ID))
	return proj, nil
}

func (m *Manager) project(ctx context.Context, user identity.User, now time.Time) (Projection, error) {
	proj := Projection{
		FullName: user.FullName(),
		Phone:    user.Phone,
		Age:      Age(user.DateOfBirth, now),
	}
	if user.RegionID != "" {
		region, err := m.directory.Region(ctx, user.RegionID)
		switch {
		case err == nil:
			proj.Region = &region
		case errors.Is(err, profile.ErrRegionNotFound):
		default:
			return Projection{}, apperr.Internal(fmt.Errorf("load region: %w", err))
		}
	}
	cats, err := m.directory.ConfirmedCategories(ctx, user.ID)
	if err != nil {
		return Projection{}, apperr.Internal(fmt.Errorf("load categories: %w", err))
	}
	proj.BenefitCategories = cats
	return proj, nil
}

// Age returns the number of whole years between dob and now.
func Age(dob, now time.Time) int {
	if dob.IsZero() {
		return 0
	}
	years := now.Year() - dob.Year()
	if now.Month() < dob.Month() || (now.Month() == dob.Month() && now.Day() < dob.Day()) {
		years--
	}
	if years < 0 {
		return 0
	}
	return years
}

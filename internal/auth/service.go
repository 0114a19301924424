package auth

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/identity"
)

var (
	errInvalidRefresh = apperr.New(apperr.CodeInvalidRefreshToken, apperr.KindUnauthorized, "Invalid refresh token")
	errUnknownUser    = apperr.New(apperr.CodeUnauthorized, apperr.KindUnauthorized, "User not found")
)

// Session is the response body returned whenever a user signs in.
type Session struct {
	User         identity.SafeUser `json:"user"`
	AccessToken  string            `json:"accessToken"`
	RefreshToken string            `json:"refreshToken"`
	ExpiresIn    int64             `json:"expiresIn"`
}

// Service signs users in with a password and rotates refresh tokens.
type Service struct {
	identities *identity.Service
	issuer     *Issuer
	logger     *slog.Logger
}

// NewService wires the session service.
func NewService(identities *identity.Service, issuer *Issuer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{identities: identities, issuer: issuer, logger: logger}
}

// Login verifies phone/password credentials and starts a session.
func (s *Service) Login(ctx context.Context, phone, password string) (Session, error) {
	user, err := s.identities.Authenticate(ctx, phone, password)
	if err != nil {
		return Session{}, err
	}
	session, err := s.Start(user)
	if err != nil {
		return Session{}, err
	}
	s.logger.Info("password login", slog.String("user_id", user.ID))
	return session, nil
}

// Start issues a token pair for an already authenticated user.
func (s *Service) Start(user identity.User) (Session, error) {
	pair, err := s.issuer.Issue(user.ID)
	if err != nil {
		return Session{}, apperr.Internal(fmt.Errorf("issue tokens: %w", err))
	}
	return Session{
		User:         identity.NewSafeUser(user),
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    int64(s.issuer.AccessTTL().Seconds()),
	}, nil
}

// Refresh exchanges a refresh token for a new token pair. The presented
// token is superseded but stays valid until it expires.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	userID, err := s.issuer.ParseRefresh(refreshToken)
	if err != nil {
		return Session{}, errInvalidRefresh
	}
	user, err := s.identities.Profile(ctx, userID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeUserNotFound {
			s.logger.Warn("refresh for unknown user", slog.String("user_id", userID))
			return Session{}, errInvalidRefresh
		}
		return Session{}, err
	}
	if user.Status != identity.StatusActive {
		s.logger.Warn("refresh for inactive user", slog.String("user_id", userID), slog.String("status", string(user.Status)))
		return Session{}, errInvalidRefresh
	}
	return s.Start(user)
}

// Me returns the redacted profile of the signed-in user.
func (s *Service) Me(ctx context.Context, userID string) (identity.SafeUser, error) {
	user, err := s.identities.Profile(ctx, userID)
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeUserNotFound {
			return identity.SafeUser{}, errUnknownUser
		}
		return identity.SafeUser{}, err
	}
	return identity.NewSafeUser(user), nil
}

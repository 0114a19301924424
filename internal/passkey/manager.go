// Package passkey implements the relying-party side of platform-authenticator
// enrollment and login.
package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/auth"
	"github.com/lgota-app/lgota_auth/internal/challenge"
	"github.com/lgota-app/lgota_auth/internal/identity"
)

var (
	errUserNotFound         = apperr.New(apperr.CodeUserNotFound, apperr.KindNotFound, "User not found")
	errAccountInactive      = apperr.New(apperr.CodeAccountNotActive, apperr.KindUnauthorized, "Account is not active")
	errNoCredentials        = apperr.New(apperr.CodeNoCredentials, apperr.KindNotFound, "No biometric credentials enrolled")
	errCredentialNotFound   = apperr.New(apperr.CodeCredentialNotFound, apperr.KindNotFound, "Credential not found")
	errCredentialMismatch   = apperr.New(apperr.CodeCredentialMismatch, apperr.KindUnauthorized, "Credential does not belong to this user")
	errCredentialExists     = apperr.New(apperr.CodeCredentialExists, apperr.KindConflict, "Credential already enrolled")
	errCounterRegression    = apperr.New(apperr.CodeCounterRegression, apperr.KindUnauthorized, "Authenticator counter did not increase")
	errMalformedResponse    = apperr.Validation("response is required")
	errVerificationFailed   = apperr.New(apperr.CodeBiometricVerification, apperr.KindUnauthorized, "Biometric verification failed")
	errAuthenticationFailed = apperr.New(apperr.CodeBiometricAuth, apperr.KindUnauthorized, "Biometric authentication failed")
)

// SessionStarter mints a session for an authenticated user.
type SessionStarter interface {
	Start(user identity.User) (auth.Session, error)
}

// Options tunes the manager. Zero values select defaults.
type Options struct {
	// StrictCounter rejects assertions whose counter does not increase.
	StrictCounter bool
	Logger        *slog.Logger
	Now           func() time.Time
}

// Manager drives registration and login ceremonies.
type Manager struct {
	users    identity.Repository
	creds    Repository
	broker   *challenge.Broker
	provider Provider
	parser   Parser
	sessions SessionStarter
	strict   bool
	logger   *slog.Logger
	now      func() time.Time
}

// NewManager wires a ceremony manager.
func NewManager(users identity.Repository, creds Repository, broker *challenge.Broker, provider Provider, parser Parser, sessions SessionStarter, opts Options) *Manager {
	m := &Manager{
		users:    users,
		creds:    creds,
		broker:   broker,
		provider: provider,
		parser:   parser,
		sessions: sessions,
		strict:   opts.StrictCounter,
		logger:   opts.Logger,
		now:      opts.Now,
	}
	if m.parser == nil {
		m.parser = DefaultParser{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// LoginOptions is returned to the client before a biometric login.
type LoginOptions struct {
	Options     protocol.PublicKeyCredentialRequestOptions `json:"options"`
	DisplayName string                                     `json:"displayName"`
	Phone       string                                     `json:"phone"`
}

// RegistrationOptions starts enrollment of a new platform authenticator for
// an authenticated user. Credentials the user already has are excluded.
func (m *Manager) RegistrationOptions(ctx context.Context, userID string) (*protocol.PublicKeyCredentialCreationOptions, error) {
	user, err := m.findUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	rpUser, err := m.loadUser(ctx, user)
	if err != nil {
		return nil, err
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.Platform,
			ResidentKey:             protocol.ResidentKeyRequirementPreferred,
			UserVerification:        protocol.VerificationRequired,
		}),
	}
	if len(rpUser.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(rpUser.credentials).CredentialDescriptors()))
	}

	creation, session, err := m.provider.BeginRegistration(rpUser, opts...)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("begin registration: %w", err))
	}
	if err := m.issue(ctx, user.ID, challenge.Registration, session); err != nil {
		return nil, err
	}
	return &creation.Response, nil
}

// VerifyRegistration checks the attestation against the user's live
// registration challenge and stores the new credential.
func (m *Manager) VerifyRegistration(ctx context.Context, userID string, response []byte) (Credential, error) {
	if len(response) == 0 {
		return Credential{}, errMalformedResponse
	}
	user, err := m.findUser(ctx, userID)
	if err != nil {
		return Credential{}, err
	}
	ch, err := m.broker.Consume(ctx, user.ID, challenge.Registration)
	if err != nil {
		return Credential{}, err
	}
	session, err := decodeSession(ch)
	if err != nil {
		return Credential{}, err
	}

	parsed, err := m.parser.ParseCredentialCreationResponseBytes(response)
	if err != nil {
		return Credential{}, withCause(errVerificationFailed, err)
	}
	rpUser, err := m.loadUser(ctx, user)
	if err != nil {
		return Credential{}, err
	}
	created, err := m.provider.CreateCredential(rpUser, session, parsed)
	if err != nil {
		m.logger.Info("registration attestation rejected", slog.String("user_id", user.ID), slog.Any("error", err))
		return Credential{}, withCause(errVerificationFailed, err)
	}

	if err := m.broker.Redeem(ctx, ch); err != nil {
		return Credential{}, err
	}

	cred, err := newCredential(user.ID, created, m.now().UTC())
	if err != nil {
		return Credential{}, apperr.Internal(err)
	}
	if err := m.creds.Create(ctx, cred); err != nil {
		if errors.Is(err, ErrCredentialExists) {
			return Credential{}, errCredentialExists
		}
		return Credential{}, apperr.Internal(fmt.Errorf("store credential: %w", err))
	}
	m.logger.Info("platform credential enrolled",
		slog.String("user_id", user.ID),
		slog.String("credential_id", cred.ID),
	)
	return cred, nil
}

// LoginOptions starts a biometric login for the account behind phone.
func (m *Manager) LoginOptions(ctx context.Context, phone string) (LoginOptions, error) {
	user, err := m.activeUserByPhone(ctx, phone)
	if err != nil {
		return LoginOptions{}, err
	}
	rpUser, err := m.loadUser(ctx, user)
	if err != nil {
		return LoginOptions{}, err
	}
	if len(rpUser.credentials) == 0 {
		return LoginOptions{}, errNoCredentials
	}

	assertion, session, err := m.provider.BeginLogin(rpUser, webauthn.WithUserVerification(protocol.VerificationRequired))
	if err != nil {
		return LoginOptions{}, apperr.Internal(fmt.Errorf("begin login: %w", err))
	}
	if err := m.issue(ctx, user.ID, challenge.Login, session); err != nil {
		return LoginOptions{}, err
	}
	return LoginOptions{
		Options:     assertion.Response,
		DisplayName: user.DisplayName(),
		Phone:       user.Phone,
	}, nil
}

// VerifyLogin checks a signed assertion and, on success, starts a session.
// A failed verification leaves the challenge live so the client may retry
// until it expires.
func (m *Manager) VerifyLogin(ctx context.Context, phone string, response []byte) (auth.Session, error) {
	if len(response) == 0 {
		return auth.Session{}, errMalformedResponse
	}
	user, err := m.activeUserByPhone(ctx, phone)
	if err != nil {
		return auth.Session{}, err
	}

	parsed, err := m.parser.ParseCredentialRequestResponseBytes(response)
	if err != nil {
		return auth.Session{}, withCause(errAuthenticationFailed, err)
	}
	credID := EncodeID(parsed.RawID)
	stored, err := m.creds.Get(ctx, credID)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return auth.Session{}, errCredentialNotFound
		}
		return auth.Session{}, apperr.Internal(fmt.Errorf("load credential: %w", err))
	}
	if stored.UserID != user.ID {
		m.logger.Warn("credential presented for another account",
			slog.String("user_id", user.ID),
			slog.String("credential_id", credID),
		)
		return auth.Session{}, errCredentialMismatch
	}

	ch, err := m.broker.Consume(ctx, user.ID, challenge.Login)
	if err != nil {
		return auth.Session{}, err
	}
	session, err := decodeSession(ch)
	if err != nil {
		return auth.Session{}, err
	}
	rpUser, err := m.loadUser(ctx, user)
	if err != nil {
		return auth.Session{}, err
	}
	if _, err := m.provider.ValidateLogin(rpUser, session, parsed); err != nil {
		m.logger.Info("login assertion rejected",
			slog.String("user_id", user.ID),
			slog.String("credential_id", credID),
			slog.Any("error", err),
		)
		return auth.Session{}, withCause(errAuthenticationFailed, err)
	}

	reported := parsed.Response.AuthenticatorData.Counter
	if counterRegressed(stored.SignCount, reported) {
		m.logger.Warn("authenticator counter did not increase",
			slog.String("user_id", user.ID),
			slog.String("credential_id", credID),
			slog.Uint64("stored", uint64(stored.SignCount)),
			slog.Uint64("reported", uint64(reported)),
			slog.Bool("rejected", m.strict),
		)
		if m.strict {
			return auth.Session{}, errCounterRegression
		}
	}

	if err := m.broker.Redeem(ctx, ch); err != nil {
		return auth.Session{}, err
	}
	if err := m.creds.UpdateCounter(ctx, credID, reported, m.now().UTC()); err != nil {
		return auth.Session{}, apperr.Internal(fmt.Errorf("update counter: %w", err))
	}
	return m.sessions.Start(user)
}

// counterRegressed reports a non-increasing counter. Authenticators that do
// not implement a counter report zero on every assertion.
func counterRegressed(stored, reported uint32) bool {
	if stored == 0 && reported == 0 {
		return false
	}
	return reported <= stored
}

func withCause(e *apperr.Error, cause error) *apperr.Error {
	return apperr.Wrap(e.Code, e.Kind, e.Message, cause)
}

func (m *Manager) issue(ctx context.Context, userID string, ceremony challenge.Ceremony, session *webauthn.SessionData) error {
	data, err := json.Marshal(session)
	if err != nil {
		return apperr.Internal(fmt.Errorf("encode %s session: %w", ceremony, err))
	}
	_, err = m.broker.Issue(ctx, userID, ceremony, session.Challenge, data)
	return err
}

func decodeSession(ch challenge.Challenge) (webauthn.SessionData, error) {
	var session webauthn.SessionData
	if err := json.Unmarshal(ch.Session, &session); err != nil {
		return webauthn.SessionData{}, apperr.Internal(fmt.Errorf("decode %s session: %w", ch.Ceremony, err))
	}
	return session, nil
}

func (m *Manager) findUser(ctx context.Context, userID string) (identity.User, error) {
	user, err := m.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return identity.User{}, errUserNotFound
		}
		return identity.User{}, apperr.Internal(fmt.Errorf("find user: %w", err))
	}
	return user, nil
}

func (m *Manager) activeUserByPhone(ctx context.Context, phone string) (identity.User, error) {
	phone = identity.NormalizePhone(phone)
	if phone == "" {
		return identity.User{}, apperr.Validation("phone is required")
	}
	user, err := m.users.FindByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, identity.ErrUserNotFound) {
			return identity.User{}, errUserNotFound
		}
		return identity.User{}, apperr.Internal(fmt.Errorf("find user by phone: %w", err))
	}
	if user.Status != identity.StatusActive {
		return identity.User{}, errAccountInactive
	}
	return user, nil
}

func (m *Manager) loadUser(ctx context.Context, user identity.User) (*rpUser, error) {
	stored, err := m.creds.ListByUser(ctx, user.ID)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("list credentials: %w", err))
	}
	u, err := newRPUser(user, stored)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return u, nil
}

package passkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/auth"
	"github.com/lgota-app/lgota_auth/internal/challenge"
	"github.com/lgota-app/lgota_auth/internal/identity"
	"github.com/lgota-app/lgota_auth/internal/logging"
	"github.com/lgota-app/lgota_auth/internal/token"
)

const (
	ivanID    = "0d5a3c1e-7f2b-4e6a-9c8d-1a2b3c4d5e6f"
	ivanPhone = "79001234567"
	olgaID    = "2c7d5e3a-9b4d-4a8c-9e0f-3c4d5e6f7081"
	olgaPhone = "79007654321"
	blockedID = "1e6b4d2f-8a3c-4f7b-8d9e-2b3c4d5e6f70"
)

type fakeProvider struct {
	mu          sync.Mutex
	seq         int
	rejectLogin bool
	lastCreate  protocol.PublicKeyCredentialCreationOptions
}

func (f *fakeProvider) nextChallenge(prefix string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	return fmt.Sprintf("%s-%d", prefix, f.seq)
}

func (f *fakeProvider) BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error) {
	c := f.nextChallenge("reg")
	options := protocol.PublicKeyCredentialCreationOptions{Challenge: protocol.URLEncodedBase64(c)}
	for _, opt := range opts {
		opt(&options)
	}
	f.mu.Lock()
	f.lastCreate = options
	f.mu.Unlock()
	return &protocol.CredentialCreation{Response: options}, &webauthn.SessionData{Challenge: c, UserID: user.WebAuthnID()}, nil
}

func (f *fakeProvider) CreateCredential(_ webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error) {
	if response.Response.CollectedClientData.Challenge != session.Challenge {
		return nil, errors.New("challenge mismatch")
	}
	return &webauthn.Credential{
		ID:              response.RawID,
		PublicKey:       []byte("pk-" + string(response.RawID)),
		AttestationType: "none",
		Transport:       []protocol.AuthenticatorTransport{protocol.Internal},
		Authenticator:   webauthn.Authenticator{Attachment: protocol.Platform},
	}, nil
}

func (f *fakeProvider) BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error) {
	c := f.nextChallenge("login")
	options := protocol.PublicKeyCredentialRequestOptions{Challenge: protocol.URLEncodedBase64(c)}
	var allowed [][]byte
	for _, cred := range user.WebAuthnCredentials() {
		options.AllowedCredentials = append(options.AllowedCredentials, cred.Descriptor())
		allowed = append(allowed, cred.ID)
	}
	for _, opt := range opts {
		opt(&options)
	}
	return &protocol.CredentialAssertion{Response: options},
		&webauthn.SessionData{Challenge: c, UserID: user.WebAuthnID(), AllowedCredentialIDs: allowed}, nil
}

func (f *fakeProvider) ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error) {
	f.mu.Lock()
	reject := f.rejectLogin
	f.mu.Unlock()
	if reject {
		return nil, errors.New("signature invalid")
	}
	if response.Response.CollectedClientData.Challenge != session.Challenge {
		return nil, errors.New("challenge mismatch")
	}
	for _, cred := range user.WebAuthnCredentials() {
		if bytes.Equal(cred.ID, response.RawID) {
			return &cred, nil
		}
	}
	return nil, errors.New("credential not allowed")
}

// clientResponse is the test stand-in for a browser ceremony response.
type clientResponse struct {
	ID        string `json:"id"`
	Challenge string `json:"challenge"`
	Counter   uint32 `json:"counter"`
}

type fakeParser struct{}

func (fakeParser) decode(data []byte) (clientResponse, error) {
	var r clientResponse
	if err := json.Unmarshal(data, &r); err != nil {
		return clientResponse{}, err
	}
	if r.ID == "" {
		return clientResponse{}, errors.New("missing id")
	}
	return r, nil
}

func (p fakeParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	r, err := p.decode(data)
	if err != nil {
		return nil, err
	}
	parsed := &protocol.ParsedCredentialCreationData{}
	parsed.RawID = []byte(r.ID)
	parsed.Response.CollectedClientData.Challenge = r.Challenge
	return parsed, nil
}

func (p fakeParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	r, err := p.decode(data)
	if err != nil {
		return nil, err
	}
	parsed := &protocol.ParsedCredentialAssertionData{}
	parsed.RawID = []byte(r.ID)
	parsed.Response.CollectedClientData.Challenge = r.Challenge
	parsed.Response.AuthenticatorData.Counter = r.Counter
	return parsed, nil
}

type fakeSessions struct{}

func (fakeSessions) Start(u identity.User) (auth.Session, error) {
	return auth.Session{User: identity.NewSafeUser(u), AccessToken: "access-" + u.ID, RefreshToken: "refresh-" + u.ID, ExpiresIn: 3600}, nil
}

type fixture struct {
	manager  *Manager
	provider *fakeProvider
	creds    Repository
}

func newFixture(t *testing.T, strict bool) *fixture {
	t.Helper()
	users := identity.NewMemoryRepository()
	identity.SeedUser(users, identity.User{
		ID: ivanID, Phone: ivanPhone, FirstName: "Ivan", LastName: "Petrov",
		Status: identity.StatusActive, OnboardingStep: identity.StepESIAAuth,
	})
	identity.SeedUser(users, identity.User{
		ID: olgaID, Phone: olgaPhone, FirstName: "Olga",
		Status: identity.StatusActive, OnboardingStep: identity.StepComplete,
	})
	identity.SeedUser(users, identity.User{
		ID: blockedID, Phone: "79001234568", Status: identity.StatusBlocked, OnboardingStep: identity.StepComplete,
	})

	provider := &fakeProvider{}
	creds := NewMemoryRepository()
	broker := challenge.NewBroker(token.NewMemoryStore(), time.Minute, nil)
	m := NewManager(users, creds, broker, provider, fakeParser{}, fakeSessions{}, Options{
		StrictCounter: strict,
		Logger:        logging.Discard(),
	})
	return &fixture{manager: m, provider: provider, creds: creds}
}

func body(t *testing.T, r clientResponse) []byte {
	t.Helper()
	raw, err := json.Marshal(r)
	require.NoError(t, err)
	return raw
}

func (f *fixture) enroll(t *testing.T, userID, credID string) Credential {
	t.Helper()
	opts, err := f.manager.RegistrationOptions(context.Background(), userID)
	require.NoError(t, err)
	cred, err := f.manager.VerifyRegistration(context.Background(), userID,
		body(t, clientResponse{ID: credID, Challenge: string(opts.Challenge)}))
	require.NoError(t, err)
	return cred
}

func (f *fixture) login(t *testing.T, phone, credID string, counter uint32) (auth.Session, error) {
	t.Helper()
	opts, err := f.manager.LoginOptions(context.Background(), phone)
	require.NoError(t, err)
	return f.manager.VerifyLogin(context.Background(), phone,
		body(t, clientResponse{ID: credID, Challenge: string(opts.Options.Challenge), Counter: counter}))
}

func storedCount(t *testing.T, f *fixture, credID string) uint32 {
	t.Helper()
	c, err := f.creds.Get(context.Background(), EncodeID([]byte(credID)))
	require.NoError(t, err)
	return c.SignCount
}

func TestRegistrationEnrollsPlatformCredential(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	opts, err := f.manager.RegistrationOptions(ctx, ivanID)
	require.NoError(t, err)
	require.Equal(t, protocol.Platform, opts.AuthenticatorSelection.AuthenticatorAttachment)
	require.Equal(t, protocol.VerificationRequired, opts.AuthenticatorSelection.UserVerification)
	require.Empty(t, opts.CredentialExcludeList)

	resp := body(t, clientResponse{ID: "cred-1", Challenge: string(opts.Challenge)})
	cred, err := f.manager.VerifyRegistration(ctx, ivanID, resp)
	require.NoError(t, err)
	require.Equal(t, EncodeID([]byte("cred-1")), cred.ID)
	require.Equal(t, ivanID, cred.UserID)
	require.Equal(t, "platform", cred.Attachment)
	require.Equal(t, []string{"internal"}, cred.Transports)

	stored, err := f.creds.ListByUser(ctx, ivanID)
	require.NoError(t, err)
	require.Len(t, stored, 1)

	// The challenge is spent.
	_, err = f.manager.VerifyRegistration(ctx, ivanID, resp)
	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(err))
}

func TestRegistrationExcludesEnrolledCredentials(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")

	opts, err := f.manager.RegistrationOptions(context.Background(), ivanID)
	require.NoError(t, err)
	require.Len(t, opts.CredentialExcludeList, 1)
	require.Equal(t, []byte("cred-1"), []byte(opts.CredentialExcludeList[0].CredentialID))
}

func TestRegistrationRejectsStaleChallenge(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	first, err := f.manager.RegistrationOptions(ctx, ivanID)
	require.NoError(t, err)
	second, err := f.manager.RegistrationOptions(ctx, ivanID)
	require.NoError(t, err)

	_, err = f.manager.VerifyRegistration(ctx, ivanID, body(t, clientResponse{ID: "cred-1", Challenge: string(first.Challenge)}))
	require.Equal(t, apperr.CodeBiometricVerification, apperr.CodeOf(err))

	_, err = f.manager.VerifyRegistration(ctx, ivanID, body(t, clientResponse{ID: "cred-1", Challenge: string(second.Challenge)}))
	require.NoError(t, err)
}

func TestRegistrationFailures(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.manager.VerifyRegistration(ctx, ivanID, body(t, clientResponse{ID: "cred-1", Challenge: "nothing-issued"}))
	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(err))

	_, err = f.manager.RegistrationOptions(ctx, "ghost")
	require.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))

	_, err = f.manager.VerifyRegistration(ctx, ivanID, nil)
	require.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.manager.RegistrationOptions(ctx, ivanID)
	require.NoError(t, err)
	_, err = f.manager.VerifyRegistration(ctx, ivanID, []byte(`{"challenge":"x"}`))
	require.Equal(t, apperr.CodeBiometricVerification, apperr.CodeOf(err))
}

func TestRegistrationRejectsDuplicateCredential(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")

	opts, err := f.manager.RegistrationOptions(context.Background(), olgaID)
	require.NoError(t, err)
	_, err = f.manager.VerifyRegistration(context.Background(), olgaID,
		body(t, clientResponse{ID: "cred-1", Challenge: string(opts.Challenge)}))
	require.Equal(t, apperr.CodeCredentialExists, apperr.CodeOf(err))
}

func TestLoginOptions(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	_, err := f.manager.LoginOptions(ctx, "79990000000")
	require.Equal(t, apperr.CodeUserNotFound, apperr.CodeOf(err))

	_, err = f.manager.LoginOptions(ctx, "79001234568")
	require.Equal(t, apperr.CodeAccountNotActive, apperr.CodeOf(err))

	_, err = f.manager.LoginOptions(ctx, ivanPhone)
	require.Equal(t, apperr.CodeNoCredentials, apperr.CodeOf(err))

	f.enroll(t, ivanID, "cred-1")
	opts, err := f.manager.LoginOptions(ctx, "+7 (900) 123-45-67")
	require.NoError(t, err)
	require.Equal(t, "Ivan Petrov", opts.DisplayName)
	require.Equal(t, ivanPhone, opts.Phone)
	require.Len(t, opts.Options.AllowedCredentials, 1)
	require.Equal(t, protocol.VerificationRequired, opts.Options.UserVerification)
}

func TestVerifyLoginStartsSession(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")

	session, err := f.login(t, ivanPhone, "cred-1", 1)
	require.NoError(t, err)
	require.Equal(t, ivanID, session.User.ID)
	require.Equal(t, "access-"+ivanID, session.AccessToken)
	require.EqualValues(t, 1, storedCount(t, f, "cred-1"))

	c, err := f.creds.Get(context.Background(), EncodeID([]byte("cred-1")))
	require.NoError(t, err)
	require.NotNil(t, c.LastUsedAt)
}

func TestVerifyLoginChallengeIsSingleUse(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")
	ctx := context.Background()

	opts, err := f.manager.LoginOptions(ctx, ivanPhone)
	require.NoError(t, err)
	resp := body(t, clientResponse{ID: "cred-1", Challenge: string(opts.Options.Challenge), Counter: 1})

	_, err = f.manager.VerifyLogin(ctx, ivanPhone, resp)
	require.NoError(t, err)
	_, err = f.manager.VerifyLogin(ctx, ivanPhone, resp)
	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(err))
}

func TestVerifyLoginCredentialChecks(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")
	f.enroll(t, olgaID, "cred-2")

	_, err := f.login(t, ivanPhone, "cred-2", 1)
	require.Equal(t, apperr.CodeCredentialMismatch, apperr.CodeOf(err))

	_, err = f.login(t, ivanPhone, "cred-unknown", 1)
	require.Equal(t, apperr.CodeCredentialNotFound, apperr.CodeOf(err))

	_, err = f.manager.VerifyLogin(context.Background(), "79001234568", []byte(`{"id":"cred-1"}`))
	require.Equal(t, apperr.CodeAccountNotActive, apperr.CodeOf(err))
}

func TestFailedAssertionKeepsChallenge(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")
	ctx := context.Background()

	opts, err := f.manager.LoginOptions(ctx, ivanPhone)
	require.NoError(t, err)
	resp := body(t, clientResponse{ID: "cred-1", Challenge: string(opts.Options.Challenge), Counter: 1})

	f.provider.rejectLogin = true
	_, err = f.manager.VerifyLogin(ctx, ivanPhone, resp)
	require.Equal(t, apperr.CodeBiometricAuth, apperr.CodeOf(err))
	require.EqualValues(t, 0, storedCount(t, f, "cred-1"))

	f.provider.rejectLogin = false
	_, err = f.manager.VerifyLogin(ctx, ivanPhone, resp)
	require.NoError(t, err)
}

func TestStrictCounterRejectsRegression(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")

	_, err := f.login(t, ivanPhone, "cred-1", 5)
	require.NoError(t, err)

	_, err = f.login(t, ivanPhone, "cred-1", 5)
	require.Equal(t, apperr.CodeCounterRegression, apperr.CodeOf(err))
	require.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = f.login(t, ivanPhone, "cred-1", 3)
	require.Equal(t, apperr.CodeCounterRegression, apperr.CodeOf(err))
	require.EqualValues(t, 5, storedCount(t, f, "cred-1"))

	_, err = f.login(t, ivanPhone, "cred-1", 6)
	require.NoError(t, err)
	require.EqualValues(t, 6, storedCount(t, f, "cred-1"))
}

func TestLenientCounterNeverLowersStoredValue(t *testing.T) {
	f := newFixture(t, false)
	f.enroll(t, ivanID, "cred-1")

	_, err := f.login(t, ivanPhone, "cred-1", 5)
	require.NoError(t, err)
	_, err = f.login(t, ivanPhone, "cred-1", 3)
	require.NoError(t, err)
	require.EqualValues(t, 5, storedCount(t, f, "cred-1"))
}

func TestAuthenticatorWithoutCounter(t *testing.T) {
	f := newFixture(t, true)
	f.enroll(t, ivanID, "cred-1")

	for i := 0; i < 2; i++ {
		_, err := f.login(t, ivanPhone, "cred-1", 0)
		require.NoError(t, err)
	}
	require.EqualValues(t, 0, storedCount(t, f, "cred-1"))
}

func TestCounterRegressed(t *testing.T) {
	cases := []struct {
		stored, reported uint32
		want             bool
	}{
		{0, 0, false},
		{0, 1, false},
		{4, 5, false},
		{5, 5, true},
		{5, 0, true},
		{5, 4, true},
	}
	for _, tc := range cases {
		if got := counterRegressed(tc.stored, tc.reported); got != tc.want {
			t.Fatalf("counterRegressed(%d, %d) = %v, want %v", tc.stored, tc.reported, got, tc.want)
		}
	}
}

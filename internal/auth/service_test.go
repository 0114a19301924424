package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/identity"
	"github.com/lgota-app/lgota_auth/internal/logging"
)

const (
	activeID  = "0d5a3c1e-7f2b-4e6a-9c8d-1a2b3c4d5e6f"
	blockedID = "1e6b4d2f-8a3c-4f7b-8d9e-2b3c4d5e6f70"
)

func newTestService(t *testing.T) (*Service, *Issuer) {
	t.Helper()
	repo := identity.NewMemoryRepository()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret1"), bcrypt.MinCost)
	require.NoError(t, err)
	identity.SeedUser(repo, identity.User{
		ID: activeID, Phone: "79001234567", PasswordHash: hash, FirstName: "Ivan", LastName: "Petrov",
		Status: identity.StatusActive, OnboardingStep: identity.StepESIAAuth, IsVerified: true,
	})
	identity.SeedUser(repo, identity.User{
		ID: blockedID, Phone: "79001234568", PasswordHash: hash,
		Status: identity.StatusBlocked, OnboardingStep: identity.StepComplete,
	})
	ids := identity.NewService(repo, identity.NewHasher(bcrypt.MinCost, 1), identity.Options{Logger: logging.Discard()})
	issuer := newTestIssuer(t, nil)
	return NewService(ids, issuer, logging.Discard()), issuer
}

func TestLoginReturnsSession(t *testing.T) {
	svc, issuer := newTestService(t)

	session, err := svc.Login(context.Background(), "+7 (900) 123-45-67", "secret1")
	require.NoError(t, err)
	require.Equal(t, activeID, session.User.ID)
	require.Equal(t, int64(time.Hour.Seconds()), session.ExpiresIn)

	sub, err := issuer.ParseAccess(session.AccessToken)
	require.NoError(t, err)
	require.Equal(t, activeID, sub)
}

func TestLoginFailuresPassThrough(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Login(context.Background(), "79001234567", "wrong")
	require.Equal(t, apperr.CodeInvalidPassword, apperr.CodeOf(err))

	_, err = svc.Login(context.Background(), "79001234568", "secret1")
	require.Equal(t, apperr.CodeAccountNotActive, apperr.CodeOf(err))
}

func TestRefreshRotatesPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Login(ctx, "79001234567", "secret1")
	require.NoError(t, err)

	second, err := svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, first.RefreshToken, second.RefreshToken)
	require.NotEqual(t, first.AccessToken, second.AccessToken)
	require.Equal(t, activeID, second.User.ID)

	// The superseded refresh token is not revoked.
	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshRejectsBadTokensAndInactiveUsers(t *testing.T) {
	svc, issuer := newTestService(t)
	ctx := context.Background()

	pair, err := issuer.Issue(blockedID)
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.Equal(t, apperr.CodeInvalidRefreshToken, apperr.CodeOf(err))
	require.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	ghost, err := issuer.Issue("2f7c5e30-9b4d-4a8c-9eaf-3c4d5e6f7081")
	require.NoError(t, err)
	_, err = svc.Refresh(ctx, ghost.RefreshToken)
	require.Equal(t, apperr.CodeInvalidRefreshToken, apperr.CodeOf(err))

	_, err = svc.Refresh(ctx, pair.AccessToken)
	require.Equal(t, apperr.CodeInvalidRefreshToken, apperr.CodeOf(err))
}

func TestMeIsRedacted(t *testing.T) {
	svc, _ := newTestService(t)

	me, err := svc.Me(context.Background(), activeID)
	require.NoError(t, err)
	require.Equal(t, "79001234567", me.Phone)

	_, err = svc.Me(context.Background(), "missing")
	require.Equal(t, apperr.CodeUnauthorized, apperr.CodeOf(err))
}

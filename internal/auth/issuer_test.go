package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func testKeys() IssuerConfig {
	return IssuerConfig{
		Issuer:  "lgota-auth-test",
		Access:  KeyringFrom("k2", "access-secret-2", map[string]string{"k1": "access-secret-1"}),
		Refresh: KeyringFrom("k2", "refresh-secret-2", nil),
	}
}

func newTestIssuer(t *testing.T, now func() time.Time) *Issuer {
	t.Helper()
	cfg := testKeys()
	cfg.Now = now
	issuer, err := NewIssuer(cfg)
	require.NoError(t, err)
	return issuer
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer := newTestIssuer(t, func() time.Time { return now })

	pair, err := issuer.Issue("user-1")
	require.NoError(t, err)
	require.Equal(t, now.Add(time.Hour), pair.AccessExpiresAt)
	require.Equal(t, now.Add(7*24*time.Hour), pair.RefreshExpiresAt)

	sub, err := issuer.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)

	sub, err = issuer.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)
}

func TestTokensCannotStandInForEachOther(t *testing.T) {
	issuer := newTestIssuer(t, nil)
	pair, err := issuer.Issue("user-1")
	require.NoError(t, err)

	_, err = issuer.ParseAccess(pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
	_, err = issuer.ParseRefresh(pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestExpiredTokenRejected(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	issuer := newTestIssuer(t, clock)
	pair, err := issuer.Issue("user-1")
	require.NoError(t, err)

	now = now.Add(time.Hour + time.Second)
	_, err = issuer.ParseAccess(pair.AccessToken)
	require.ErrorIs(t, err, ErrInvalidToken)

	_, err = issuer.ParseRefresh(pair.RefreshToken)
	require.NoError(t, err)
}

func TestPreviousKeyStillVerifies(t *testing.T) {
	old, err := NewIssuer(IssuerConfig{
		Issuer:  "lgota-auth-test",
		Access:  KeyringFrom("k1", "access-secret-1", nil),
		Refresh: KeyringFrom("k1", "refresh-secret-1", nil),
	})
	require.NoError(t, err)
	pair, err := old.Issue("user-1")
	require.NoError(t, err)

	rotated := newTestIssuer(t, nil)
	sub, err := rotated.ParseAccess(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, "user-1", sub)

	// k1 was dropped from the refresh keyring.
	_, err = rotated.ParseRefresh(pair.RefreshToken)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestForgedTokensRejected(t *testing.T) {
	issuer := newTestIssuer(t, nil)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "lgota-auth-test",
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type: typeAccess,
	})
	none.Header["kid"] = "k2"
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = issuer.ParseAccess(unsigned)
	require.ErrorIs(t, err, ErrInvalidToken)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Type: typeAccess,
	})
	foreign.Header["kid"] = "k2"
	signed, err := foreign.SignedString([]byte("access-secret-2"))
	require.NoError(t, err)
	_, err = issuer.ParseAccess(signed)
	require.True(t, errors.Is(err, ErrInvalidToken))

	_, err = issuer.ParseAccess("not-a-jwt")
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRequiresKeys(t *testing.T) {
	_, err := NewIssuer(IssuerConfig{Issuer: "x", Access: KeyringFrom("k1", "secret", nil)})
	require.Error(t, err)
	_, err = NewIssuer(IssuerConfig{Access: KeyringFrom("k1", "a", nil), Refresh: KeyringFrom("k1", "b", nil)})
	require.Error(t, err)
}

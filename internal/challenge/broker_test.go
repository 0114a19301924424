package challenge

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lgota-app/lgota_auth/internal/apperr"
	"github.com/lgota-app/lgota_auth/internal/token"
)

const userID = "9b2f4c1e-2a7d-4a53-8f0e-6c1d2b3a4f50"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newBroker(t *testing.T) (*Broker, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewBroker(token.NewMemoryStore(), 5*time.Minute, c.Now), c
}

func TestIssueThenConsumeAndRedeem(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	issued, err := b.Issue(ctx, userID, Registration, "challenge-1", []byte("session"))
	require.NoError(t, err)

	ch, err := b.Consume(ctx, userID, Registration)
	require.NoError(t, err)
	require.Equal(t, issued.Value, ch.Value)
	require.Equal(t, []byte("session"), ch.Session)

	require.NoError(t, b.Redeem(ctx, ch))
	require.ErrorIs(t, b.Redeem(ctx, ch), errUsed)

	_, err = b.Consume(ctx, userID, Registration)
	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(err))
}

func TestNewChallengeInvalidatesPrevious(t *testing.T) {
	b, c := newBroker(t)
	ctx := context.Background()

	old, err := b.Issue(ctx, userID, Login, "old", nil)
	require.NoError(t, err)
	c.Advance(time.Second)
	_, err = b.Issue(ctx, userID, Login, "fresh", nil)
	require.NoError(t, err)

	ch, err := b.Consume(ctx, userID, Login)
	require.NoError(t, err)
	require.Equal(t, "fresh", ch.Value)

	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(b.Redeem(ctx, old)))
}

func TestFailedVerificationKeepsChallenge(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	_, err := b.Issue(ctx, userID, Login, "keep", nil)
	require.NoError(t, err)

	// Consuming without redeeming leaves the challenge available for a retry.
	_, err = b.Consume(ctx, userID, Login)
	require.NoError(t, err)
	ch, err := b.Consume(ctx, userID, Login)
	require.NoError(t, err)
	require.Equal(t, "keep", ch.Value)
}

func TestChallengeExpires(t *testing.T) {
	b, c := newBroker(t)
	ctx := context.Background()

	ch, err := b.Issue(ctx, userID, Registration, "short-lived", nil)
	require.NoError(t, err)
	c.Advance(5 * time.Minute)

	_, err = b.Consume(ctx, userID, Registration)
	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(err))
	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(b.Redeem(ctx, ch)))
}

func TestCeremoniesAreIndependent(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	_, err := b.Issue(ctx, userID, Registration, "reg", nil)
	require.NoError(t, err)
	_, err = b.Issue(ctx, userID, Login, "login", nil)
	require.NoError(t, err)

	reg, err := b.Consume(ctx, userID, Registration)
	require.NoError(t, err)
	require.Equal(t, "reg", reg.Value)

	_, err = b.Consume(ctx, "someone-else", Login)
	require.Equal(t, apperr.CodeChallengeExpired, apperr.CodeOf(err))
}

func TestConcurrentRedeemHasOneWinner(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	ch, err := b.Issue(ctx, userID, Login, "contended", nil)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.Redeem(ctx, ch) == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, wins.Load())
}

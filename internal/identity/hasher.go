package identity

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// Hasher hashes and verifies passwords with bcrypt, bounding the number of
// concurrent hash computations to the configured worker count.
type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

// NewHasher builds a Hasher. A non-positive workers value means one worker.
func NewHasher(cost, workers int) *Hasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	if workers <= 0 {
		workers = 1
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(int64(workers))}
}

// Hash returns the bcrypt hash of password.
func (h *Hasher) Hash(ctx context.Context, password string) ([]byte, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer h.sem.Release(1)
	return bcrypt.GenerateFromPassword([]byte(password), h.cost)
}

// Compare reports whether password matches hash.
func (h *Hasher) Compare(ctx context.Context, hash []byte, password string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)
	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

// CodeGenerator produces phone verification codes.
type CodeGenerator func() (string, error)

// FixedCode always returns code. Used while the SMS gateway is mocked.
func FixedCode(code string) CodeGenerator {
	return func() (string, error) { return code, nil }
}

// RandomCode returns a uniformly random 4-digit code.
func RandomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(10000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%04d", n.Int64()), nil
}

package password

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// MaxLength is the bcrypt input limit in bytes.
const MaxLength = 72

var ErrTooLong = errors.New("password exceeds 72 bytes")

// Hasher wraps bcrypt with a fixed cost. At most `concurrency` hash or
// compare operations run at once; the rest wait on the request context.
type Hasher struct {
	cost    int
	sem     *semaphore.Weighted
	dummy   []byte
	observe func(op string, d time.Duration)
}

type Option func(*Hasher)

// WithObserver reports the duration of every bcrypt operation ("hash" or "verify").
func WithObserver(fn func(op string, d time.Duration)) Option {
	return func(h *Hasher) { h.observe = fn }
}

func New(cost, concurrency int, opts ...Option) (*Hasher, error) {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", cost, bcrypt.MinCost, bcrypt.MaxCost)
	}
	if concurrency <= 0 {
		return nil, fmt.Errorf("hash concurrency must be > 0")
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte("placeholder-password"), cost)
	if err != nil {
		return nil, err
	}

	h := &Hasher{
		cost:    cost,
		sem:     semaphore.NewWeighted(int64(concurrency)),
		dummy:   dummy,
		observe: func(string, time.Duration) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Hasher) Cost() int { return h.cost }

// Hash returns a bcrypt hash with a fresh random salt embedded.
func (h *Hasher) Hash(ctx context.Context, plaintext string) (string, error) {
	if len(plaintext) > MaxLength {
		return "", ErrTooLong
	}
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	start := time.Now()
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), h.cost)
	h.observe("hash", time.Since(start))
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// Verify reports whether plaintext matches hash. Malformed hashes and
// cancelled contexts yield false.
func (h *Hasher) Verify(ctx context.Context, plaintext, hash string) bool {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer h.sem.Release(1)

	start := time.Now()
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	h.observe("verify", time.Since(start))
	return err == nil
}

// VerifyDummy spends the same work as Verify against a hash no password
// matches. Login uses it for unknown emails so response time does not reveal
// whether an account exists.
func (h *Hasher) VerifyDummy(ctx context.Context, plaintext string) {
	_ = h.Verify(ctx, plaintext, string(h.dummy))
}

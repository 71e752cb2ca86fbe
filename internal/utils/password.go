package utils

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

// HashPassword returns bcrypt hash using the given cost.
func HashPassword(plain string, cost int) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// VerifyPassword safely compares bcrypt hash and plain password.  A
// malformed hash is a mismatch.
func VerifyPassword(hash, plain string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
}

// ClampCost keeps cost inside the range bcrypt accepts.
func ClampCost(cost int) int {
	switch {
	case cost < bcrypt.MinCost:
		return bcrypt.MinCost
	case cost > bcrypt.MaxCost:
		return bcrypt.MaxCost
	}
	return cost
}

// PasswordHasher runs bcrypt on a bounded number of goroutines so that a
// burst of logins cannot starve request handling of CPU.
type PasswordHasher struct {
	cost int
	sem  *semaphore.Weighted

	dummyOnce sync.Once
	dummy     string
}

// NewPasswordHasher returns a hasher using cost and at most workers
// concurrent bcrypt computations (NumCPU when workers <= 0).
func NewPasswordHasher(cost, workers int) *PasswordHasher {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &PasswordHasher{cost: ClampCost(cost), sem: semaphore.NewWeighted(int64(workers))}
}

// Cost returns the bcrypt cost used for new hashes.
func (h *PasswordHasher) Cost() int { return h.cost }

// Hash returns the bcrypt hash of plain.
func (h *PasswordHasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)
	return HashPassword(plain, h.cost)
}

// Verify reports whether plain matches hash.  It fails closed: mismatches
// and malformed hashes yield false with a nil error.  The error is only
// set when ctx ends before a worker slot frees up.
func (h *PasswordHasher) Verify(ctx context.Context, hash, plain string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)
	return VerifyPassword(hash, plain), nil
}

// VerifyDummy spends the same work as Verify against a throwaway hash.  It
// is used when no account matches, so that unknown logins take as long as
// wrong passwords.
func (h *PasswordHasher) VerifyDummy(ctx context.Context, plain string) {
	h.dummyOnce.Do(func() {
		hash, err := HashPassword("repair-desk-dummy-password", h.cost)
		if err == nil {
			h.dummy = hash
		}
	})
	if h.dummy == "" {
		return
	}
	_, _ = h.Verify(ctx, h.dummy, plain)
}

// MaxPasswordBytes is the longest password bcrypt will hash.
const MaxPasswordBytes = 72

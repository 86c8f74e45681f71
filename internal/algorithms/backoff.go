// Package algorithms holds the delay strategies goloky uses while it waits
// on a contended cross-process primitive.
package algorithms

import (
	"math/rand"
	"sync"
	"time"
)

// maxShift caps the exponent so the delay never overflows time.Duration.
const maxShift = 62

// BackoffType selects how the delay between two polls grows.
type BackoffType int

const (
	// BackoffExponential doubles the delay on every attempt (default).
	BackoffExponential BackoffType = iota
	// BackoffJittered doubles the delay and spreads it by a random factor so
	// that processes woken together do not hammer the same lock file.
	BackoffJittered
)

// BackoffStrategy computes the pause before the next attempt.
type BackoffStrategy interface {
	// NextDelay returns the delay before attempt number attempt (0-indexed).
	NextDelay(attempt int) time.Duration

	// Reset clears any per-wait state.
	Reset()
}

// NewBackoffStrategy builds the strategy for backoffType.
func NewBackoffStrategy(backoffType BackoffType, initialDelay, maxDelay time.Duration, jitterFactor float64) BackoffStrategy {
	if backoffType == BackoffJittered {
		return newJitteredBackoff(initialDelay, maxDelay, jitterFactor)
	}
	return &exponentialBackoff{initialDelay: initialDelay, maxDelay: maxDelay}
}

type exponentialBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
}

func (b *exponentialBackoff) NextDelay(attempt int) time.Duration {
	return exponentialDelay(attempt, b.initialDelay, b.maxDelay)
}

func (b *exponentialBackoff) Reset() {}

// jitteredBackoff multiplies the exponential delay by 1 ± jitterFactor.
type jitteredBackoff struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	jitterFactor float64

	mu  sync.Mutex
	rng *rand.Rand
}

func newJitteredBackoff(initialDelay, maxDelay time.Duration, jitterFactor float64) *jitteredBackoff {
	return &jitteredBackoff{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		jitterFactor: clamp(jitterFactor, 0, 1),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())), // #nosec G404 -- poll jitter only
	}
}

func (b *jitteredBackoff) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		return 0
	}

	base := exponentialDelay(attempt, b.initialDelay, b.maxDelay)

	b.mu.Lock()
	factor := 1 + (b.rng.Float64()*2-1)*b.jitterFactor
	b.mu.Unlock()

	return clamp(time.Duration(float64(base)*factor), 0, b.maxDelay)
}

func (b *jitteredBackoff) Reset() {}

// exponentialDelay returns initialDelay * 2^attempt, capped at maxDelay.
func exponentialDelay(attempt int, initialDelay, maxDelay time.Duration) time.Duration {
	if attempt < 0 {
		return 0
	}
	if attempt >= maxShift || initialDelay > maxDelay>>uint(attempt) {
		return maxDelay
	}
	return initialDelay << uint(attempt)
}

func clamp[T int64 | float64 | time.Duration](v, lo, hi T) T {
	return min(max(v, lo), hi)
}

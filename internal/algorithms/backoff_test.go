package algorithms

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestExponentialBackoff_NextDelay(t *testing.T) {
	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "negative attempt", attempt: -1, want: 0},
		{name: "first attempt", attempt: 0, want: time.Millisecond},
		{name: "third attempt", attempt: 2, want: 4 * time.Millisecond},
		{name: "capped", attempt: 10, want: 50 * time.Millisecond},
		{name: "huge attempt", attempt: 500, want: 50 * time.Millisecond},
	}

	b := NewBackoffStrategy(BackoffExponential, time.Millisecond, 50*time.Millisecond, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.NextDelay(tt.attempt); got != tt.want {
				t.Errorf("NextDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
			}
		})
	}
}

func TestJitteredBackoff_StaysInBounds(t *testing.T) {
	b := newJitteredBackoff(10*time.Millisecond, time.Second, 0.2)

	for attempt := range 6 {
		base := exponentialDelay(attempt, 10*time.Millisecond, time.Second)
		lo := time.Duration(float64(base) * 0.8)
		hi := min(time.Duration(float64(base)*1.2), time.Second)
		for range 50 {
			d := b.NextDelay(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestJitteredBackoff_ClampsFactor(t *testing.T) {
	if got := newJitteredBackoff(time.Millisecond, time.Second, 7).jitterFactor; got != 1 {
		t.Errorf("jitter factor = %v, want 1", got)
	}
	if got := newJitteredBackoff(time.Millisecond, time.Second, -3).jitterFactor; got != 0 {
		t.Errorf("jitter factor = %v, want 0", got)
	}
}

func TestJitteredBackoff_ConcurrentUse(t *testing.T) {
	b := newJitteredBackoff(time.Millisecond, 100*time.Millisecond, 0.5)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 100 {
				_ = b.NextDelay(i % 8)
			}
		}()
	}
	wg.Wait()
}

func TestPoll(t *testing.T) {
	fast := NewBackoffStrategy(BackoffExponential, time.Millisecond, 5*time.Millisecond, 0)

	t.Run("succeeds after a few attempts", func(t *testing.T) {
		calls := 0
		ok, err := Poll(context.Background(), fast, Forever, func() (bool, error) {
			calls++
			return calls == 3, nil
		})
		if err != nil || !ok {
			t.Fatalf("Poll = (%v, %v), want (true, nil)", ok, err)
		}
		if calls != 3 {
			t.Errorf("calls = %d, want 3", calls)
		}
	})

	t.Run("zero timeout tries once", func(t *testing.T) {
		calls := 0
		ok, err := Poll(context.Background(), fast, 0, func() (bool, error) {
			calls++
			return false, nil
		})
		if ok || err != nil || calls != 1 {
			t.Fatalf("Poll = (%v, %v) after %d calls, want (false, nil) after 1", ok, err, calls)
		}
	})

	t.Run("times out", func(t *testing.T) {
		start := time.Now()
		ok, err := Poll(context.Background(), fast, 30*time.Millisecond, func() (bool, error) {
			return false, nil
		})
		if ok || err != nil {
			t.Fatalf("Poll = (%v, %v), want (false, nil)", ok, err)
		}
		if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
			t.Errorf("returned after %v, before the timeout", elapsed)
		}
	})

	t.Run("propagates try error", func(t *testing.T) {
		boom := errors.New("boom")
		_, err := Poll(context.Background(), fast, Forever, func() (bool, error) {
			return false, boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("err = %v, want %v", err, boom)
		}
	})

	t.Run("honors context", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, err := Poll(ctx, fast, Forever, func() (bool, error) { return false, nil })
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want deadline exceeded", err)
		}
	})
}

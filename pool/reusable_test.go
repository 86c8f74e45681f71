package pool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetReusable(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		reusable.Lock()
		defer reusable.Unlock()
		if reusable.exec != nil {
			_ = reusable.exec.Shutdown(context.Background(), ShutdownOptions{Wait: true, CancelFutures: true})
			reusable.exec = nil
		}
	})
}

func TestGetReusableExecutor(t *testing.T) {
	resetReusable(t)
	logger := WithLogger(testLogger())

	first, err := GetReusableExecutor(logger, WithMaxWorkers(2))
	require.NoError(t, err)

	t.Run("same settings reuse", func(t *testing.T) {
		again, err := GetReusableExecutor(logger, WithMaxWorkers(2))
		require.NoError(t, err)
		assert.Same(t, first, again)
	})

	t.Run("max workers resizes in place", func(t *testing.T) {
		resized, err := GetReusableExecutor(logger, WithMaxWorkers(4))
		require.NoError(t, err)
		assert.Same(t, first, resized)
		assert.Equal(t, 4, resized.MaxWorkers())
	})

	t.Run("other settings replace", func(t *testing.T) {
		replaced, err := GetReusableExecutor(logger, WithMaxWorkers(4), WithIdleTimeout(time.Minute))
		require.NoError(t, err)
		assert.NotSame(t, first, replaced)
		assert.Equal(t, StateShutDown, first.State())

		fut, err := Submit(context.Background(), replaced, square, 6)
		require.NoError(t, err)
		n, err := fut.GetWithTimeout(30 * time.Second)
		require.NoError(t, err)
		assert.Equal(t, 36, n)
	})

	t.Run("shut down executor is replaced", func(t *testing.T) {
		current, err := GetReusableExecutor(logger, WithMaxWorkers(4), WithIdleTimeout(time.Minute))
		require.NoError(t, err)
		require.NoError(t, current.Shutdown(context.Background(), ShutdownOptions{Wait: true}))

		fresh, err := GetReusableExecutor(logger, WithMaxWorkers(4), WithIdleTimeout(time.Minute))
		require.NoError(t, err)
		assert.NotSame(t, current, fresh)
		assert.Equal(t, StateCreated, fresh.State())
	})
}

func TestReusableInitializerArgs(t *testing.T) {
	resetReusable(t)
	logger := WithLogger(testLogger())

	a, err := GetReusableExecutor(logger, WithInitializer(setValue, "a"))
	require.NoError(t, err)
	b, err := GetReusableExecutor(logger, WithInitializer(setValue, "b"))
	require.NoError(t, err)
	assert.NotSame(t, a, b)

	fut, err := Submit(context.Background(), b, readValue, 0)
	require.NoError(t, err)
	v, err := fut.GetWithTimeout(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}

func TestFingerprint(t *testing.T) {
	base := func(opts ...Option) (uint64, uint64) {
		cfg, err := createConfig(append([]Option{WithMaxWorkers(2)}, opts...)...)
		require.NoError(t, err)
		full, shape, err := fingerprint(cfg)
		require.NoError(t, err)
		return full, shape
	}

	full, shape := base()

	tests := []struct {
		name      string
		opts      []Option
		sameFull  bool
		sameShape bool
	}{
		{"identical", nil, true, true},
		{"logger ignored", []Option{WithLogger(testLogger())}, true, true},
		{"queue size ignored", []Option{WithQueueSize(7)}, true, true},
		{"max workers", []Option{WithMaxWorkers(3)}, false, true},
		{"idle timeout", []Option{WithIdleTimeout(time.Second)}, false, false},
		{"codec", []Option{WithCodec("json")}, false, false},
		{"start method", []Option{WithStartMethod(MethodSpawn)}, false, false},
		{"initializer", []Option{WithInitializer(setValue, "x")}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, s := base(tt.opts...)
			assert.Equal(t, tt.sameFull, f == full)
			assert.Equal(t, tt.sameShape, s == shape)
		})
	}
}

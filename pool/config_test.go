package pool

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "goloky.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
		assert.Equal(t, DefaultStartTimeout, cfg.StartTimeout)
		assert.Equal(t, defaultCrashBurst, cfg.CrashBurst)
		assert.Zero(t, cfg.MaxWorkers)
	})

	t.Run("file", func(t *testing.T) {
		path := writeConfig(t, `
max_workers: 3
start_method: loky_init_main
idle_timeout: 2m
codec: json
cpu_affinity: true
`)
		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 3, cfg.MaxWorkers)
		assert.Equal(t, "loky_init_main", cfg.StartMethod)
		assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
		assert.Equal(t, "json", cfg.Codec)
		assert.True(t, cfg.CPUAffinity)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		path := writeConfig(t, "max_workers: 3\n")
		t.Setenv("LOKY_MAX_WORKERS", "6")
		t.Setenv("LOKY_IDLE_TIMEOUT", "45s")

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 6, cfg.MaxWorkers)
		assert.Equal(t, 45*time.Second, cfg.IdleTimeout)
	})

	t.Run("invalid start method", func(t *testing.T) {
		path := writeConfig(t, "start_method: fork\n")
		_, err := LoadConfig(path)
		var methodErr *StartMethodError
		assert.ErrorAs(t, err, &methodErr)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}

func TestConfigOptions(t *testing.T) {
	cfg := &Config{
		MaxWorkers:  5,
		StartMethod: "spawn",
		IdleTimeout: 10 * time.Second,
		QueueSize:   9,
		Codec:       "yaml",
		CrashBurst:  1,
		CrashWindow: time.Hour,
	}

	ec, err := createConfig(cfg.Options()...)
	require.NoError(t, err)
	assert.Equal(t, 5, ec.maxWorkers)
	assert.Equal(t, MethodSpawn, ec.method)
	assert.Equal(t, 10*time.Second, ec.idleTimeout)
	assert.Equal(t, DefaultStartTimeout, ec.startTimeout)
	assert.Equal(t, 9, ec.queueSize)
	assert.Equal(t, "yaml", ec.codecName)
	assert.Equal(t, 1, ec.crashBurst)
	assert.Equal(t, time.Hour, ec.crashWindow)
	assert.False(t, ec.pinCPUs)
}

func TestCreateConfigDefaults(t *testing.T) {
	ec, err := createConfig()
	require.NoError(t, err)

	n, err := CPUCount(false)
	require.NoError(t, err)
	assert.Equal(t, n, ec.maxWorkers)
	assert.Equal(t, defaultQueuePerWorker*n, ec.queueSize)
	assert.Equal(t, DefaultStartMethod, ec.method)
	assert.Equal(t, "gob", ec.codecName)

	t.Run("unknown initializer", func(t *testing.T) {
		_, err := createConfig(WithInitializer(Initializer[int]{name: "test.nope"}, 1))
		assert.ErrorIs(t, err, ErrUnknownFunc)
	})
}

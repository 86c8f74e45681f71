package pool

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ConfigEnvPrefix prefixes the environment variables read by LoadConfig,
// for example LOKY_MAX_WORKERS or LOKY_IDLE_TIMEOUT.
const ConfigEnvPrefix = "LOKY"

// Config holds the executor settings that can come from a file or the
// environment. Zero values mean "use the default".
type Config struct {
	MaxWorkers   int           `mapstructure:"max_workers"`
	StartMethod  string        `mapstructure:"start_method"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	QueueSize    int           `mapstructure:"queue_size"`
	Codec        string        `mapstructure:"codec"`
	CrashBurst   int           `mapstructure:"crash_burst"`
	CrashWindow  time.Duration `mapstructure:"crash_window"`
	CPUAffinity  bool          `mapstructure:"cpu_affinity"`
}

// LoadConfig reads executor settings from the YAML file at path, if path
// is not empty, then applies LOKY_* environment overrides.
//
// Example file:
//
//	max_workers: 8
//	start_method: loky_init_main
//	idle_timeout: 2m
//	codec: json
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(ConfigEnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("max_workers", 0)
	v.SetDefault("start_method", "")
	v.SetDefault("idle_timeout", DefaultIdleTimeout)
	v.SetDefault("start_timeout", DefaultStartTimeout)
	v.SetDefault("queue_size", 0)
	v.SetDefault("codec", "")
	v.SetDefault("crash_burst", defaultCrashBurst)
	v.SetDefault("crash_window", defaultCrashWindow)
	v.SetDefault("cpu_affinity", false)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.StartMethod != "" {
		if err := StartMethod(cfg.StartMethod).validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Options turns the configuration into executor options. Options passed
// after these override them.
func (c *Config) Options() []Option {
	opts := []Option{
		WithMaxWorkers(c.MaxWorkers),
		WithIdleTimeout(c.IdleTimeout),
		WithStartTimeout(c.StartTimeout),
		WithQueueSize(c.QueueSize),
		WithCrashBudget(c.CrashBurst, c.CrashWindow),
	}
	if c.StartMethod != "" {
		opts = append(opts, WithStartMethod(StartMethod(c.StartMethod)))
	}
	if c.Codec != "" {
		opts = append(opts, WithCodec(c.Codec))
	}
	if c.CPUAffinity {
		opts = append(opts, WithCPUAffinity())
	}
	return opts
}

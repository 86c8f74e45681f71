package pool

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/coder/quartz"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/utkarsh5026/goloky/codec"
)

const (
	// DefaultIdleTimeout is how long an idle worker lives before it is
	// shut down.
	DefaultIdleTimeout = 300 * time.Second

	// DefaultStartTimeout bounds how long a new worker may take to report
	// ready.
	DefaultStartTimeout = 30 * time.Second

	defaultQueuePerWorker = 32
	defaultCrashBurst     = 3
	defaultCrashWindow    = time.Minute
)

// Option is a functional option for configuring an Executor.
type Option func(*executorConfig)

type executorConfig struct {
	maxWorkers   int
	method       StartMethod
	idleTimeout  time.Duration
	startTimeout time.Duration
	queueSize    int
	codecName    string

	initName  string
	initCodec string
	initArg   any

	crashBurst  int
	crashWindow time.Duration
	pinCPUs     bool

	logger     *slog.Logger
	clock      quartz.Clock
	registerer prometheus.Registerer
	stderr     io.Writer
}

// WithMaxWorkers caps the number of worker processes. If not specified,
// defaults to CPUCount(false).
func WithMaxWorkers(n int) Option {
	return func(cfg *executorConfig) {
		if n > 0 {
			cfg.maxWorkers = n
		}
	}
}

// WithStartMethod selects how workers are started. If not specified, the
// registered start method or DefaultStartMethod is used.
func WithStartMethod(m StartMethod) Option {
	return func(cfg *executorConfig) {
		cfg.method = m
	}
}

// WithIdleTimeout sets how long an idle worker is kept alive. Reaped
// workers are started again on demand.
func WithIdleTimeout(d time.Duration) Option {
	return func(cfg *executorConfig) {
		if d > 0 {
			cfg.idleTimeout = d
		}
	}
}

// WithStartTimeout bounds how long a new worker may take to become ready,
// including its initializer.
func WithStartTimeout(d time.Duration) Option {
	return func(cfg *executorConfig) {
		if d > 0 {
			cfg.startTimeout = d
		}
	}
}

// WithQueueSize bounds the number of submitted tasks not yet handed to a
// worker. Submit blocks while the queue is full. If not specified,
// defaults to 32 slots per worker.
func WithQueueSize(n int) Option {
	return func(cfg *executorConfig) {
		if n > 0 {
			cfg.queueSize = n
		}
	}
}

// WithCodec sets the executor's codec for functions that do not choose
// their own. If not specified, codec.Default() is used.
func WithCodec(name string) Option {
	return func(cfg *executorConfig) {
		cfg.codecName = name
	}
}

// WithInitializer runs init with arg in every worker before it accepts
// tasks. If the initializer fails, the executor becomes broken.
func WithInitializer[A any](init Initializer[A], arg A) Option {
	return func(cfg *executorConfig) {
		cfg.initName = init.name
		cfg.initCodec = init.codec
		cfg.initArg = arg
	}
}

// WithCrashBudget sets how many worker crashes are tolerated per window
// before the executor gives up and becomes broken. A burst of 0 breaks
// the executor on the first crash.
//
// Example:
//
//	WithCrashBudget(3, time.Minute) // up to 3 crashes a minute, refilled gradually
func WithCrashBudget(burst int, window time.Duration) Option {
	return func(cfg *executorConfig) {
		if burst >= 0 {
			cfg.crashBurst = burst
		}
		if window > 0 {
			cfg.crashWindow = window
		}
	}
}

// WithCPUAffinity pins each worker to one CPU, round robin over the CPUs
// of the host. It is a no-op where the OS offers no affinity control.
func WithCPUAffinity() Option {
	return func(cfg *executorConfig) {
		cfg.pinCPUs = true
	}
}

// WithLogger sets the executor's logger. If not specified, slog.Default()
// is used.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *executorConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithClock replaces the clock driving idle timers. Tests pass a
// quartz.Mock.
func WithClock(c quartz.Clock) Option {
	return func(cfg *executorConfig) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithMetricsRegisterer registers the executor's Prometheus metrics with
// r. If not specified, metrics go to a private registry reachable through
// Executor.Metrics.
func WithMetricsRegisterer(r prometheus.Registerer) Option {
	return func(cfg *executorConfig) {
		cfg.registerer = r
	}
}

// WithWorkerStderr sets where worker stderr, including their logs, goes.
// If not specified, workers share the controller's stderr.
func WithWorkerStderr(w io.Writer) Option {
	return func(cfg *executorConfig) {
		cfg.stderr = w
	}
}

func createConfig(opts ...Option) (*executorConfig, error) {
	cfg := &executorConfig{
		idleTimeout:  DefaultIdleTimeout,
		startTimeout: DefaultStartTimeout,
		crashBurst:   defaultCrashBurst,
		crashWindow:  defaultCrashWindow,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.maxWorkers == 0 {
		n, err := CPUCount(false)
		if err != nil {
			return nil, err
		}
		cfg.maxWorkers = n
	}
	if cfg.queueSize == 0 {
		cfg.queueSize = defaultQueuePerWorker * cfg.maxWorkers
	}

	if cfg.method == "" {
		cfg.method = GetStartMethod()
	}
	if cfg.method == "" {
		cfg.method = DefaultStartMethod
	}
	if err := cfg.method.validate(); err != nil {
		return nil, err
	}

	if cfg.codecName == "" {
		cd, err := codec.Default()
		if err != nil {
			return nil, err
		}
		cfg.codecName = cd.Name()
	} else if _, err := codec.Lookup(cfg.codecName); err != nil {
		return nil, err
	}

	if cfg.initName != "" {
		if _, ok := lookupInitializer(cfg.initName); !ok {
			return nil, &UnknownFuncError{Name: cfg.initName}
		}
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.clock == nil {
		cfg.clock = quartz.NewReal()
	}
	return cfg, nil
}

func (cfg *executorConfig) crashLimiter() *rate.Limiter {
	if cfg.crashBurst == 0 {
		return rate.NewLimiter(0, 0)
	}
	return rate.NewLimiter(rate.Every(cfg.crashWindow/time.Duration(cfg.crashBurst)), cfg.crashBurst)
}

// encodedInitArg encodes the initializer argument with the codec the
// initializer runs with.
func (cfg *executorConfig) encodedInitArg() (codecName string, payload []byte, err error) {
	codecName = cfg.initCodec
	if codecName == "" {
		codecName = cfg.codecName
	}
	cd, err := codec.Lookup(codecName)
	if err != nil {
		return "", nil, err
	}
	payload, err = cd.Marshal(cfg.initArg)
	if err != nil {
		return "", nil, fmt.Errorf("encode initializer argument: %w", err)
	}
	return codecName, payload, nil
}

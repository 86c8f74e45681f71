package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/utkarsh5026/goloky/codec"
)

// Func is a handle on a function registered with Register. Submitting a
// Func sends its name and the encoded argument to a worker, which looks
// the name up in its own registry.
type Func[A, R any] struct {
	name  string
	codec string
}

// Name returns the registered name.
func (f Func[A, R]) Name() string { return f.name }

// Initializer is a handle on a worker initializer registered with
// RegisterInitializer.
type Initializer[A any] struct {
	name  string
	codec string
}

// Name returns the registered name.
func (i Initializer[A]) Name() string { return i.name }

// FuncOption customizes a registered function.
type FuncOption func(*funcConfig)

type funcConfig struct {
	codec string
}

// WithFuncCodec makes the function's argument and result travel with the
// named codec instead of the executor's default.
func WithFuncCodec(name string) FuncOption {
	return func(cfg *funcConfig) {
		cfg.codec = name
	}
}

// invoker decodes a payload, calls the function and encodes the result.
type invoker func(ctx context.Context, cd codec.Codec, payload []byte) ([]byte, error)

type registration struct {
	name  string
	codec string
	call  invoker
}

var registry = struct {
	sync.RWMutex
	funcs   map[string]*registration
	inits   map[string]*registration
	targets map[string]TargetFunc
}{
	funcs:   make(map[string]*registration),
	inits:   make(map[string]*registration),
	targets: make(map[string]TargetFunc),
}

// Register binds name to fn so it can run in worker processes. Register
// must run identically in every process, so call it from a package-level
// var or init function, or from a setup function passed to Init when the
// start method runs setup code. Registering a name twice panics.
//
// Example:
//
//	var square = pool.Register("square", func(ctx context.Context, n int) (int, error) {
//	    return n * n, nil
//	})
func Register[A, R any](name string, fn func(context.Context, A) (R, error), opts ...FuncOption) Func[A, R] {
	cfg := applyFuncOptions(name, opts)

	call := func(ctx context.Context, cd codec.Codec, payload []byte) ([]byte, error) {
		var arg A
		if err := cd.Unmarshal(payload, &arg); err != nil {
			return nil, fmt.Errorf("decode argument of %s with %s: %w", name, cd.Name(), err)
		}
		result, err := fn(ctx, arg)
		if err != nil {
			return nil, err
		}
		out, err := cd.Marshal(result)
		if err != nil {
			return nil, fmt.Errorf("encode result of %s with %s: %w", name, cd.Name(), err)
		}
		return out, nil
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.funcs[name]; dup {
		panic(fmt.Sprintf("pool: function %q registered twice", name))
	}
	registry.funcs[name] = &registration{name: name, codec: cfg.codec, call: call}
	return Func[A, R]{name: name, codec: cfg.codec}
}

// RegisterInitializer registers fn to run once in every new worker before
// it accepts tasks. Use it with WithInitializer. An initializer that
// returns an error breaks the executor.
func RegisterInitializer[A any](name string, fn func(context.Context, A) error, opts ...FuncOption) Initializer[A] {
	cfg := applyFuncOptions(name, opts)

	call := func(ctx context.Context, cd codec.Codec, payload []byte) ([]byte, error) {
		var arg A
		if err := cd.Unmarshal(payload, &arg); err != nil {
			return nil, fmt.Errorf("decode initializer argument of %s: %w", name, err)
		}
		return nil, fn(ctx, arg)
	}

	registry.Lock()
	defer registry.Unlock()
	if _, dup := registry.inits[name]; dup {
		panic(fmt.Sprintf("pool: initializer %q registered twice", name))
	}
	registry.inits[name] = &registration{name: name, codec: cfg.codec, call: call}
	return Initializer[A]{name: name, codec: cfg.codec}
}

func applyFuncOptions(name string, opts []FuncOption) funcConfig {
	if name == "" {
		panic("pool: registered name must not be empty")
	}
	var cfg funcConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.codec != "" {
		if _, err := codec.Lookup(cfg.codec); err != nil {
			panic(fmt.Sprintf("pool: %s: %v", name, err))
		}
	}
	return cfg
}

func lookupFunc(name string) (*registration, bool) {
	registry.RLock()
	defer registry.RUnlock()
	r, ok := registry.funcs[name]
	return r, ok
}

func lookupInitializer(name string) (*registration, bool) {
	registry.RLock()
	defer registry.RUnlock()
	r, ok := registry.inits[name]
	return r, ok
}

// resolveCodec picks the function's own codec, else fallback.
func resolveCodec(own string, fallback codec.Codec) (codec.Codec, error) {
	if own == "" {
		return fallback, nil
	}
	return codec.Lookup(own)
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurlabs/murmur/internal/config"
)

// Loader owns the process-wide engine handle. Engines are expensive to
// construct, so the handle is built lazily on first use and reused by every
// session afterwards. A failed load is retried on the next call.
type Loader struct {
	factory func() (Engine, error)
	log     *slog.Logger

	mu     sync.Mutex
	engine Engine
}

func NewLoader(cfg config.EngineConfig, log *slog.Logger) *Loader {
	return &Loader{
		factory: factoryFor(cfg),
		log:     log.With(slog.String("component", "engine-loader")),
	}
}

// NewLoaderWithFactory is used by tests to count or fail loads.
func NewLoaderWithFactory(factory func() (Engine, error), log *slog.Logger) *Loader {
	return &Loader{factory: factory, log: log}
}

func factoryFor(cfg config.EngineConfig) func() (Engine, error) {
	switch cfg.Mode {
	case "exec":
		return func() (Engine, error) { return NewExecEngine(cfg) }
	default:
		return func() (Engine, error) { return NewMockEngine(), nil }
	}
}

// Load returns the shared engine handle, constructing it on first use. The
// construction can block for seconds while model weights are loaded; callers
// must not invoke it on a path that has to stay responsive.
func (l *Loader) Load(ctx context.Context) (Engine, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.engine != nil {
		return l.engine, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	eng, err := l.factory()
	if err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	l.engine = eng
	l.log.Info("engine loaded", slog.Duration("took", time.Since(start)))
	return eng, nil
}

// Loaded reports whether the handle has been constructed.
func (l *Loader) Loaded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.engine != nil
}

// Package obslog configures the process-wide structured logger, grounded
// on ManuGH-xg2g's internal/log/logger.go: a package-level zerolog.Logger
// guarded by a mutex, configured once at startup and retrieved by value
// everywhere else so every component's logs share the same sinks and
// base fields.
package obslog

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Config captures the options for configuring the global logger
// (spec.md's ambient logging concerns: level, pretty-printing for local
// development, and the service name attached to every entry).
type Config struct {
	Level   string
	Pretty  bool
	Output  io.Writer
	Service string
}

var (
	mu          sync.RWMutex
	base        zerolog.Logger
	initialized bool
)

// Configure initializes the global logger. Call once at process startup
// before any component requests a logger.
func Configure(cfg Config) {
	mu.Lock()
	defer mu.Unlock()

	level := zerolog.InfoLevel
	if cfg.Level != "" {
		if parsed, err := zerolog.ParseLevel(cfg.Level); err == nil {
			level = parsed
		}
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var writer io.Writer = cfg.Output
	if writer == nil {
		writer = os.Stdout
	}
	if cfg.Pretty {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	service := cfg.Service
	if service == "" {
		service = "reapergt-poller"
	}

	base = zerolog.New(writer).With().
		Timestamp().
		Str("service", service).
		Logger()

	initialized = true
}

func ensureInitialized() {
	mu.RLock()
	if initialized {
		mu.RUnlock()
		return
	}
	mu.RUnlock()
	Configure(Config{})
}

// L returns the global logger.
func L() zerolog.Logger {
	ensureInitialized()
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Component returns a child logger tagged with the given component name,
// e.g. obslog.Component("scheduler") for the Adaptive Scheduler's run-loop
// log lines.
func Component(name string) zerolog.Logger {
	return L().With().Str("component", name).Logger()
}

// tickIDKey is the context key tick IDs are stored under so every log
// line emitted during a scheduler tick can be correlated.
type tickIDKey struct{}

// ContextWithTickID returns a context carrying the given tick ID.
func ContextWithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey{}, id)
}

// TickIDFromContext returns the tick ID stored in ctx, or "" if absent.
func TickIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(tickIDKey{}).(string)
	return id
}

// NewTickID generates a fresh tick correlation ID.
func NewTickID() string {
	return uuid.New().String()
}

// WithTick returns a logger annotated with the tick ID from ctx, if any.
func WithTick(ctx context.Context) zerolog.Logger {
	l := L()
	if id := TickIDFromContext(ctx); id != "" {
		l = l.With().Str("tick_id", id).Logger()
	}
	return l
}

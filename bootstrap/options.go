package bootstrap

import (
	"context"
	"time"

	"github.com/spf13/afero"

	"github.com/cdpboot/cdpboot/api"
	"github.com/cdpboot/cdpboot/launcher"
	"github.com/cdpboot/cdpboot/log"
	"github.com/cdpboot/cdpboot/metrics"
	"github.com/cdpboot/cdpboot/trace"
	"github.com/cdpboot/cdpboot/transport"
)

// DefaultTimeout bounds starting the browser and the CDP handshake.
const DefaultTimeout = 30 * time.Second

// SpawnFunc starts a browser process.
type SpawnFunc func(ctx context.Context, spec launcher.SpawnSpec, logger *log.Logger) (api.Process, error)

// Spawn starts the browser with launcher.Spawn.
func Spawn(ctx context.Context, spec launcher.SpawnSpec, logger *log.Logger) (api.Process, error) {
	p, err := launcher.Spawn(ctx, spec, logger)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	return p, nil
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithLogger sets the logger.
func WithLogger(logger *log.Logger) Option {
	return func(b *Bootstrapper) { b.logger = logger }
}

// WithRandSource sets the randomness websocket ports are picked with.
func WithRandSource(src transport.RandSource) Option {
	return func(b *Bootstrapper) { b.selector = transport.NewSelector(src) }
}

// WithFs sets the filesystem Gecko profiles are written to.
func WithFs(fs afero.Fs) Option {
	return func(b *Bootstrapper) { b.fs = fs }
}

// WithTracer sets the tracer launch stages are traced with.
func WithTracer(t *trace.Tracer) Option {
	return func(b *Bootstrapper) { b.tracer = t }
}

// WithMetrics sets where launch metrics are recorded.
func WithMetrics(r *metrics.Recorder) Option {
	return func(b *Bootstrapper) { b.metrics = r }
}

// WithTimeout bounds starting the browser and the CDP handshake.
// A non-positive timeout means DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(b *Bootstrapper) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithSpawner replaces the function starting browser processes.
func WithSpawner(fn SpawnFunc) Option {
	return func(b *Bootstrapper) { b.spawn = fn }
}

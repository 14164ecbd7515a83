// Package atlasctx carries the ambient values every crawl component needs —
// a logger, a clock, cancellation, and producer metadata — explicitly,
// instead of through package-level globals. A Context is created once at
// startup and threaded through the scheduler, renderer pool, archive
// writer, and every other component that logs or checks for cancellation.
package atlasctx

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Clock abstracts wall-clock access so tests can control time.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by time.Now.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// Producer describes the binary that produced an archive, copied into the
// manifest's producer{} block.
type Producer struct {
	Name    string
	Version string
	Build   string
	GitHash string
}

// Context bundles the ambient values for one crawl run. It is not a
// context.Context itself (it carries one, for cancellation) so that it can
// also carry a logger and clock without resorting to context.Value lookups.
type Context struct {
	Ctx      context.Context
	Cancel   context.CancelFunc
	Log      zerolog.Logger
	Clock    Clock
	Producer Producer
}

// New builds a root Context with cancellation derived from parent.
func New(parent context.Context, log zerolog.Logger, producer Producer) *Context {
	ctx, cancel := context.WithCancel(parent)
	return &Context{
		Ctx:      ctx,
		Cancel:   cancel,
		Log:      log,
		Clock:    RealClock{},
		Producer: producer,
	}
}

// WithTimeout returns a child Context whose cancellation fires after d,
// sharing the same logger, clock and producer metadata.
func (c *Context) WithTimeout(d time.Duration) (*Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(c.Ctx, d)
	return &Context{
		Ctx:      ctx,
		Cancel:   cancel,
		Log:      c.Log,
		Clock:    c.Clock,
		Producer: c.Producer,
	}, cancel
}

// Done reports whether the run has been cancelled.
func (c *Context) Done() <-chan struct{} {
	return c.Ctx.Done()
}

// Err returns the reason the context was cancelled, or nil.
func (c *Context) Err() error {
	return c.Ctx.Err()
}

// Package ratelimit implements the per-host token bucket (C2): a
// non-blocking tryConsume/tokens contract backed by golang.org/x/time/rate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Bucket is a concurrent-safe collection of per-host token buckets sharing
// one default rps/burst pair, with optional per-host overrides (e.g. from a
// robots.txt crawl-delay).
type Bucket struct {
	mu           sync.Mutex
	hosts        map[string]*rate.Limiter
	defaultRPS   float64
	defaultBurst int
}

// New creates a Bucket where every host starts out with rps tokens/second
// and the given burst capacity.
func New(rps float64, burst int) *Bucket {
	if burst < 1 {
		burst = 1
	}
	return &Bucket{
		hosts:        make(map[string]*rate.Limiter),
		defaultRPS:   rps,
		defaultBurst: burst,
	}
}

func (b *Bucket) limiterFor(host string) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.hosts[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(b.defaultRPS), b.defaultBurst)
		b.hosts[host] = l
	}
	return l
}

// TryConsume attempts to deduct one token from host's bucket at instant now.
// It never partially consumes: either a full token is available and it
// returns true, or it returns false and the bucket is left untouched.
func (b *Bucket) TryConsume(host string, now time.Time) bool {
	return b.limiterFor(host).AllowN(now, 1)
}

// Wait blocks until host's bucket can spare one token, or ctx is done. Unlike
// TryConsume it always consumes once it returns nil, so callers that want a
// non-blocking admission check must use TryConsume instead.
func (b *Bucket) Wait(ctx context.Context, host string) error {
	return b.limiterFor(host).WaitN(ctx, 1)
}

// Tokens reports the current token level for host, for telemetry only.
func (b *Bucket) Tokens(host string) float64 {
	return b.limiterFor(host).TokensAt(time.Now())
}

// SetCrawlDelay overrides host's effective rate to at most one token every
// delay, used when robots.txt advertises a Crawl-delay. A zero or negative
// delay is a no-op.
func (b *Bucket) SetCrawlDelay(host string, delay time.Duration) {
	if delay <= 0 {
		return
	}
	rps := 1.0 / delay.Seconds()

	b.mu.Lock()
	defer b.mu.Unlock()
	if existing, ok := b.hosts[host]; ok && float64(existing.Limit()) <= rps {
		return
	}
	b.hosts[host] = rate.NewLimiter(rate.Limit(rps), 1)
}

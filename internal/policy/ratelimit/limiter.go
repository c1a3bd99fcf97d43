// Package ratelimit implements a per-host token bucket that paces browser
// navigations across every worker.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/clinical-trials-crawler/internal/metrics"
)

// minObservedDelay filters out grants that were effectively immediate.
const minObservedDelay = time.Millisecond

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter hands out navigation tokens, one bucket per host. The zero value is
// not usable; construct with New. A nil *Limiter never blocks.
type Limiter struct {
	every rate.Limit
	burst int

	mu    sync.Mutex
	hosts map[string]*rate.Limiter
}

// New creates a Limiter. It returns nil when cfg disables throttling.
func New(cfg Config) *Limiter {
	if cfg.RPS <= 0 {
		return nil
	}
	burst := max(cfg.Burst, 1)
	return &Limiter{
		every: rate.Limit(cfg.RPS),
		burst: burst,
		hosts: make(map[string]*rate.Limiter),
	}
}

// Wait blocks until the host of rawURL may be navigated to again.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	if l == nil {
		return nil
	}
	host := metrics.SanitizeSite(rawURL)
	bucket := l.bucket(host)

	start := time.Now()
	if err := bucket.Wait(ctx); err != nil {
		return fmt.Errorf("navigation pacing for %s: %w", host, err)
	}
	if waited := time.Since(start); waited > minObservedDelay {
		metrics.ObserveNavigationDelay(host, waited)
	}
	return nil
}

// Hosts reports how many distinct hosts have been paced so far.
func (l *Limiter) Hosts() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hosts)
}

func (l *Limiter) bucket(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.hosts[host]
	if !ok {
		b = rate.NewLimiter(l.every, l.burst)
		l.hosts[host] = b
	}
	return b
}

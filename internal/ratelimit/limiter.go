// Package ratelimit gates outbound requests per domain with a fixed minimum interval
// and caps the number of requests in flight across all domains.
package ratelimit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

type Config struct {
	DefaultInterval time.Duration
	Intervals       map[string]time.Duration // per-domain overrides
	MaxInFlight     int
}

type Limiter struct {
	cfg    Config
	global *semaphore.Weighted
	now    func() time.Time

	mu      sync.Mutex
	domains map[string]*rate.Limiter
}

func New(cfg Config) *Limiter {
	if cfg.DefaultInterval <= 0 {
		cfg.DefaultInterval = 1500 * time.Millisecond
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 16
	}
	return &Limiter{
		cfg:     cfg,
		global:  semaphore.NewWeighted(int64(cfg.MaxInFlight)),
		now:     time.Now,
		domains: make(map[string]*rate.Limiter),
	}
}

// Permit holds one global in-flight slot. The per-domain interval was consumed at grant time.
type Permit struct {
	once    sync.Once
	release func()
}

// Release frees the global slot. Calling it more than once is a no-op.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(p.release)
}

// Acquire blocks until a global slot is free and then until the domain's next allowed
// time has passed. The domain interval is reserved only once the global slot is held, so
// callers queued on the global cap cannot be released together for one domain.
func (l *Limiter) Acquire(ctx context.Context, domain string) (*Permit, error) {
	if err := l.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	release := func() { l.global.Release(1) }

	r := l.limiter(domain).ReserveN(l.now(), 1)
	if !r.OK() {
		release()
		return nil, context.DeadlineExceeded
	}
	if d := r.DelayFrom(l.now()); d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			r.Cancel()
			release()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return &Permit{release: release}, nil
}

// Delay reports how long a request to domain issued now would wait for its interval.
func (l *Limiter) Delay(domain string) time.Duration {
	key := Normalize(domain)
	l.mu.Lock()
	lim, ok := l.domains[key]
	l.mu.Unlock()
	if !ok {
		return 0
	}
	return delayOf(lim, l.now())
}

// Delays snapshots the current delay of every domain seen so far.
func (l *Limiter) Delays() map[string]time.Duration {
	l.mu.Lock()
	keys := make([]string, 0, len(l.domains))
	lims := make([]*rate.Limiter, 0, len(l.domains))
	for k, v := range l.domains {
		keys = append(keys, k)
		lims = append(lims, v)
	}
	l.mu.Unlock()

	now := l.now()
	out := make(map[string]time.Duration, len(keys))
	for i, k := range keys {
		out[k] = delayOf(lims[i], now)
	}
	return out
}

// Domains lists known domains in sorted order.
func (l *Limiter) Domains() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.domains))
	for k := range l.domains {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Interval returns the configured spacing for domain.
func (l *Limiter) Interval(domain string) time.Duration {
	if d, ok := l.cfg.Intervals[Normalize(domain)]; ok && d > 0 {
		return d
	}
	return l.cfg.DefaultInterval
}

func (l *Limiter) limiter(domain string) *rate.Limiter {
	key := Normalize(domain)
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.domains[key]
	if !ok {
		lim = rate.NewLimiter(rate.Every(l.Interval(key)), 1)
		l.domains[key] = lim
	}
	return lim
}

func delayOf(lim *rate.Limiter, now time.Time) time.Duration {
	tokens := lim.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	missing := 1 - tokens
	return time.Duration(missing / float64(lim.Limit()) * float64(time.Second))
}

// Normalize lowercases a host and strips a leading "www." and any port.
func Normalize(domain string) string {
	d := strings.ToLower(strings.TrimSpace(domain))
	if i := strings.LastIndexByte(d, ':'); i > 0 && !strings.Contains(d[i:], "]") {
		d = d[:i]
	}
	return strings.TrimPrefix(d, "www.")
}

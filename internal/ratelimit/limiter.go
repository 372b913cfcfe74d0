// Package ratelimit implements fixed-window admission control keyed by client.
//
// A key's window starts on its first request and is replaced wholesale once
// it has expired, so a client may spend max at the end of one window and max
// again at the start of the next. Records are swept by Run, independent of
// request traffic.
package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultSweepPeriod is how often Run removes expired records.
const DefaultSweepPeriod = time.Minute

// Config describes one limiter scope.
type Config struct {
	// Scope names the limiter in metrics and logs (e.g. "api", "login").
	Scope  string
	Window time.Duration
	Max    int
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed           bool
	Limit             int
	Remaining         int
	ResetTime         time.Time
	RetryAfterSeconds int
}

type record struct {
	windowStart time.Time
	resetTime   time.Time
	count       int
}

// Limiter counts requests per key within a fixed window. It is safe for
// concurrent use; the zero value is not usable, construct with New.
type Limiter struct {
	scope   string
	window  time.Duration
	max     int
	metrics *metrics

	mu      sync.Mutex
	records map[string]*record
	nowF    func() time.Time
}

// New returns a Limiter for cfg. reg may be nil to disable metrics.
func New(cfg Config, reg prometheus.Registerer) (*Limiter, error) {
	if cfg.Scope == "" {
		cfg.Scope = "default"
	}
	if cfg.Window <= 0 || cfg.Max <= 0 {
		return nil, errInvalidConfig
	}
	m, err := newMetrics(reg)
	if err != nil {
		return nil, err
	}
	return &Limiter{
		scope:   cfg.Scope,
		window:  cfg.Window,
		max:     cfg.Max,
		metrics: m,
		records: make(map[string]*record),
		nowF:    time.Now,
	}, nil
}

// WithClock replaces the time source. For tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.nowF = now
	return l
}

// Scope returns the limiter's scope name.
func (l *Limiter) Scope() string { return l.scope }

// Allow admits or rejects one request for key. A rejected request does not
// consume from the window.
func (l *Limiter) Allow(key string) Decision {
	now := l.nowF()

	l.mu.Lock()
	rec, ok := l.records[key]
	if !ok || now.After(rec.resetTime) {
		rec = &record{windowStart: now, resetTime: now.Add(l.window)}
		l.records[key] = rec
	}
	d := Decision{Limit: l.max, ResetTime: rec.resetTime}
	if rec.count >= l.max {
		d.RetryAfterSeconds = retryAfter(rec.resetTime.Sub(now))
	} else {
		rec.count++
		d.Allowed = true
		d.Remaining = l.max - rec.count
	}
	l.mu.Unlock()

	l.metrics.observe(l.scope, d.Allowed)
	return d
}

// Release gives back one request admitted by d, as long as the window that
// admitted it is still current. Used to not count skipped outcomes.
func (l *Limiter) Release(key string, d Decision) {
	if !d.Allowed {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok || !rec.resetTime.Equal(d.ResetTime) || rec.count == 0 {
		return
	}
	rec.count--
}

// Sweep deletes every record whose window has expired and returns how many
// were removed.
func (l *Limiter) Sweep() int {
	now := l.nowF()
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, rec := range l.records {
		if now.After(rec.resetTime) {
			delete(l.records, k)
			n++
		}
	}
	l.metrics.setRecords(l.scope, len(l.records))
	return n
}

// Len returns the number of live records.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// Run sweeps expired records every period until ctx is cancelled.
// A non-positive period uses DefaultSweepPeriod.
func (l *Limiter) Run(ctx context.Context, period time.Duration) {
	if period <= 0 {
		period = DefaultSweepPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

// retryAfter rounds up to whole seconds, never below 1.
func retryAfter(d time.Duration) int {
	s := int(math.Ceil(d.Seconds()))
	if s < 1 {
		return 1
	}
	return s
}

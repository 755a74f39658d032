package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultWindow is the fixed counting window per client.
	DefaultWindow = 60 * time.Second
	// DefaultLimit is the number of requests accepted per client per window.
	DefaultLimit = 100
)

// window tracks a single client's count for the active window
type window struct {
	start time.Time
	count int
	// denied is set by the first rejection in this window
	denied bool
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	// Limit is the per-window threshold.
	Limit int
	// Count is the post-increment count for the active window, rejected attempts included.
	Count int
	// Remaining is how many more requests fit in the active window, never negative.
	Remaining int
	// ResetAt is when the active window ends.
	ResetAt time.Time
	// RetryAfter is the remaining window time, only set when denied. The
	// window restarts strictly after ResetAt, so a request arriving exactly
	// RetryAfter later is still in the old window.
	RetryAfter time.Duration
	// FirstDenied marks the first rejection for this client in the active window.
	FirstDenied bool
}

// Limiter is a per-client fixed window counter with background eviction of idle clients
type Limiter struct {
	mu      sync.Mutex
	windows map[string]*window

	limit  int
	period time.Duration
	// ttl is how long an expired window may sit idle before cleanup drops it
	ttl time.Duration

	now func() time.Time
}

type Option func(*Limiter)

// WithLimit sets the per-window request threshold and the window length.
// Only tests should need this, the server runs with DefaultLimit/DefaultWindow.
func WithLimit(limit int, period time.Duration) Option {
	return func(l *Limiter) {
		l.limit = limit
		l.period = period
	}
}

// WithTTL controls how long an idle client with an expired window stays in the map
func WithTTL(d time.Duration) Option {
	return func(l *Limiter) { l.ttl = d }
}

// WithClock replaces time.Now, for deterministic tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New creates a Limiter and starts the cleanup goroutine, which stops when ctx is done
func New(ctx context.Context, opts ...Option) *Limiter {
	l := &Limiter{
		windows: make(map[string]*window),
		limit:   DefaultLimit,
		period:  DefaultWindow,
		ttl:     5 * time.Minute,
		now:     time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	go l.cleanup(ctx)
	return l
}

// Allow counts one request for ip and reports whether it is within the limit.
// A window that has run past start+period is restarted with this request as its first.
func (l *Limiter) Allow(ip string) Decision {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[ip]
	if !ok || now.After(w.start.Add(l.period)) {
		w = &window{start: now}
		l.windows[ip] = w
	}
	w.count++

	resetAt := w.start.Add(l.period)
	d := Decision{
		Allowed:   w.count <= l.limit,
		Limit:     l.limit,
		Count:     w.count,
		Remaining: max(l.limit-w.count, 0),
		ResetAt:   resetAt,
	}
	if !d.Allowed {
		d.RetryAfter = resetAt.Sub(now)
		d.FirstDenied = !w.denied
		w.denied = true
	}
	return d
}

// Len reports how many clients currently have state.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Limit reports the per-window threshold.
func (l *Limiter) Limit() int { return l.limit }

// Window reports the window length.
func (l *Limiter) Window() time.Duration { return l.period }

// sweep drops clients whose window ended more than ttl ago. An expired window
// would be restarted on the next request anyway, so dropping it never changes a decision.
func (l *Limiter) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, w := range l.windows {
		if now.Sub(w.start.Add(l.period)) > l.ttl {
			delete(l.windows, ip)
			n++
		}
	}
	return n
}

// cleanup runs sweep every ttl/2 until ctx is done
func (l *Limiter) cleanup(ctx context.Context) {
	interval := l.ttl / 2
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep(l.now())
		}
	}
}

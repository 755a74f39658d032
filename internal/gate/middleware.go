package gate

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/ipgate/internal/httpmw"
	"github.com/keithlinneman/ipgate/internal/log"
	"github.com/keithlinneman/ipgate/internal/ratelimit"
	"github.com/keithlinneman/ipgate/internal/stats"
)

const (
	// RateLimitedBody is the 429 response text.
	RateLimitedBody = "Too many requests, please try again later."
	// ForbiddenBody is the 403 response text.
	ForbiddenBody = "Forbidden"
)

type handlerConfig struct {
	blockedLog      *rate.Limiter
	onLogSuppressed func()
	onOutcome       func(Outcome)
	onRateLimited   func(ip string, d ratelimit.Decision)
	recorder        stats.Recorder
	now             func() time.Time
}

type HandlerOption func(*handlerConfig)

// WithBlockedLogLimit throttles "blocked connection" log lines. Without it
// every recency rejection is logged.
func WithBlockedLogLimit(l *rate.Limiter) HandlerOption {
	return func(c *handlerConfig) { c.blockedLog = l }
}

// WithOnLogSuppressed is called for each blocked-connection line the throttle drops.
func WithOnLogSuppressed(fn func()) HandlerOption {
	return func(c *handlerConfig) { c.onLogSuppressed = fn }
}

// WithOnOutcome is called once per request with the terminal outcome.
func WithOnOutcome(fn func(Outcome)) HandlerOption {
	return func(c *handlerConfig) { c.onOutcome = fn }
}

// WithOnRateLimited is called on a client's first rate rejection in each
// window. It runs after the pipeline lock is released.
func WithOnRateLimited(fn func(ip string, d ratelimit.Decision)) HandlerOption {
	return func(c *handlerConfig) { c.onRateLimited = fn }
}

// WithRecorder sends every decision to r. Recorder errors are ignored here,
// wrap r in stats.Async to get error and drop hooks.
func WithRecorder(r stats.Recorder) HandlerOption {
	return func(c *handlerConfig) { c.recorder = r }
}

// Middleware answers 429 or 403 for rejected requests and passes the rest to
// next. It expects httpmw.ClientIP to have run; a request without a client IP
// is keyed as httpmw.UnknownClientIP.
//
// Rate limit headers are set on every response, rejected or not.
func (p *Pipeline) Middleware(opts ...HandlerOption) func(http.Handler) http.Handler {
	cfg := handlerConfig{now: time.Now}
	for _, o := range opts {
		o(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ip := httpmw.ClientIPFromContext(ctx)
			if ip == "" {
				ip = httpmw.UnknownClientIP
			}

			res := p.Evaluate(ip)
			setRateHeaders(w.Header(), res)

			if span := trace.SpanFromContext(ctx); span.IsRecording() {
				span.SetAttributes(
					attribute.String("gate.outcome", res.Outcome.String()),
					attribute.Int("gate.rate.remaining", res.Rate.Remaining),
				)
			}
			if cfg.onOutcome != nil {
				cfg.onOutcome(res.Outcome)
			}
			if res.Rate.FirstDenied && cfg.onRateLimited != nil {
				cfg.onRateLimited(ip, res.Rate)
			}
			if cfg.recorder != nil {
				_ = cfg.recorder.Record(ctx, stats.Event{
					IP:      ip,
					Outcome: res.Outcome.String(),
					Method:  r.Method,
					Route:   httpmw.RoutePattern(r),
					At:      cfg.now(),
				})
			}

			switch res.Outcome {
			case RejectedByRate:
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(res.Rate.RetryAfter)))
				writeText(w, http.StatusTooManyRequests, RateLimitedBody)
			case RejectedByRecency:
				cfg.logBlocked(ctx, ip)
				writeText(w, http.StatusForbidden, ForbiddenBody)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (c *handlerConfig) logBlocked(ctx context.Context, ip string) {
	if c.blockedLog != nil && !c.blockedLog.Allow() {
		if c.onLogSuppressed != nil {
			c.onLogSuppressed()
		}
		return
	}
	log.FromContext(ctx).Warn(ctx, "blocked connection", "client.address", ip)
}

func setRateHeaders(h http.Header, res Result) {
	d := res.Rate
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if !d.ResetAt.IsZero() {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(int64(math.Ceil(float64(d.ResetAt.UnixMilli())/1000)), 10))
	}
}

// retryAfterSeconds is the remaining window rounded up to whole seconds. The
// window only restarts strictly after its end, so a request sent exactly on a
// whole-second boundary can still land in the old window.
func retryAfterSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// Package gate runs the per-request access checks in front of the site.
//
// A request is first counted by the rate limiter and, only if that accepts,
// checked against the recency log. The first rejection ends evaluation; a
// request that passes both is handed to the downstream handler. Each request
// reaches exactly one terminal Outcome.
package gate

import (
	"errors"
	"sync"

	"github.com/keithlinneman/ipgate/internal/ratelimit"
)

var (
	// ErrRateLimitExceeded means the client used up its per-window request budget (HTTP 429).
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrRecentConnectionBlocked means the client is still in the recency log (HTTP 403).
	ErrRecentConnectionBlocked = errors.New("recent connection blocked")
)

// Outcome is the terminal state of one evaluation.
type Outcome int

const (
	Delegated Outcome = iota
	RejectedByRate
	RejectedByRecency
)

func (o Outcome) String() string {
	switch o {
	case Delegated:
		return "delegated"
	case RejectedByRate:
		return "rejected_rate"
	case RejectedByRecency:
		return "rejected_recency"
	}
	return "unknown"
}

// Result is what Evaluate decided and the rate state it saw.
type Result struct {
	Outcome Outcome
	// Rate is always populated, the rate limiter runs for every request.
	Rate ratelimit.Decision
}

// Err maps a rejection to its sentinel, nil when the request was delegated.
func (r Result) Err() error {
	switch r.Outcome {
	case RejectedByRate:
		return ErrRateLimitExceeded
	case RejectedByRecency:
		return ErrRecentConnectionBlocked
	}
	return nil
}

// RateChecker is the first stage.
type RateChecker interface {
	Allow(ip string) ratelimit.Decision
}

// RecencyChecker is the second stage.
type RecencyChecker interface {
	Admit(ip string) bool
}

// Pipeline owns the process-wide gate state. Build one at startup and share it.
type Pipeline struct {
	// serializes whole evaluations so two requests never interleave between stages
	mu      sync.Mutex
	rate    RateChecker
	recency RecencyChecker
}

// New composes the two stages in their fixed order.
func New(rate RateChecker, rec RecencyChecker) *Pipeline {
	return &Pipeline{rate: rate, recency: rec}
}

// Evaluate runs the rate check then, if it accepted, the recency check.
func (p *Pipeline) Evaluate(ip string) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	res := Result{Rate: p.rate.Allow(ip)}
	switch {
	case !res.Rate.Allowed:
		res.Outcome = RejectedByRate
	case !p.recency.Admit(ip):
		res.Outcome = RejectedByRecency
	default:
		res.Outcome = Delegated
	}
	return res
}

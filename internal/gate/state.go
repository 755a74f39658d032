package gate

import (
	"github.com/keithlinneman/ipgate/internal/ratelimit"
	"github.com/keithlinneman/ipgate/internal/recency"
)

// State is a point-in-time view of the gate for the admin listener. It
// exposes client IPs, so it must never be served on the public port.
type State struct {
	RecencyLog        []string `json:"recency_log"`
	RecencyCapacity   int      `json:"recency_capacity"`
	RateLimit         int      `json:"rate_limit"`
	RateWindowSeconds float64  `json:"rate_window_seconds"`
	TrackedClients    int      `json:"tracked_clients"`
}

// Inspect reads both stages. The two reads are not atomic with respect to
// each other, which is fine for a debug view.
func Inspect(rl *ratelimit.Limiter, rec *recency.Tracker) State {
	return State{
		RecencyLog:        rec.Snapshot(),
		RecencyCapacity:   rec.Capacity(),
		RateLimit:         rl.Limit(),
		RateWindowSeconds: rl.Window().Seconds(),
		TrackedClients:    rl.Len(),
	}
}

// Package stats records gate decisions for later inspection.
//
// Recorders are write-only from the gate's point of view: nothing recorded
// here ever feeds back into an access decision, and a failing recorder must
// never fail a request.
package stats

import (
	"context"
	"errors"
	"maps"
	"sync"
	"time"
)

// Event is one gate decision.
type Event struct {
	IP      string
	Outcome string
	Method  string
	// Route is the matched route pattern, never the raw request path.
	Route string
	At    time.Time
}

// Recorder stores decision events. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Memory counts events per outcome. Outcomes are a closed set, so it never grows.
type Memory struct {
	mu    sync.Mutex
	total map[string]int64
}

func NewMemory() *Memory {
	return &Memory{total: make(map[string]int64)}
}

func (m *Memory) Record(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total[ev.Outcome]++
	return nil
}

// Totals returns a copy of the per-outcome counters.
func (m *Memory) Totals() map[string]int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.total)
}

// Multi sends each event to every recorder and joins their errors.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, ev Event) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

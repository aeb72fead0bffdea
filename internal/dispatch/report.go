package dispatch

import (
	"sync"
	"sync/atomic"
)

// Result is the aggregate outcome of one dispatch. Failure counts both gone
// and transient outcomes; Removed lists the subscriptions pruned as gone.
type Result struct {
	DispatchID string   `json:"dispatch_id"`
	Recipients int      `json:"recipients"`
	Success    int      `json:"success_count"`
	Failure    int      `json:"fail_count"`
	Removed    []string `json:"removed"`
}

// Reporter accumulates per-recipient outcomes from concurrent deliveries.
type Reporter struct {
	success atomic.Int64
	failure atomic.Int64

	mu      sync.Mutex
	removed []string
}

func NewReporter() *Reporter {
	return &Reporter{}
}

func (r *Reporter) Delivered() {
	r.success.Add(1)
}

func (r *Reporter) Failed() {
	r.failure.Add(1)
}

func (r *Reporter) Removed(id string) {
	r.mu.Lock()
	r.removed = append(r.removed, id)
	r.mu.Unlock()
}

// Result snapshots the counters. Call it after every delivery has returned.
func (r *Reporter) Result() Result {
	r.mu.Lock()
	removed := make([]string, len(r.removed))
	copy(removed, r.removed)
	r.mu.Unlock()

	return Result{
		Success: int(r.success.Load()),
		Failure: int(r.failure.Load()),
		Removed: removed,
	}
}

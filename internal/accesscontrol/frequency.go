package accesscontrol

import (
	"sync"
	"time"
)

// frequencyWindow is the rolling window for request_frequency conditions.
const frequencyWindow = time.Hour

// frequencyTracker records per-agent request timestamps for the
// request_frequency condition. Histories are keyed by agent id in a
// sync.Map with a mutex per agent, so unrelated agents never contend
// on the evaluation hot path.
type frequencyTracker struct {
	agents sync.Map // agent id → *agentHistory
}

type agentHistory struct {
	mu    sync.Mutex
	times []time.Time
}

func newFrequencyTracker() *frequencyTracker {
	return &frequencyTracker{}
}

// Observe records a request at the given instant, prunes entries older than
// the window, and returns the number of requests remaining in the window
// (including this one). Recording is unconditional: callers that ultimately
// deny for other reasons still count against the agent's window.
func (t *frequencyTracker) Observe(agentID string, at time.Time) int {
	v, _ := t.agents.LoadOrStore(agentID, &agentHistory{})
	h := v.(*agentHistory)

	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := at.Add(-frequencyWindow)
	kept := h.times[:0]
	for _, ts := range h.times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	h.times = append(kept, at)
	return len(h.times)
}

// Count returns the agent's request count in the window ending at the given
// instant, without recording anything.
func (t *frequencyTracker) Count(agentID string, at time.Time) int {
	v, ok := t.agents.Load(agentID)
	if !ok {
		return 0
	}
	h := v.(*agentHistory)

	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := at.Add(-frequencyWindow)
	n := 0
	for _, ts := range h.times {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

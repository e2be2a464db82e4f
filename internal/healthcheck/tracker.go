package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the timing of the latest poll cycle.
type Snapshot struct {
	LastCycleTime   *time.Time `json:"last_cycle_time"`
	CycleDurationMS int64      `json:"cycle_duration_ms"`
	NodesPolled     int        `json:"nodes_polled"`
	BridgeState     string     `json:"bridge_state,omitempty"`
	FailedCycles    int        `json:"consecutive_failed_cycles"`
}

// Tracker records poll timing for the liveness and readiness endpoints.
type Tracker struct {
	mu            sync.RWMutex
	lastCycle     time.Time
	cycleDuration time.Duration
	nodesPolled   int
	bridgeState   string
	failedCycles  int
	ready         bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordCycle updates poll timing and readiness after a published snapshot.
func (t *Tracker) RecordCycle(duration time.Duration, nodesPolled int, bridgeState string) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastCycle = now
	t.cycleDuration = duration
	t.nodesPolled = nodesPolled
	t.bridgeState = bridgeState
	t.failedCycles = 0
	t.ready = true
	t.mu.Unlock()
}

// RecordFailure counts a poll cycle that produced no snapshot.
func (t *Tracker) RecordFailure() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.failedCycles++
	t.mu.Unlock()
}

// MarkReady flags the service ready without a completed cycle, e.g. after a
// snapshot was restored from disk.
func (t *Tracker) MarkReady() {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastCycle.IsZero() {
		value := t.lastCycle
		last = &value
	}
	return Snapshot{
		LastCycleTime:   last,
		CycleDurationMS: int64(t.cycleDuration / time.Millisecond),
		NodesPolled:     t.nodesPolled,
		BridgeState:     t.bridgeState,
		FailedCycles:    t.failedCycles,
	}
}

// Ready reports whether snapshot data is available to serve.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last cycle completed within 2x the poll interval.
func (t *Tracker) Healthy(now time.Time, pollInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if pollInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastCycle.IsZero() {
		return false
	}
	return now.Sub(t.lastCycle) <= 2*pollInterval
}

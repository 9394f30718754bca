// internal/status/tracker.go
package status

import "sync"

// Tracker owns a Snapshot and applies the health transition rules.
// Safe for concurrent use: the supervisor writes, the API reads.
type Tracker struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewTracker starts in HealthUnknown.
func NewTracker() *Tracker {
	return &Tracker{snap: Snapshot{Health: HealthUnknown}}
}

// Observe records the outcome of a link check.
// Returns true when the health code changed.
func (t *Tracker) Observe(err error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.snap.Health

	if err == nil {
		// Recovery / OK
		t.snap.Health = HealthOK
		t.snap.LastError = ""
		t.snap.SecondsInError = 0
		return prev != HealthOK
	}

	t.snap.Health = HealthError
	t.snap.LastError = err.Error()
	// NOTE: seconds_in_error increments on Tick only.
	return prev != HealthError
}

// Tick advances seconds_in_error while not OK. Call at 1 Hz.
func (t *Tracker) Tick() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.snap.Health != HealthOK && t.snap.SecondsInError < MaxSecondsInError {
		t.snap.SecondsInError++
	}
}

// Reconnected counts a successful reconnect.
func (t *Tracker) Reconnected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.snap.Reconnects++
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snap
}

// internal/status/tracker_test.go
package status

import (
	"errors"
	"testing"

	"gotest.tools/v3/assert"
)

func TestTracker_StartsUnknown(t *testing.T) {
	tr := NewTracker()
	assert.Equal(t, tr.Snapshot().Health, HealthUnknown)
	assert.Equal(t, HealthName(tr.Snapshot().Health), "unknown")
}

func TestTracker_ErrorThenRecovery(t *testing.T) {
	tr := NewTracker()

	assert.Assert(t, tr.Observe(errors.New("dial tcp: refused")))
	assert.Assert(t, !tr.Observe(errors.New("dial tcp: refused")), "same health must not report a change")

	tr.Tick()
	tr.Tick()
	snap := tr.Snapshot()
	assert.Equal(t, snap.Health, HealthError)
	assert.Equal(t, snap.SecondsInError, uint16(2))
	assert.Equal(t, snap.LastError, "dial tcp: refused")

	assert.Assert(t, tr.Observe(nil))
	snap = tr.Snapshot()
	assert.Assert(t, snap.OK())
	assert.Equal(t, snap.SecondsInError, uint16(0))
	assert.Equal(t, snap.LastError, "")
}

func TestTracker_TickIgnoredWhileOK(t *testing.T) {
	tr := NewTracker()
	tr.Observe(nil)
	tr.Tick()
	assert.Equal(t, tr.Snapshot().SecondsInError, uint16(0))
}

func TestTracker_SecondsSaturate(t *testing.T) {
	tr := NewTracker()
	tr.Observe(errors.New("down"))
	tr.snap.SecondsInError = MaxSecondsInError
	tr.Tick()
	assert.Equal(t, tr.Snapshot().SecondsInError, uint16(MaxSecondsInError))
}

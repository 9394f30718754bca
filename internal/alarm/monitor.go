// internal/alarm/monitor.go

// Package alarm turns snapshot edges into recorded alarms.
package alarm

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/ring-tester/internal/storage"
	"github.com/tamzrod/ring-tester/internal/telemetry"
)

// Alarm codes. Stored verbatim; MUST NOT be renumbered.
const (
	CodeEStop      = "E001"
	CodeServoError = "E002"
	CodeUpperLimit = "W001"
	CodeLowerLimit = "W002"
	CodeOffline    = "W003"
)

type rule struct {
	code     string
	severity string
	message  string
	// link rules are evaluated on every snapshot; the others only while
	// the controller is reachable, so an outage does not look like a
	// falling edge.
	link   bool
	active func(s telemetry.Snapshot) bool
}

var rules = []rule{
	{CodeEStop, storage.SeverityCritical, "emergency stop activated", false,
		func(s telemetry.Snapshot) bool { return s.EStop }},
	{CodeServoError, storage.SeverityCritical, "servo drive fault", false,
		func(s telemetry.Snapshot) bool { return s.ServoError }},
	{CodeUpperLimit, storage.SeverityWarning, "upper limit switch reached", false,
		func(s telemetry.Snapshot) bool { return s.UpperLimit }},
	{CodeLowerLimit, storage.SeverityWarning, "lower limit switch reached", false,
		func(s telemetry.Snapshot) bool { return s.LowerLimit }},
	{CodeOffline, storage.SeverityWarning, "controller offline", true,
		func(s telemetry.Snapshot) bool { return !s.Connected }},
}

// Monitor records one alarm per rising edge. Not safe for concurrent use:
// one goroutine feeds it.
type Monitor struct {
	store   storage.Store
	timeout time.Duration
	newID   func() string
	active  map[string]bool
}

func NewMonitor(store storage.Store) *Monitor {
	return &Monitor{
		store:   store,
		timeout: 5 * time.Second,
		newID:   func() string { return uuid.NewString() },
		active:  make(map[string]bool),
	}
}

// Run consumes feed until it is closed or ctx is done.
func (m *Monitor) Run(ctx context.Context, feed <-chan telemetry.Snapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-feed:
			if !ok {
				return
			}
			m.Observe(ctx, snap)
		}
	}
}

// Observe evaluates one snapshot and returns the alarms it raised.
// A condition already active at the first snapshot counts as an edge.
func (m *Monitor) Observe(ctx context.Context, snap telemetry.Snapshot) []storage.Alarm {
	var raised []storage.Alarm

	for _, r := range rules {
		if !r.link && !snap.Connected {
			continue
		}
		cur := r.active(snap)
		was := m.active[r.code]
		m.active[r.code] = cur
		if !cur || was {
			continue
		}

		a := storage.Alarm{
			ID:        m.newID(),
			Code:      r.code,
			Message:   r.message,
			Severity:  r.severity,
			Timestamp: snap.Timestamp,
		}
		if a.Timestamp.IsZero() {
			a.Timestamp = time.Now()
		}
		m.record(ctx, a)
		raised = append(raised, a)
	}
	return raised
}

func (m *Monitor) record(ctx context.Context, a storage.Alarm) {
	log.Printf("alarm: %s %s (severity=%s)", a.Code, a.Message, a.Severity)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.store.RecordAlarm(ctx, a); err != nil {
		log.Printf("alarm: record %s failed: %v", a.Code, err)
	}
}

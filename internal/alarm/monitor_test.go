// internal/alarm/monitor_test.go
package alarm

import (
	"context"
	"testing"
	"time"

	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/tamzrod/ring-tester/internal/storage"
	"github.com/tamzrod/ring-tester/internal/telemetry"
)

func live() telemetry.Snapshot {
	return telemetry.Snapshot{Connected: true, Timestamp: time.Unix(1_700_000_000, 0)}
}

func codes(as []storage.Alarm) []string {
	out := make([]string, 0, len(as))
	for _, a := range as {
		out = append(out, a.Code)
	}
	return out
}

func TestMonitor_RecordsRisingEdgeOnce(t *testing.T) {
	store := storage.NewMemory()
	m := NewMonitor(store)
	ctx := context.Background()

	assert.Equal(t, len(m.Observe(ctx, live())), 0)

	s := live()
	s.EStop = true
	got := m.Observe(ctx, s)
	assert.DeepEqual(t, codes(got), []string{CodeEStop})
	assert.Equal(t, got[0].Severity, storage.SeverityCritical)

	// held: no new alarm
	assert.Equal(t, len(m.Observe(ctx, s)), 0)

	// released then pressed again: new alarm
	m.Observe(ctx, live())
	assert.DeepEqual(t, codes(m.Observe(ctx, s)), []string{CodeEStop})

	stored, err := store.ListAlarms(ctx, storage.AlarmFilter{})
	assert.NilError(t, err)
	assert.Equal(t, len(stored), 2)
}

func TestMonitor_AllRules(t *testing.T) {
	m := NewMonitor(storage.NewMemory())
	s := live()
	s.EStop = true
	s.ServoError = true
	s.UpperLimit = true
	s.LowerLimit = true

	got := m.Observe(context.Background(), s)
	assert.DeepEqual(t, codes(got), []string{CodeEStop, CodeServoError, CodeUpperLimit, CodeLowerLimit})
	assert.Equal(t, got[2].Severity, storage.SeverityWarning)
}

func TestMonitor_OutageDoesNotRetriggerFlags(t *testing.T) {
	m := NewMonitor(storage.NewMemory())
	ctx := context.Background()

	s := live()
	s.UpperLimit = true
	m.Observe(ctx, s)

	got := m.Observe(ctx, telemetry.Offline(time.Now()))
	assert.DeepEqual(t, codes(got), []string{CodeOffline})

	// back online with the limit still engaged: only the offline rule resets
	assert.Equal(t, len(m.Observe(ctx, s)), 0)

	got = m.Observe(ctx, telemetry.Offline(time.Now()))
	assert.DeepEqual(t, codes(got), []string{CodeOffline})
}

func TestMonitor_RunConsumesFeed(t *testing.T) {
	store := storage.NewMemory()
	m := NewMonitor(store)
	feed := make(chan telemetry.Snapshot, 2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		m.Run(context.Background(), feed)
	}()

	s := live()
	s.ServoError = true
	feed <- s
	close(feed)
	<-done

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		got, err := store.ListAlarms(context.Background(), storage.AlarmFilter{ActiveOnly: true})
		if err != nil {
			return poll.Error(err)
		}
		if len(got) != 1 {
			return poll.Continue("have %d alarms", len(got))
		}
		return poll.Success()
	}, poll.WithTimeout(time.Second))
}

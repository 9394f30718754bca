// internal/broadcast/loop_test.go
package broadcast

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gotest.tools/v3/assert"
	"gotest.tools/v3/poll"

	"github.com/tamzrod/ring-tester/internal/telemetry"
)

type countingSource struct {
	n atomic.Int64
}

func (c *countingSource) Snapshot() telemetry.Snapshot {
	n := c.n.Add(1)
	return telemetry.Snapshot{Connected: true, ActualForce: float64(n)}
}

func startLoop(t *testing.T, src Source) (*Loop, context.CancelFunc, *sync.WaitGroup) {
	t.Helper()
	l := New(src, 2*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return l, cancel, &wg
}

func TestLoop_DeliversToEverySubscriber(t *testing.T) {
	l, _, _ := startLoop(t, &countingSource{})

	a := l.Subscribe(uuid.New())
	b := l.Subscribe(uuid.New())

	for _, ch := range []<-chan telemetry.Snapshot{a, b} {
		select {
		case snap := <-ch:
			assert.Assert(t, snap.Connected)
		case <-time.After(2 * time.Second):
			t.Fatal("no snapshot delivered")
		}
	}
	assert.Equal(t, l.Subscribers(), 2)
}

func TestLoop_SlowSubscriberGetsFreshest(t *testing.T) {
	src := &countingSource{}
	l := New(src, time.Hour)
	ch := l.Subscribe(uuid.New())

	l.publish(src.Snapshot())
	l.publish(src.Snapshot())
	l.publish(src.Snapshot())

	snap := <-ch
	assert.Equal(t, snap.ActualForce, 3.0)

	select {
	case extra := <-ch:
		t.Fatalf("unexpected queued snapshot %v", extra.ActualForce)
	default:
	}
}

func TestLoop_UnsubscribeClosesFeed(t *testing.T) {
	l := New(&countingSource{}, time.Hour)
	pid := uuid.New()
	ch := l.Subscribe(pid)

	l.Unsubscribe(pid)
	_, ok := <-ch
	assert.Assert(t, !ok)
	assert.Equal(t, l.Subscribers(), 0)

	// second unsubscribe is a no-op
	l.Unsubscribe(pid)
}

func TestLoop_ResubscribeReplacesFeed(t *testing.T) {
	l := New(&countingSource{}, time.Hour)
	pid := uuid.New()
	old := l.Subscribe(pid)
	cur := l.Subscribe(pid)

	_, ok := <-old
	assert.Assert(t, !ok)
	assert.Equal(t, l.Subscribers(), 1)

	l.publish(telemetry.Snapshot{Connected: true})
	snap := <-cur
	assert.Assert(t, snap.Connected)
}

func TestLoop_StopClosesAllFeeds(t *testing.T) {
	l, cancel, wg := startLoop(t, &countingSource{})
	ch := l.Subscribe(uuid.New())

	cancel()
	wg.Wait()

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		select {
		case _, ok := <-ch:
			if !ok {
				return poll.Success()
			}
			return poll.Continue("feed still open")
		default:
			return poll.Continue("feed still open")
		}
	}, poll.WithTimeout(time.Second), poll.WithDelay(time.Millisecond))

	// late subscribers get a closed feed
	_, ok := <-l.Subscribe(uuid.New())
	assert.Assert(t, !ok)
}

func TestLoop_Latest(t *testing.T) {
	l := New(&countingSource{}, time.Hour)
	_, ok := l.Latest()
	assert.Assert(t, !ok)

	l.publish(telemetry.Snapshot{Connected: true, SNClass: 5000})
	snap, ok := l.Latest()
	assert.Assert(t, ok)
	assert.Equal(t, snap.SNClass, int16(5000))
}

func TestLoop_OfflineSnapshotsStillFlow(t *testing.T) {
	l := New(&countingSource{}, time.Hour)
	ch := l.Subscribe(uuid.New())

	l.publish(telemetry.Offline(time.Now()))
	snap := <-ch
	assert.Assert(t, !snap.Connected)
	assert.Equal(t, snap.TestStatus, telemetry.OfflineStatus)
}

// internal/broadcast/loop.go

// Package broadcast republishes live telemetry to subscribers and keeps
// the controller link supervised.
package broadcast

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tamzrod/ring-tester/internal/telemetry"
)

// Source produces snapshots.
type Source interface {
	Snapshot() telemetry.Snapshot
}

// Loop pulls one snapshot per period and fans it out. It holds no state
// beyond the subscriber set and the latest snapshot.
type Loop struct {
	src    Source
	period time.Duration

	mu     sync.Mutex
	subs   map[uuid.UUID]chan telemetry.Snapshot
	latest telemetry.Snapshot
	have   bool
	closed bool
}

func New(src Source, period time.Duration) *Loop {
	if period <= 0 {
		period = 100 * time.Millisecond
	}
	return &Loop{
		src:    src,
		period: period,
		subs:   make(map[uuid.UUID]chan telemetry.Snapshot),
	}
}

// Run starts the ticker loop. One goroutine. No overlap. No retries.
// Subscriber channels are closed when Run returns.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.period)
	defer ticker.Stop()
	defer l.closeAll()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := l.src.Snapshot()
			if ctx.Err() != nil {
				return
			}
			l.publish(snap)
		}
	}
}

// Subscribe registers pid and returns its feed. The feed holds only the
// most recent snapshot: a slow reader skips ticks, it never stalls the
// loop.
func (l *Loop) Subscribe(pid uuid.UUID) <-chan telemetry.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	if old, ok := l.subs[pid]; ok {
		close(old)
	}
	ch := make(chan telemetry.Snapshot, 1)
	if l.closed {
		close(ch)
		return ch
	}
	l.subs[pid] = ch
	return ch
}

// Unsubscribe removes pid and closes its feed.
func (l *Loop) Unsubscribe(pid uuid.UUID) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if ch, ok := l.subs[pid]; ok {
		close(ch)
		delete(l.subs, pid)
	}
}

// Subscribers returns the current subscriber count.
func (l *Loop) Subscribers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}

// Latest returns the last published snapshot.
func (l *Loop) Latest() (telemetry.Snapshot, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest, l.have
}

func (l *Loop) publish(snap telemetry.Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.latest = snap
	l.have = true

	for pid, ch := range l.subs {
		select {
		case ch <- snap:
			continue
		default:
		}

		// full: replace the stale snapshot with the fresh one
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
			log.Printf("broadcast: dropped snapshot (subscriber=%s)", pid)
		}
	}
}

func (l *Loop) closeAll() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for pid, ch := range l.subs {
		close(ch)
		delete(l.subs, pid)
	}
	l.closed = true
}

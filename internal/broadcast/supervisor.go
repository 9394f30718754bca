// internal/broadcast/supervisor.go
package broadcast

import (
	"context"
	"log"
	"time"

	"github.com/tamzrod/ring-tester/internal/device"
	"github.com/tamzrod/ring-tester/internal/status"
)

// Link is the part of device.Session the supervisor drives.
type Link interface {
	Name() string
	Connected() bool
	Ping() error
	Reconnect() error
}

// Supervisor checks the link once per second, keeps the health tracker
// current and reconnects at a fixed period while the link is down. There
// is no backoff.
type Supervisor struct {
	link           Link
	tracker        *status.Tracker
	reconnectEvery time.Duration
	now            func() time.Time
	lastAttempt    time.Time
}

func NewSupervisor(link Link, tracker *status.Tracker, reconnectEvery time.Duration) *Supervisor {
	if reconnectEvery <= 0 {
		reconnectEvery = 5 * time.Second
	}
	return &Supervisor{
		link:           link,
		tracker:        tracker,
		reconnectEvery: reconnectEvery,
		now:            time.Now,
	}
}

// Run ticks at 1 Hz until ctx is done.
func (s *Supervisor) Run(ctx context.Context) {
	secTicker := time.NewTicker(time.Second)
	defer secTicker.Stop()

	s.Step()
	for {
		select {
		case <-ctx.Done():
			return
		case <-secTicker.C:
			s.Step()
		}
	}
}

// Step performs one supervision cycle.
func (s *Supervisor) Step() {
	defer s.tracker.Tick()

	if s.link.Connected() {
		s.observe(s.link.Ping())
		return
	}

	s.observe(device.ErrNotConnected)

	now := s.now()
	if !s.lastAttempt.IsZero() && now.Sub(s.lastAttempt) < s.reconnectEvery {
		return
	}
	s.lastAttempt = now

	if err := s.link.Reconnect(); err != nil {
		s.observe(err)
		return
	}
	s.tracker.Reconnected()
	s.observe(nil)
}

func (s *Supervisor) observe(err error) {
	if !s.tracker.Observe(err) {
		return
	}
	snap := s.tracker.Snapshot()
	if err != nil {
		log.Printf("link health: %s (controller=%s): %v", status.HealthName(snap.Health), s.link.Name(), err)
		return
	}
	log.Printf("link health: %s (controller=%s)", status.HealthName(snap.Health), s.link.Name())
}

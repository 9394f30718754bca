// internal/device/session.go
package device

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/robinson/gos7"
)

// State is the connection state of a Session.
type State int32

const (
	Disconnected State = iota
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Session owns the single link to the controller.
//
// Every frame goes through mu: the link is half-duplex and interleaved
// requests corrupt each other. Nothing else in the process may open a
// second link to the same controller.
//
// Reads never fail towards the caller: they return ok=false when the
// session is down or the read failed. Any transport error observed during
// an operation drops the session to Disconnected immediately.
type Session struct {
	name string
	tr   Transport

	mu     sync.Mutex
	helper gos7.Helper

	state   atomic.Int32
	lastErr atomic.Value // string
}

// NewSession wraps a transport. The session starts Disconnected.
func NewSession(name string, tr Transport) *Session {
	s := &Session{name: name, tr: tr}
	s.lastErr.Store("")
	return s
}

// Name returns the controller name used in log lines.
func (s *Session) Name() string {
	return s.name
}

// State returns the current connection state without touching the link.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Connected reports whether the session is up.
func (s *Session) Connected() bool {
	return s.State() == Connected
}

// LastError returns the text of the most recent link failure.
func (s *Session) LastError() string {
	v, _ := s.lastErr.Load().(string)
	return v
}

// Connect opens the link. Idempotent: an already connected session is left
// alone. Any stale transport state is closed before dialing.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Connected() {
		return nil
	}

	_ = s.tr.Close()

	if err := s.tr.Connect(); err != nil {
		s.state.Store(int32(Disconnected))
		s.lastErr.Store(err.Error())
		log.Printf("device: connect failed (controller=%s): %v", s.name, err)
		return fmt.Errorf("device: connect %s: %w", s.name, err)
	}

	s.state.Store(int32(Connected))
	s.lastErr.Store("")
	log.Printf("device: connected (controller=%s)", s.name)
	return nil
}

// Disconnect closes the link. Best effort: the session always ends
// Disconnected.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tr.Close(); err != nil {
		log.Printf("device: close failed (controller=%s): %v", s.name, err)
	}
	if State(s.state.Swap(int32(Disconnected))) == Connected {
		log.Printf("device: disconnected (controller=%s)", s.name)
	}
}

// Reconnect is Disconnect followed by Connect.
func (s *Session) Reconnect() error {
	s.Disconnect()
	return s.Connect()
}

// Ping checks liveness with one cheap request. A failure drops the session.
func (s *Session) Ping() error {
	if !s.Connected() {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if sr, ok := s.tr.(StateReader); ok {
		_, err = sr.CPUState()
	} else {
		_, err = s.tr.ReadArea(AreaInputs, 0, 0, 1)
	}
	if err != nil {
		s.fail(err)
		return fmt.Errorf("device: ping %s: %w", s.name, err)
	}
	return nil
}

// CPUState returns the controller run state, CPUUnknown when disconnected
// or when the transport cannot tell.
func (s *Session) CPUState() CPUState {
	if !s.Connected() {
		return CPUUnknown
	}
	sr, ok := s.tr.(StateReader)
	if !ok {
		return CPUUnknown
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := sr.CPUState()
	if err != nil {
		s.fail(err)
		log.Printf("device: cpu state read failed (controller=%s): %v", s.name, err)
		return CPUUnknown
	}
	return st
}

// ---- reads ----

// ReadBool reads one bit.
func (s *Session) ReadBool(a Address) (bool, bool) {
	buf, ok := s.read(a, KindBool)
	if !ok {
		return false, false
	}
	return s.helper.GetBoolAt(buf[0], uint(a.Bit)), true
}

// ReadInt16 reads one signed 16-bit word.
func (s *Session) ReadInt16(a Address) (int16, bool) {
	buf, ok := s.read(a, KindInt16)
	if !ok {
		return 0, false
	}
	var v int16
	s.helper.GetValueAt(buf, 0, &v)
	return v, true
}

// ReadFloat32 reads one 32-bit real.
func (s *Session) ReadFloat32(a Address) (float32, bool) {
	buf, ok := s.read(a, KindFloat32)
	if !ok {
		return 0, false
	}
	return s.helper.GetRealAt(buf, 0), true
}

func (s *Session) read(a Address, want Kind) ([]byte, bool) {
	if err := checkKind(a, want); err != nil {
		log.Printf("device: %v", err)
		return nil, false
	}
	if !s.Connected() {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.tr.ReadArea(a.Area, a.DB, a.Offset, want.Size())
	if err != nil {
		s.fail(err)
		log.Printf("device: read failed (controller=%s addr=%s): %v", s.name, a, err)
		return nil, false
	}
	if len(buf) < want.Size() {
		log.Printf("device: short read (controller=%s addr=%s): got %d bytes", s.name, a, len(buf))
		return nil, false
	}
	return buf, true
}

// ---- writes ----

// WriteBool sets or clears one bit. The containing byte is read, modified
// and written back under the same lock so sibling bits are preserved.
func (s *Session) WriteBool(a Address, v bool) error {
	if err := checkKind(a, KindBool); err != nil {
		return err
	}
	if !s.Connected() {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	buf, err := s.tr.ReadArea(a.Area, a.DB, a.Offset, 1)
	if err != nil {
		s.fail(err)
		return fmt.Errorf("device: write %s (read back): %w", a, err)
	}
	if len(buf) < 1 {
		return fmt.Errorf("device: write %s: empty read back", a)
	}

	b := s.helper.SetBoolAt(buf[0], uint(a.Bit), v)
	if err := s.tr.WriteArea(a.Area, a.DB, a.Offset, []byte{b}); err != nil {
		s.fail(err)
		return fmt.Errorf("device: write %s: %w", a, err)
	}
	return nil
}

// WriteInt16 writes one signed 16-bit word.
func (s *Session) WriteInt16(a Address, v int16) error {
	if err := checkKind(a, KindInt16); err != nil {
		return err
	}
	buf := make([]byte, 2)
	s.helper.SetValueAt(buf, 0, v)
	return s.write(a, buf)
}

// WriteFloat32 writes one 32-bit real.
func (s *Session) WriteFloat32(a Address, v float32) error {
	if err := checkKind(a, KindFloat32); err != nil {
		return err
	}
	buf := make([]byte, 4)
	s.helper.SetRealAt(buf, 0, v)
	return s.write(a, buf)
}

func (s *Session) write(a Address, buf []byte) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.tr.WriteArea(a.Area, a.DB, a.Offset, buf); err != nil {
		s.fail(err)
		return fmt.Errorf("device: write %s: %w", a, err)
	}
	return nil
}

// fail records a transport error. Anything but a controller refusal drops
// the session. Caller holds mu.
func (s *Session) fail(err error) {
	if isRejected(err) {
		return
	}
	s.lastErr.Store(err.Error())
	if State(s.state.Swap(int32(Disconnected))) == Connected {
		log.Printf("device: link lost (controller=%s): %v", s.name, err)
	}
}

func checkKind(a Address, want Kind) error {
	if a.Kind != want {
		return fmt.Errorf("device: address %s is %s, not %s", a, a.Kind, want)
	}
	return a.Validate()
}

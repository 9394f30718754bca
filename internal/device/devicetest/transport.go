// internal/device/devicetest/transport.go

// Package devicetest provides an in-memory controller for tests.
package devicetest

import (
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/tamzrod/ring-tester/internal/device"
)

// ErrLink is returned by every operation while the fake link is broken.
var ErrLink = errors.New("devicetest: link broken")

type areaKey struct {
	area device.Area
	db   int
}

// Write is one journaled WriteArea call.
type Write struct {
	Area   device.Area
	DB     int
	Offset int
	Data   []byte
	At     time.Time
}

// Transport is a byte-addressed fake controller memory.
// Areas grow on demand and read as zero until written.
type Transport struct {
	mu         sync.Mutex
	mem        map[areaKey][]byte
	writes     []Write
	open       bool
	broken     bool
	refuseDial bool
	cpu        device.CPUState
	reads      int

	// OnWrite, when set, runs after every successful WriteArea with the
	// memory lock released.
	OnWrite func(w Write)
}

// New returns an empty fake in CPU state run.
func New() *Transport {
	return &Transport{
		mem: make(map[areaKey][]byte),
		cpu: device.CPURun,
	}
}

// ---- device.Transport ----

func (t *Transport) Connect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.refuseDial {
		return errors.New("devicetest: connection refused")
	}
	t.open = true
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	return nil
}

func (t *Transport) ReadArea(area device.Area, db, offset, size int) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return nil, err
	}
	t.reads++
	buf := t.region(area, db, offset+size)
	out := make([]byte, size)
	copy(out, buf[offset:offset+size])
	return out, nil
}

func (t *Transport) WriteArea(area device.Area, db, offset int, data []byte) error {
	t.mu.Lock()
	if err := t.usable(); err != nil {
		t.mu.Unlock()
		return err
	}
	buf := t.region(area, db, offset+len(data))
	copy(buf[offset:], data)

	w := Write{Area: area, DB: db, Offset: offset, Data: append([]byte(nil), data...), At: time.Now()}
	t.writes = append(t.writes, w)
	hook := t.OnWrite
	t.mu.Unlock()

	if hook != nil {
		hook(w)
	}
	return nil
}

func (t *Transport) CPUState() (device.CPUState, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.usable(); err != nil {
		return device.CPUUnknown, err
	}
	return t.cpu, nil
}

func (t *Transport) usable() error {
	if t.broken {
		return ErrLink
	}
	if !t.open {
		return errors.New("devicetest: not open")
	}
	return nil
}

func (t *Transport) region(area device.Area, db, need int) []byte {
	k := areaKey{area, db}
	buf := t.mem[k]
	if len(buf) < need {
		grown := make([]byte, need)
		copy(grown, buf)
		buf = grown
		t.mem[k] = buf
	}
	return buf
}

// ---- fault injection ----

// Break makes every subsequent operation fail with ErrLink until Heal.
func (t *Transport) Break() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broken = true
}

// Heal undoes Break.
func (t *Transport) Heal() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.broken = false
}

// RefuseDial makes Connect fail while set.
func (t *Transport) RefuseDial(refuse bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.refuseDial = refuse
}

// SetCPUState sets what CPUState reports.
func (t *Transport) SetCPUState(s device.CPUState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cpu = s
}

// ---- journal ----

// Writes returns a copy of the write journal.
func (t *Transport) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Write, len(t.writes))
	copy(out, t.writes)
	return out
}

// ResetWrites clears the write journal.
func (t *Transport) ResetWrites() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = nil
}

// Reads returns the number of successful ReadArea calls.
func (t *Transport) Reads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reads
}

// ---- typed memory access (bypasses the link state) ----

// SetByte stores a raw byte.
func (t *Transport) SetByte(area device.Area, db, offset int, b byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.region(area, db, offset+1)[offset] = b
}

// Byte loads a raw byte.
func (t *Transport) Byte(area device.Area, db, offset int) byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.region(area, db, offset+1)[offset]
}

// SetBool sets one bit.
func (t *Transport) SetBool(a device.Address, v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	buf := t.region(a.Area, a.DB, a.Offset+1)
	if v {
		buf[a.Offset] |= 1 << uint(a.Bit)
	} else {
		buf[a.Offset] &^= 1 << uint(a.Bit)
	}
}

// Bool reads one bit.
func (t *Transport) Bool(a device.Address) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.region(a.Area, a.DB, a.Offset+1)[a.Offset]&(1<<uint(a.Bit)) != 0
}

// SetInt16 stores a big-endian word.
func (t *Transport) SetInt16(a device.Address, v int16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	binary.BigEndian.PutUint16(t.region(a.Area, a.DB, a.Offset+2)[a.Offset:], uint16(v))
}

// Int16 loads a big-endian word.
func (t *Transport) Int16(a device.Address) int16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return int16(binary.BigEndian.Uint16(t.region(a.Area, a.DB, a.Offset+2)[a.Offset:]))
}

// SetFloat32 stores a big-endian IEEE real.
func (t *Transport) SetFloat32(a device.Address, v float32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	binary.BigEndian.PutUint32(t.region(a.Area, a.DB, a.Offset+4)[a.Offset:], math.Float32bits(v))
}

// Float32 loads a big-endian IEEE real.
func (t *Transport) Float32(a device.Address) float32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return math.Float32frombits(binary.BigEndian.Uint32(t.region(a.Area, a.DB, a.Offset+4)[a.Offset:]))
}

// internal/telemetry/reader.go
package telemetry

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/tamzrod/ring-tester/internal/device"
)

// Reader turns controller memory into domain values.
// Safe for concurrent use: all I/O goes through the session.
type Reader struct {
	s   Session
	m   Map
	lim Limits
	now func() time.Time
}

func NewReader(s Session, m Map, lim Limits) *Reader {
	return &Reader{s: s, m: m, lim: lim, now: time.Now}
}

// ---- snapshot ----

// scan accumulates best-effort reads. A failed read yields the zero value.
type scan struct {
	s      Session
	missed int
}

func (c *scan) bit(a device.Address) bool {
	v, ok := c.s.ReadBool(a)
	if !ok {
		c.missed++
	}
	return v
}

func (c *scan) word(a device.Address) int16 {
	v, ok := c.s.ReadInt16(a)
	if !ok {
		c.missed++
	}
	return v
}

func (c *scan) float(a device.Address) float64 {
	v, ok := c.s.ReadFloat32(a)
	if !ok {
		c.missed++
	}
	return float64(v)
}

// Snapshot never fails. A disconnected session yields Offline without any
// I/O; a link lost part way through also yields Offline so callers never
// see live fields next to substituted ones from a dead link.
func (r *Reader) Snapshot() Snapshot {
	at := r.now()
	if !r.s.Connected() {
		return Offline(at)
	}

	c := &scan{s: r.s}
	m := r.m

	snap := Snapshot{
		Connected: true,
		Timestamp: at,

		ServoReady:  c.bit(m.ServoReady),
		ServoError:  c.bit(m.ServoError),
		AtHome:      c.bit(m.AtHome),
		UpperLimit:  c.bit(m.UpperLimit),
		LowerLimit:  c.bit(m.LowerLimit),
		EStop:       c.bit(m.EStop),
		StartButton: c.bit(m.StartButton),

		ServoEnabled: c.bit(m.Enable),
		JogForward:   c.bit(m.JogForward),
		JogBackward:  c.bit(m.JogBackward),
		UpperLocked:  c.bit(m.LockUpper),
		LowerLocked:  c.bit(m.LockLower),
		RemoteMode:   c.bit(m.RemoteMode),

		ActualForce:      c.float(m.ActualForce),
		ActualDeflection: c.float(m.ActualDeflection),
		TargetDeflection: c.float(m.TargetDeflection),
		RingStiffness:    c.float(m.RingStiffness),
		ForceAtTarget:    c.float(m.ForceAtTarget),
		ActualPosition:   c.float(m.ActualPosition),
		LoadCellRaw:      c.word(m.LoadCell),

		SNClass:    c.word(m.SNClass),
		TestStatus: c.word(m.TestStatus),
		TestPassed: c.bit(m.TestPassed),
	}
	snap.LoadCellForce = ScaleLoadCell(snap.LoadCellRaw)

	if !r.s.Connected() {
		return Offline(at)
	}
	if c.missed > 0 {
		log.Printf("telemetry: snapshot substituted %d unreadable values", c.missed)
	}
	return snap
}

// ---- parameters ----

// ReadParameters reads the parameter block. ok is false when any field
// could not be read.
func (r *Reader) ReadParameters() (Parameters, bool) {
	if !r.s.Connected() {
		return Parameters{}, false
	}

	c := &scan{s: r.s}
	p := Parameters{
		PipeDiameter:      c.float(r.m.PipeDiameter),
		PipeLength:        c.float(r.m.PipeLength),
		DeflectionPercent: c.float(r.m.DeflectionPercent),
		TestSpeed:         c.float(r.m.TestSpeed),
		MaxStroke:         c.float(r.m.MaxStroke),
		MaxForce:          c.float(r.m.MaxForce),
	}
	return p, c.missed == 0
}

// WriteParameters writes every set field of u independently. A failing
// field does not stop the others; the returned error lists every failure.
func (r *Reader) WriteParameters(u ParameterUpdate) error {
	if !r.s.Connected() {
		return device.ErrNotConnected
	}

	fields := []struct {
		name string
		v    *float64
		a    device.Address
		max  float64
	}{
		{"pipe_diameter", u.PipeDiameter, r.m.PipeDiameter, 0},
		{"pipe_length", u.PipeLength, r.m.PipeLength, 0},
		{"deflection_percent", u.DeflectionPercent, r.m.DeflectionPercent, 100},
		{"test_speed", u.TestSpeed, r.m.TestSpeed, 0},
		{"max_stroke", u.MaxStroke, r.m.MaxStroke, r.lim.MaxStroke},
		{"max_force", u.MaxForce, r.m.MaxForce, r.lim.MaxForce},
	}

	perr := &ParameterError{}
	for _, f := range fields {
		if f.v == nil {
			continue
		}
		if *f.v < 0 {
			perr.reject(fmt.Sprintf("%s: %.3f is negative", f.name, *f.v))
			continue
		}
		if f.max > 0 && *f.v > f.max {
			perr.reject(fmt.Sprintf("%s: %.3f exceeds limit %.3f", f.name, *f.v, f.max))
			continue
		}
		if err := r.s.WriteFloat32(f.a, float32(*f.v)); err != nil {
			perr.Failed = append(perr.Failed, f.name)
			perr.errs = append(perr.errs, fmt.Sprintf("%s: %v", f.name, err))
		}
	}

	if len(perr.errs) > 0 {
		return perr
	}
	return nil
}

// ParameterError lists every field WriteParameters could not apply.
// Invalid holds values refused before any I/O; Failed names the fields
// whose controller write failed.
type ParameterError struct {
	Invalid []string
	Failed  []string
	errs    []string
}

func (e *ParameterError) reject(msg string) {
	e.Invalid = append(e.Invalid, msg)
	e.errs = append(e.errs, msg)
}

func (e *ParameterError) Error() string {
	return "telemetry: write parameters: " + strings.Join(e.errs, " | ")
}

// ---- results ----

// ReadResult reads the controller's computed outcome. ok is false when the
// session is down or any field could not be read.
func (r *Reader) ReadResult() (Result, bool) {
	if !r.s.Connected() {
		return Result{}, false
	}

	c := &scan{s: r.s}
	res := Result{
		ForceAtTarget:    c.float(r.m.ForceAtTarget),
		RingStiffness:    c.float(r.m.RingStiffness),
		TargetDeflection: c.float(r.m.TargetDeflection),
		SNClass:          int(c.word(r.m.SNClass)),
		Passed:           c.bit(r.m.TestPassed),
	}
	return res, c.missed == 0
}

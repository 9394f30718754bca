// internal/telemetry/reader_test.go
package telemetry

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/tamzrod/ring-tester/internal/device"
	"github.com/tamzrod/ring-tester/internal/device/devicetest"
)

func newRig(t *testing.T) (*devicetest.Transport, *device.Session, *Reader) {
	t.Helper()
	tr := devicetest.New()
	s := device.NewSession("test", tr)
	assert.NilError(t, s.Connect())
	return tr, s, NewReader(s, DefaultMap(), Limits{MaxForce: 200, MaxStroke: 500})
}

func ptr(v float64) *float64 { return &v }

// ---- scaling ----

func TestScaleLoadCell(t *testing.T) {
	assert.Equal(t, ScaleLoadCell(0), 0.0)
	assert.Equal(t, ScaleLoadCell(27648), 200.0)
	assert.Equal(t, ScaleLoadCell(-1), 0.0)
	assert.Equal(t, ScaleLoadCell(-27648), 0.0)
	assert.Assert(t, math.Abs(ScaleLoadCell(13824)-100.0) < 1e-9)
	// no upper clamp
	assert.Assert(t, ScaleLoadCell(32767) > 200.0)
}

// ---- snapshot ----

func TestSnapshot_Offline(t *testing.T) {
	tr := devicetest.New()
	s := device.NewSession("test", tr)
	r := NewReader(s, DefaultMap(), Limits{})

	snap := r.Snapshot()
	assert.Equal(t, snap.Connected, false)
	assert.Equal(t, snap.TestStatus, OfflineStatus)
	assert.Equal(t, snap.ActualForce, 0.0)
	assert.Equal(t, tr.Reads(), 0)

	want := Offline(snap.Timestamp)
	assert.Equal(t, snap, want)
}

func TestSnapshot_Live(t *testing.T) {
	tr, _, r := newRig(t)
	m := DefaultMap()

	tr.SetBool(m.ServoReady, true)
	tr.SetBool(m.EStop, true)
	tr.SetBool(m.RemoteMode, true)
	tr.SetBool(m.JogForward, true)
	tr.SetInt16(m.LoadCell, 27648)
	tr.SetFloat32(m.ActualForce, 12.5)
	tr.SetFloat32(m.RingStiffness, 5123.25)
	tr.SetInt16(m.SNClass, 5000)
	tr.SetInt16(m.TestStatus, 3)
	tr.SetBool(m.TestPassed, true)

	snap := r.Snapshot()
	assert.Equal(t, snap.Connected, true)
	assert.Equal(t, snap.ServoReady, true)
	assert.Equal(t, snap.ServoError, false)
	assert.Equal(t, snap.EStop, true)
	assert.Equal(t, snap.RemoteMode, true)
	assert.Equal(t, snap.JogForward, true)
	assert.Equal(t, snap.LoadCellRaw, int16(27648))
	assert.Equal(t, snap.LoadCellForce, 200.0)
	assert.Equal(t, snap.ActualForce, 12.5)
	assert.Equal(t, snap.RingStiffness, 5123.25)
	assert.Equal(t, snap.SNClass, int16(5000))
	assert.Equal(t, snap.TestStatus, int16(3))
	assert.Equal(t, snap.TestPassed, true)
	// position aliases deflection in the canonical map
	assert.Equal(t, snap.ActualPosition, snap.ActualDeflection)
}

func TestSnapshot_LinkLostMidReadIsOffline(t *testing.T) {
	tr, _, r := newRig(t)
	tr.SetFloat32(DefaultMap().ActualForce, 10)

	reads := 0
	r.s = &breakAfter{Session: r.s, tr: tr, n: 5, count: &reads}

	snap := r.Snapshot()
	assert.Equal(t, snap.Connected, false)
	assert.Equal(t, snap.TestStatus, OfflineStatus)
	assert.Equal(t, snap.ActualForce, 0.0)
}

// breakAfter breaks the fake link after n bit reads.
type breakAfter struct {
	Session
	tr    *devicetest.Transport
	n     int
	count *int
}

func (b *breakAfter) ReadBool(a device.Address) (bool, bool) {
	*b.count++
	if *b.count == b.n {
		b.tr.Break()
	}
	return b.Session.ReadBool(a)
}

func TestSnapshot_IsAValue(t *testing.T) {
	tr, _, r := newRig(t)
	m := DefaultMap()

	tr.SetFloat32(m.ActualForce, 1)
	first := r.Snapshot()
	tr.SetFloat32(m.ActualForce, 2)
	second := r.Snapshot()

	assert.Equal(t, first.ActualForce, 1.0)
	assert.Equal(t, second.ActualForce, 2.0)
}

// ---- parameters ----

func TestWriteParameters_PartialLeavesOthers(t *testing.T) {
	tr, _, r := newRig(t)
	m := DefaultMap()
	tr.SetFloat32(m.PipeLength, 300)

	err := r.WriteParameters(ParameterUpdate{PipeDiameter: ptr(200)})
	assert.NilError(t, err)

	assert.Equal(t, tr.Float32(m.PipeDiameter), float32(200))
	assert.Equal(t, tr.Float32(m.PipeLength), float32(300))
	assert.Equal(t, len(tr.Writes()), 1)
}

func TestWriteParameters_RoundTrip(t *testing.T) {
	_, _, r := newRig(t)
	in := Parameters{
		PipeDiameter:      200,
		PipeLength:        300,
		DeflectionPercent: 3,
		TestSpeed:         10,
		MaxStroke:         100,
		MaxForce:          50,
	}

	assert.NilError(t, r.WriteParameters(in.Update()))

	out, ok := r.ReadParameters()
	assert.Assert(t, ok)
	assert.Equal(t, out, in)
}

func TestWriteParameters_FailureDoesNotShortCircuit(t *testing.T) {
	tr, _, r := newRig(t)
	m := DefaultMap()

	err := r.WriteParameters(ParameterUpdate{
		PipeDiameter: ptr(-5),
		MaxForce:     ptr(500),
		TestSpeed:    ptr(12),
	})
	assert.ErrorContains(t, err, "pipe_diameter")
	assert.ErrorContains(t, err, "max_force")
	assert.Assert(t, strings.Contains(err.Error(), " | "))

	var perr *ParameterError
	assert.Assert(t, errors.As(err, &perr))
	assert.Equal(t, len(perr.Invalid), 2)
	assert.Equal(t, len(perr.Failed), 0)

	// the valid field was still written
	assert.Equal(t, tr.Float32(m.TestSpeed), float32(12))
}

func TestWriteParameters_Disconnected(t *testing.T) {
	_, s, r := newRig(t)
	s.Disconnect()

	err := r.WriteParameters(ParameterUpdate{PipeDiameter: ptr(200)})
	assert.Assert(t, errors.Is(err, device.ErrNotConnected))

	_, ok := r.ReadParameters()
	assert.Assert(t, !ok)
}

func TestParameterUpdate_Empty(t *testing.T) {
	assert.Assert(t, ParameterUpdate{}.Empty())
	assert.Assert(t, !ParameterUpdate{MaxStroke: ptr(1)}.Empty())
}

// ---- result ----

func TestReadResult(t *testing.T) {
	tr, _, r := newRig(t)
	m := DefaultMap()
	tr.SetFloat32(m.ForceAtTarget, 4.5)
	tr.SetFloat32(m.RingStiffness, 8200)
	tr.SetFloat32(m.TargetDeflection, 6)
	tr.SetInt16(m.SNClass, 10000)

	res, ok := r.ReadResult()
	assert.Assert(t, ok)
	assert.Equal(t, res, Result{
		ForceAtTarget:    4.5,
		RingStiffness:    8200,
		TargetDeflection: 6,
		SNClass:          10000,
		Passed:           false,
	})
}

func TestReadResult_Disconnected(t *testing.T) {
	_, s, r := newRig(t)
	s.Disconnect()

	_, ok := r.ReadResult()
	assert.Assert(t, !ok)
}

func TestSnapshotResult(t *testing.T) {
	snap := Snapshot{ForceAtTarget: 1, RingStiffness: 2, TargetDeflection: 3, SNClass: 2500, TestPassed: true}
	assert.Equal(t, snap.Result(), Result{ForceAtTarget: 1, RingStiffness: 2, TargetDeflection: 3, SNClass: 2500, Passed: true})
}

func TestReader_UsesClock(t *testing.T) {
	_, _, r := newRig(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	assert.Equal(t, r.Snapshot().Timestamp, at)
}

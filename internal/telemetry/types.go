// internal/telemetry/types.go
package telemetry

import (
	"time"

	"github.com/tamzrod/ring-tester/internal/device"
)

// Load cell analog channel: 0..27648 raw counts span 0..200 kN.
const (
	LoadCellRawSpan = 27648
	LoadCellKNSpan  = 200.0
)

// OfflineStatus is the test_status reported while the controller is
// unreachable.
const OfflineStatus int16 = -1

// Snapshot is one fully populated read of every live quantity.
// It is a value: each read produces a new one.
type Snapshot struct {
	Connected bool      `json:"connected"`
	Timestamp time.Time `json:"timestamp"`

	// digital inputs
	ServoReady  bool `json:"servo_ready"`
	ServoError  bool `json:"servo_error"`
	AtHome      bool `json:"at_home"`
	UpperLimit  bool `json:"upper_limit"`
	LowerLimit  bool `json:"lower_limit"`
	EStop       bool `json:"e_stop"`
	StartButton bool `json:"start_button"`

	// control bits as the controller currently holds them
	ServoEnabled bool `json:"servo_enabled"`
	JogForward   bool `json:"jog_forward"`
	JogBackward  bool `json:"jog_backward"`
	UpperLocked  bool `json:"upper_locked"`
	LowerLocked  bool `json:"lower_locked"`
	RemoteMode   bool `json:"remote_mode"`

	// continuous values
	ActualForce      float64 `json:"actual_force"`      // kN
	ActualDeflection float64 `json:"actual_deflection"` // mm
	TargetDeflection float64 `json:"target_deflection"` // mm
	RingStiffness    float64 `json:"ring_stiffness"`    // kN/m²
	ForceAtTarget    float64 `json:"force_at_target"`   // kN
	ActualPosition   float64 `json:"actual_position"`   // mm
	LoadCellRaw      int16   `json:"load_cell_raw"`
	LoadCellForce    float64 `json:"load_cell_force"` // kN, scaled

	// discrete
	SNClass    int16 `json:"sn_class"`
	TestStatus int16 `json:"test_status"`
	TestPassed bool  `json:"test_passed"`
}

// Offline returns the canonical snapshot for an unreachable controller.
func Offline(at time.Time) Snapshot {
	return Snapshot{
		Connected:  false,
		Timestamp:  at,
		TestStatus: OfflineStatus,
	}
}

// ScaleLoadCell converts raw analog counts to kN.
// Negative counts clamp to 0; there is no upper clamp.
func ScaleLoadCell(raw int16) float64 {
	if raw < 0 {
		return 0
	}
	return float64(raw) * LoadCellKNSpan / LoadCellRawSpan
}

// Parameters are the test settings mirrored into controller memory.
type Parameters struct {
	PipeDiameter      float64 `json:"pipe_diameter"`      // mm
	PipeLength        float64 `json:"pipe_length"`        // mm
	DeflectionPercent float64 `json:"deflection_percent"` // % of diameter
	TestSpeed         float64 `json:"test_speed"`         // mm/min
	MaxStroke         float64 `json:"max_stroke"`         // mm
	MaxForce          float64 `json:"max_force"`          // kN
}

// ParameterUpdate is a partial parameter write. Nil fields are left
// untouched in controller memory.
type ParameterUpdate struct {
	PipeDiameter      *float64 `json:"pipe_diameter,omitempty"`
	PipeLength        *float64 `json:"pipe_length,omitempty"`
	DeflectionPercent *float64 `json:"deflection_percent,omitempty"`
	TestSpeed         *float64 `json:"test_speed,omitempty"`
	MaxStroke         *float64 `json:"max_stroke,omitempty"`
	MaxForce          *float64 `json:"max_force,omitempty"`
}

// Update returns an update that writes every field of p.
func (p Parameters) Update() ParameterUpdate {
	return ParameterUpdate{
		PipeDiameter:      &p.PipeDiameter,
		PipeLength:        &p.PipeLength,
		DeflectionPercent: &p.DeflectionPercent,
		TestSpeed:         &p.TestSpeed,
		MaxStroke:         &p.MaxStroke,
		MaxForce:          &p.MaxForce,
	}
}

// Empty reports whether u sets no field.
func (u ParameterUpdate) Empty() bool {
	return u.PipeDiameter == nil && u.PipeLength == nil && u.DeflectionPercent == nil &&
		u.TestSpeed == nil && u.MaxStroke == nil && u.MaxForce == nil
}

// Result is the controller's computed test outcome.
type Result struct {
	ForceAtTarget    float64 `json:"force_at_target"`
	RingStiffness    float64 `json:"ring_stiffness"`
	TargetDeflection float64 `json:"target_deflection"`
	SNClass          int     `json:"sn_class"`
	Passed           bool    `json:"passed"`
}

// Result extracts the outcome fields carried by every snapshot.
func (s Snapshot) Result() Result {
	return Result{
		ForceAtTarget:    s.ForceAtTarget,
		RingStiffness:    s.RingStiffness,
		TargetDeflection: s.TargetDeflection,
		SNClass:          int(s.SNClass),
		Passed:           s.TestPassed,
	}
}

// Limits bound parameter writes.
type Limits struct {
	MaxForce  float64 // kN
	MaxStroke float64 // mm
}

// Session is the part of device.Session the reader uses.
type Session interface {
	Connected() bool
	ReadBool(a device.Address) (bool, bool)
	ReadInt16(a device.Address) (int16, bool)
	ReadFloat32(a device.Address) (float32, bool)
	WriteFloat32(a device.Address, v float32) error
}

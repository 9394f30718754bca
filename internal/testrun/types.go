// internal/testrun/types.go
package testrun

import (
	"errors"
	"time"

	"github.com/tamzrod/ring-tester/internal/telemetry"
)

var (
	ErrRunActive = errors.New("testrun: run already active")
	ErrNoRun     = errors.New("testrun: no pending run")
)

// State is the orchestrator lifecycle.
type State int

const (
	Idle State = iota
	Recording
	Finalizing
	Completed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Finalizing:
		return "finalizing"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Busy reports whether a new run would be rejected.
func (s State) Busy() bool {
	return s == Recording || s == Finalizing
}

// Request starts one run.
type Request struct {
	Parameters telemetry.Parameters
	SampleID   string
	Operator   string
	Notes      string
}

// Status is what the orchestrator reports about the current or last run.
type Status struct {
	State   State     `json:"-"`
	Name    string    `json:"state"`
	RunID   string    `json:"run_id,omitempty"`
	Started time.Time `json:"started,omitempty"`
	Samples int       `json:"samples"`
	Elapsed float64   `json:"elapsed"` // seconds
}

// SN classes.
const (
	SN2500  = 2500
	SN5000  = 5000
	SN10000 = 10000
)

// Classify buckets a ring stiffness (kN/m²) into its SN class. The run
// passes when the stiffness reaches 90% of the class.
func Classify(stiffness float64) (class int, passed bool) {
	switch {
	case stiffness < 3750:
		class = SN2500
	case stiffness < 7500:
		class = SN5000
	default:
		class = SN10000
	}
	return class, stiffness >= 0.9*float64(class)
}

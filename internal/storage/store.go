// internal/storage/store.go

// Package storage defines the durable records of the rig and the Store
// boundary that keeps them.
package storage

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("storage: not found")

// RunStatus is the persisted lifecycle of a test run.
type RunStatus string

const (
	RunRecording RunStatus = "recording"
	RunCompleted RunStatus = "completed"
	RunAborted   RunStatus = "aborted"
)

// Run is one test run as stored.
type Run struct {
	ID        string    `json:"id" bson:"_id"`
	SampleID  string    `json:"sample_id" bson:"sample_id"`
	Operator  string    `json:"operator" bson:"operator"`
	Notes     string    `json:"notes" bson:"notes"`
	StartedAt time.Time `json:"test_date" bson:"test_date"`
	Status    RunStatus `json:"status" bson:"status"`

	PipeDiameter      float64 `json:"pipe_diameter" bson:"pipe_diameter"`
	PipeLength        float64 `json:"pipe_length" bson:"pipe_length"`
	DeflectionPercent float64 `json:"deflection_percent" bson:"deflection_percent"`
	TestSpeed         float64 `json:"test_speed" bson:"test_speed"`

	Result  *Result  `json:"result,omitempty" bson:"result,omitempty"`
	Samples []Sample `json:"samples,omitempty" bson:"samples,omitempty"`
}

// Result is the terminal outcome of a completed run.
type Result struct {
	ForceAtTarget float64   `json:"force_at_target" bson:"force_at_target"` // kN
	MaxForce      float64   `json:"max_force" bson:"max_force"`             // kN
	RingStiffness float64   `json:"ring_stiffness" bson:"ring_stiffness"`   // kN/m²
	SNClass       int       `json:"sn_class" bson:"sn_class"`
	Passed        bool      `json:"passed" bson:"passed"`
	Duration      float64   `json:"duration" bson:"duration"` // seconds
	FinishedAt    time.Time `json:"finished_at" bson:"finished_at"`
}

// Sample is one point of the force/deflection curve.
type Sample struct {
	Elapsed    float64 `json:"timestamp" bson:"t"` // seconds since run start
	Force      float64 `json:"force" bson:"force"`
	Deflection float64 `json:"deflection" bson:"deflection"`
	Position   float64 `json:"position" bson:"position"`
}

// Severity of an alarm.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// Alarm is one recorded alarm.
type Alarm struct {
	ID           string     `json:"id" bson:"_id"`
	Code         string     `json:"alarm_code" bson:"alarm_code"`
	Message      string     `json:"message" bson:"message"`
	Severity     string     `json:"severity" bson:"severity"`
	Timestamp    time.Time  `json:"timestamp" bson:"timestamp"`
	Acknowledged bool       `json:"acknowledged" bson:"acknowledged"`
	AckTimestamp *time.Time `json:"ack_timestamp,omitempty" bson:"ack_timestamp,omitempty"`
	AckBy        string     `json:"ack_by,omitempty" bson:"ack_by,omitempty"`
}

// RunFilter narrows ListRuns. Zero fields do not filter.
type RunFilter struct {
	SampleID string
	Passed   *bool
	From     time.Time
	To       time.Time
	Limit    int
}

// AlarmFilter narrows ListAlarms.
type AlarmFilter struct {
	ActiveOnly bool
	Limit      int
}

// Store keeps runs and alarms.
//
// FinalizeRun must be atomic: either the result, every sample and the
// completed status are stored together, or nothing changes. Finalizing a
// run that is already completed succeeds, so a caller that lost the
// acknowledgement can retry. AbortRun leaves a completed run as it is.
type Store interface {
	CreateRun(ctx context.Context, run Run) error
	FinalizeRun(ctx context.Context, id string, res Result, samples []Sample) error
	AbortRun(ctx context.Context, id string) error
	GetRun(ctx context.Context, id string) (Run, error)
	// ListRuns returns runs newest first, without samples.
	ListRuns(ctx context.Context, f RunFilter) ([]Run, error)
	DeleteRun(ctx context.Context, id string) error

	RecordAlarm(ctx context.Context, a Alarm) error
	ListAlarms(ctx context.Context, f AlarmFilter) ([]Alarm, error)
	AcknowledgeAlarm(ctx context.Context, id, by string) error

	Close(ctx context.Context) error
}

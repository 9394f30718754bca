// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	MemoryMap  MemoryMapConfig  `yaml:"memory_map"`
	Timing     TimingConfig     `yaml:"timing"`
	Safety     SafetyConfig     `yaml:"safety"`
	Storage    StorageConfig    `yaml:"storage"`
	HTTP       HTTPConfig       `yaml:"http"`
	NATS       NATSConfig       `yaml:"nats"`
}

// ---- CONTROLLER ----

const (
	ProtocolS7     = "s7"
	ProtocolModbus = "modbus"
)

type ControllerConfig struct {
	Name      string `yaml:"name"`
	Protocol  string `yaml:"protocol"` // s7 | modbus
	Endpoint  string `yaml:"endpoint"`
	Rack      int    `yaml:"rack"`
	Slot      *int   `yaml:"slot"` // nil = 1 (S7-1200 CPU)
	UnitID    uint8  `yaml:"unit_id"` // modbus only
	TimeoutMs int    `yaml:"timeout_ms"`
	Trace     bool   `yaml:"trace"`

	// DBRegisterBase maps a data block number to its first holding
	// register (modbus only).
	DBRegisterBase map[int]uint16 `yaml:"db_register_base"`
}

func (c ControllerConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// ---- MEMORY MAP ----

// MemoryMapConfig names every signal the core touches, in S7 notation.
// Empty entries are filled from the canonical table by Normalize.
type MemoryMapConfig struct {
	// direct inputs
	ServoReady  string `yaml:"servo_ready"`
	ServoError  string `yaml:"servo_error"`
	AtHome      string `yaml:"at_home"`
	UpperLimit  string `yaml:"upper_limit"`
	LowerLimit  string `yaml:"lower_limit"`
	EStop       string `yaml:"e_stop"`
	StartButton string `yaml:"start_button"`
	LoadCell    string `yaml:"load_cell"`

	// test parameters
	PipeDiameter      string `yaml:"pipe_diameter"`
	PipeLength        string `yaml:"pipe_length"`
	DeflectionPercent string `yaml:"deflection_percent"`
	TestSpeed         string `yaml:"test_speed"`
	MaxStroke         string `yaml:"max_stroke"`
	MaxForce          string `yaml:"max_force"`

	// test results
	ActualForce      string `yaml:"actual_force"`
	ActualDeflection string `yaml:"actual_deflection"`
	TargetDeflection string `yaml:"target_deflection"`
	RingStiffness    string `yaml:"ring_stiffness"`
	ForceAtTarget    string `yaml:"force_at_target"`
	SNClass          string `yaml:"sn_class"`
	TestStatus       string `yaml:"test_status"`
	TestPassed       string `yaml:"test_passed"`
	ActualPosition   string `yaml:"actual_position"`

	// control
	Enable      string `yaml:"enable"`
	JogForward  string `yaml:"jog_forward"`
	JogBackward string `yaml:"jog_backward"`
	StartTest   string `yaml:"start_test"`
	Stop        string `yaml:"stop"`
	Home        string `yaml:"home"`
	AlarmReset  string `yaml:"alarm_reset"`
	LockUpper   string `yaml:"lock_upper"`
	LockLower   string `yaml:"lock_lower"`
	JogVelocity string `yaml:"jog_velocity"`
	RemoteMode  string `yaml:"remote_mode"`
}

// ---- TIMING ----

type TimingConfig struct {
	SamplePeriodMs    int   `yaml:"sample_period_ms"`
	BroadcastPeriodMs int   `yaml:"broadcast_period_ms"`
	ReconnectPeriodMs int   `yaml:"reconnect_period_ms"`
	StopPulseMs       int   `yaml:"stop_pulse_ms"`
	AlarmResetPulseMs int   `yaml:"alarm_reset_pulse_ms"`
	StartPulseMs      int   `yaml:"start_pulse_ms"`
	HomePulseMs       int   `yaml:"home_pulse_ms"`
	CompletionStatus  int16 `yaml:"completion_status"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (t TimingConfig) SamplePeriod() time.Duration    { return ms(t.SamplePeriodMs) }
func (t TimingConfig) BroadcastPeriod() time.Duration { return ms(t.BroadcastPeriodMs) }
func (t TimingConfig) ReconnectPeriod() time.Duration { return ms(t.ReconnectPeriodMs) }

// ---- SAFETY ----

type SafetyConfig struct {
	MinJogSpeed float64 `yaml:"min_jog_speed"` // mm/min
	MaxJogSpeed float64 `yaml:"max_jog_speed"` // mm/min
	MaxForce    float64 `yaml:"max_force"`     // kN
	MaxStroke   float64 `yaml:"max_stroke"`    // mm
}

// ---- STORAGE ----

const (
	StorageMemory = "memory"
	StorageMongo  = "mongo"
)

type StorageConfig struct {
	Backend  string `yaml:"backend"` // memory | mongo
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// ---- SURFACES ----

type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// Load reads and decodes a YAML config file.
// It does not validate or normalize.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	return &cfg, nil
}

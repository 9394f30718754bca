// internal/telemetry/builder.go
package telemetry

import (
	"fmt"

	"github.com/tamzrod/ring-tester/internal/config"
	"github.com/tamzrod/ring-tester/internal/device"
)

// Map holds the resolved addresses the reader touches.
type Map struct {
	ServoReady  device.Address
	ServoError  device.Address
	AtHome      device.Address
	UpperLimit  device.Address
	LowerLimit  device.Address
	EStop       device.Address
	StartButton device.Address
	LoadCell    device.Address

	Enable      device.Address
	JogForward  device.Address
	JogBackward device.Address
	LockUpper   device.Address
	LockLower   device.Address
	RemoteMode  device.Address

	ActualForce      device.Address
	ActualDeflection device.Address
	TargetDeflection device.Address
	RingStiffness    device.Address
	ForceAtTarget    device.Address
	ActualPosition   device.Address
	SNClass          device.Address
	TestStatus       device.Address
	TestPassed       device.Address

	PipeDiameter      device.Address
	PipeLength        device.Address
	DeflectionPercent device.Address
	TestSpeed         device.Address
	MaxStroke         device.Address
	MaxForce          device.Address
}

// BuildMap resolves a validated memory map.
func BuildMap(m config.MemoryMapConfig) (Map, error) {
	var p config.Parser
	bit := func(s string) device.Address { return p.Parse(s, device.KindBool) }
	word := func(s string) device.Address { return p.Parse(s, device.KindInt16) }
	float := func(s string) device.Address { return p.Parse(s, device.KindFloat32) }

	out := Map{
		ServoReady:  bit(m.ServoReady),
		ServoError:  bit(m.ServoError),
		AtHome:      bit(m.AtHome),
		UpperLimit:  bit(m.UpperLimit),
		LowerLimit:  bit(m.LowerLimit),
		EStop:       bit(m.EStop),
		StartButton: bit(m.StartButton),
		LoadCell:    word(m.LoadCell),

		Enable:      bit(m.Enable),
		JogForward:  bit(m.JogForward),
		JogBackward: bit(m.JogBackward),
		LockUpper:   bit(m.LockUpper),
		LockLower:   bit(m.LockLower),
		RemoteMode:  bit(m.RemoteMode),

		ActualForce:      float(m.ActualForce),
		ActualDeflection: float(m.ActualDeflection),
		TargetDeflection: float(m.TargetDeflection),
		RingStiffness:    float(m.RingStiffness),
		ForceAtTarget:    float(m.ForceAtTarget),
		ActualPosition:   float(m.ActualPosition),
		SNClass:          word(m.SNClass),
		TestStatus:       word(m.TestStatus),
		TestPassed:       bit(m.TestPassed),

		PipeDiameter:      float(m.PipeDiameter),
		PipeLength:        float(m.PipeLength),
		DeflectionPercent: float(m.DeflectionPercent),
		TestSpeed:         float(m.TestSpeed),
		MaxStroke:         float(m.MaxStroke),
		MaxForce:          float(m.MaxForce),
	}
	if err := p.Err(); err != nil {
		return Map{}, fmt.Errorf("telemetry: memory map: %w", err)
	}
	return out, nil
}

// DefaultMap returns the canonical memory map.
func DefaultMap() Map {
	var cfg config.Config
	config.Defaults(&cfg)
	m, err := BuildMap(cfg.MemoryMap)
	if err != nil {
		panic(err) // canonical table is static
	}
	return m
}

// internal/command/builder.go
package command

import (
	"fmt"

	"github.com/tamzrod/ring-tester/internal/config"
	"github.com/tamzrod/ring-tester/internal/device"
)

// Map holds the control addresses the dispatcher writes.
type Map struct {
	Enable      device.Address
	JogForward  device.Address
	JogBackward device.Address
	StartTest   device.Address
	Stop        device.Address
	Home        device.Address
	AlarmReset  device.Address
	LockUpper   device.Address
	LockLower   device.Address
	JogVelocity device.Address
	RemoteMode  device.Address
}

func (m Map) target(c Command) device.Address {
	switch c {
	case EnableServo, DisableServo:
		return m.Enable
	case JogForward:
		return m.JogForward
	case JogBackward:
		return m.JogBackward
	case StartTest:
		return m.StartTest
	case Stop:
		return m.Stop
	case Home:
		return m.Home
	case ResetAlarm:
		return m.AlarmReset
	case LockUpper, UnlockUpper:
		return m.LockUpper
	case LockLower, UnlockLower:
		return m.LockLower
	case SetRemoteMode:
		return m.RemoteMode
	default:
		return device.Address{}
	}
}

// Build derives the dispatcher config from a validated, normalized config.
func Build(cfg *config.Config) (Config, error) {
	var p config.Parser
	mm := cfg.MemoryMap
	bit := func(s string) device.Address { return p.Parse(s, device.KindBool) }

	m := Map{
		Enable:      bit(mm.Enable),
		JogForward:  bit(mm.JogForward),
		JogBackward: bit(mm.JogBackward),
		StartTest:   bit(mm.StartTest),
		Stop:        bit(mm.Stop),
		Home:        bit(mm.Home),
		AlarmReset:  bit(mm.AlarmReset),
		LockUpper:   bit(mm.LockUpper),
		LockLower:   bit(mm.LockLower),
		JogVelocity: p.Parse(mm.JogVelocity, device.KindFloat32),
		RemoteMode:  bit(mm.RemoteMode),
	}
	if err := p.Err(); err != nil {
		return Config{}, fmt.Errorf("command: memory map: %w", err)
	}

	t := cfg.Timing
	return Config{
		Map: m,
		Pulses: Pulses{
			Start:      ms(t.StartPulseMs),
			Stop:       ms(t.StopPulseMs),
			Home:       ms(t.HomePulseMs),
			AlarmReset: ms(t.AlarmResetPulseMs),
		},
		MinJogSpeed: cfg.Safety.MinJogSpeed,
		MaxJogSpeed: cfg.Safety.MaxJogSpeed,
	}, nil
}

// DefaultConfig returns the dispatcher config for the canonical memory map.
func DefaultConfig() Config {
	var cfg config.Config
	config.Defaults(&cfg)
	c, err := Build(&cfg)
	if err != nil {
		panic(err) // canonical table is static
	}
	return c
}

// internal/config/validate.go
package config

import (
	"fmt"
	"strings"

	"github.com/tamzrod/ring-tester/internal/device"
)

// Validate checks configuration correctness.
// It performs declarative validation only.
// It MUST NOT mutate configuration.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config: nil")
	}

	// ------------------------------------------------------------
	// CONTROLLER
	// ------------------------------------------------------------

	c := cfg.Controller
	if c.Endpoint == "" {
		return fmt.Errorf("controller %q: endpoint is required", c.Name)
	}
	for i := 0; i < len(c.Name); i++ {
		if c.Name[i] > 0x7F {
			return fmt.Errorf("controller %q: name must contain ASCII characters only", c.Name)
		}
	}
	switch strings.ToLower(c.Protocol) {
	case ProtocolS7:
		if c.Slot == nil {
			return fmt.Errorf("controller %q: slot not set (Defaults not applied)", c.Name)
		}
		if c.Rack < 0 || c.Rack > 7 || *c.Slot < 0 || *c.Slot > 31 {
			return fmt.Errorf("controller %q: rack must be 0..7 and slot 0..31", c.Name)
		}
	case ProtocolModbus:
	default:
		return fmt.Errorf("controller %q: unknown protocol %q (want s7 or modbus)", c.Name, c.Protocol)
	}
	if c.TimeoutMs < 0 {
		return fmt.Errorf("controller %q: timeout_ms must be >= 0", c.Name)
	}

	// ------------------------------------------------------------
	// MEMORY MAP
	// ------------------------------------------------------------

	type owned struct {
		addr device.Address
		name string
	}
	var writes []owned

	for _, s := range cfg.MemoryMap.signals() {
		a, err := device.ParseKind(*s.addr, s.kind)
		if err != nil {
			return fmt.Errorf("memory_map.%s: %w", s.name, err)
		}

		if strings.EqualFold(c.Protocol, ProtocolModbus) {
			if a.Area == device.AreaMarkers {
				return fmt.Errorf("memory_map.%s: marker area is not reachable over modbus", s.name)
			}
			if a.Area == device.AreaDB {
				if _, ok := c.DBRegisterBase[a.DB]; !ok {
					return fmt.Errorf("memory_map.%s: DB%d has no db_register_base entry", s.name, a.DB)
				}
			}
		}

		if !s.writable {
			continue
		}
		if a.Area == device.AreaInputs {
			return fmt.Errorf("memory_map.%s: %s is in the input image and cannot be written", s.name, a)
		}

		// ------------------------------------------------------------
		// WRITE GEOMETRY: no two writable signals may share memory
		// ------------------------------------------------------------
		for _, w := range writes {
			if a.Overlaps(w.addr) {
				return fmt.Errorf(
					"memory overlap: memory_map.%s (%s) overlaps with memory_map.%s (%s)",
					s.name, a, w.name, w.addr,
				)
			}
		}
		writes = append(writes, owned{addr: a, name: s.name})
	}

	// ------------------------------------------------------------
	// TIMING
	// ------------------------------------------------------------

	t := cfg.Timing
	periods := []struct {
		name string
		v    int
	}{
		{"sample_period_ms", t.SamplePeriodMs},
		{"broadcast_period_ms", t.BroadcastPeriodMs},
		{"reconnect_period_ms", t.ReconnectPeriodMs},
		{"stop_pulse_ms", t.StopPulseMs},
		{"alarm_reset_pulse_ms", t.AlarmResetPulseMs},
		{"start_pulse_ms", t.StartPulseMs},
		{"home_pulse_ms", t.HomePulseMs},
	}
	for _, p := range periods {
		if p.v <= 0 {
			return fmt.Errorf("timing.%s must be > 0", p.name)
		}
	}

	// ------------------------------------------------------------
	// SAFETY
	// ------------------------------------------------------------

	s := cfg.Safety
	if s.MinJogSpeed <= 0 || s.MaxJogSpeed <= 0 {
		return fmt.Errorf("safety: jog speed limits must be > 0")
	}
	if s.MinJogSpeed > s.MaxJogSpeed {
		return fmt.Errorf("safety: min_jog_speed %.1f exceeds max_jog_speed %.1f", s.MinJogSpeed, s.MaxJogSpeed)
	}
	if s.MaxForce <= 0 || s.MaxStroke <= 0 {
		return fmt.Errorf("safety: max_force and max_stroke must be > 0")
	}

	// ------------------------------------------------------------
	// STORAGE
	// ------------------------------------------------------------

	switch strings.ToLower(cfg.Storage.Backend) {
	case StorageMemory:
	case StorageMongo:
		if cfg.Storage.URI == "" {
			return fmt.Errorf("storage: mongo backend requires uri")
		}
	default:
		return fmt.Errorf("storage: unknown backend %q (want memory or mongo)", cfg.Storage.Backend)
	}

	return nil
}

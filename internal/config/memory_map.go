// internal/config/memory_map.go
package config

import "github.com/tamzrod/ring-tester/internal/device"

// signal is one memory map entry with its canonical default.
type signal struct {
	name     string
	addr     *string
	kind     device.Kind
	def      string
	writable bool
}

// signals lists every memory map entry. The defaults are the canonical
// S7-1214C layout: direct inputs for the safety flags and the load cell,
// DB1 for parameters, DB2 for results, DB3 for control.
func (m *MemoryMapConfig) signals() []signal {
	const (
		ro = false
		rw = true
	)
	return []signal{
		{"servo_ready", &m.ServoReady, device.KindBool, "I0.0", ro},
		{"servo_error", &m.ServoError, device.KindBool, "I0.1", ro},
		{"at_home", &m.AtHome, device.KindBool, "I0.2", ro},
		{"upper_limit", &m.UpperLimit, device.KindBool, "I0.3", ro},
		{"lower_limit", &m.LowerLimit, device.KindBool, "I0.4", ro},
		{"e_stop", &m.EStop, device.KindBool, "I0.6", ro},
		{"start_button", &m.StartButton, device.KindBool, "I0.7", ro},
		{"load_cell", &m.LoadCell, device.KindInt16, "IW64", ro},

		{"pipe_diameter", &m.PipeDiameter, device.KindFloat32, "DB1.DBD0", rw},
		{"pipe_length", &m.PipeLength, device.KindFloat32, "DB1.DBD4", rw},
		{"deflection_percent", &m.DeflectionPercent, device.KindFloat32, "DB1.DBD8", rw},
		{"test_speed", &m.TestSpeed, device.KindFloat32, "DB1.DBD12", rw},
		{"max_stroke", &m.MaxStroke, device.KindFloat32, "DB1.DBD16", rw},
		{"max_force", &m.MaxForce, device.KindFloat32, "DB1.DBD20", rw},

		{"actual_force", &m.ActualForce, device.KindFloat32, "DB2.DBD0", ro},
		{"actual_deflection", &m.ActualDeflection, device.KindFloat32, "DB2.DBD4", ro},
		{"target_deflection", &m.TargetDeflection, device.KindFloat32, "DB2.DBD8", ro},
		{"ring_stiffness", &m.RingStiffness, device.KindFloat32, "DB2.DBD12", ro},
		{"force_at_target", &m.ForceAtTarget, device.KindFloat32, "DB2.DBD16", ro},
		{"sn_class", &m.SNClass, device.KindInt16, "DB2.DBW20", ro},
		{"test_status", &m.TestStatus, device.KindInt16, "DB2.DBW22", ro},
		{"test_passed", &m.TestPassed, device.KindBool, "DB2.DBX24.0", ro},
		// The rig has no separate encoder channel: position is the ram
		// deflection reported by the program.
		{"actual_position", &m.ActualPosition, device.KindFloat32, "DB2.DBD4", ro},

		{"enable", &m.Enable, device.KindBool, "DB3.DBX0.0", rw},
		{"jog_forward", &m.JogForward, device.KindBool, "DB3.DBX0.1", rw},
		{"jog_backward", &m.JogBackward, device.KindBool, "DB3.DBX0.2", rw},
		{"start_test", &m.StartTest, device.KindBool, "DB3.DBX0.3", rw},
		{"stop", &m.Stop, device.KindBool, "DB3.DBX0.4", rw},
		{"home", &m.Home, device.KindBool, "DB3.DBX0.5", rw},
		{"alarm_reset", &m.AlarmReset, device.KindBool, "DB3.DBX0.6", rw},
		{"lock_upper", &m.LockUpper, device.KindBool, "DB3.DBX1.3", rw},
		{"lock_lower", &m.LockLower, device.KindBool, "DB3.DBX1.4", rw},
		{"jog_velocity", &m.JogVelocity, device.KindFloat32, "DB3.DBD2", rw},
		{"remote_mode", &m.RemoteMode, device.KindBool, "DB3.DBX25.0", rw},
	}
}

// DataBlocks returns the data block numbers referenced by the map.
func (m *MemoryMapConfig) DataBlocks() []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range m.signals() {
		a, err := device.ParseAddress(*s.addr)
		if err != nil || a.Area != device.AreaDB || seen[a.DB] {
			continue
		}
		seen[a.DB] = true
		out = append(out, a.DB)
	}
	return out
}

// Parser resolves memory map entries into addresses, keeping the first
// error so builders can parse a whole block and check once.
type Parser struct {
	err error
}

// Parse resolves one entry.
func (p *Parser) Parse(s string, want device.Kind) device.Address {
	if p.err != nil {
		return device.Address{}
	}
	a, err := device.ParseKind(s, want)
	if err != nil {
		p.err = err
	}
	return a
}

// Err returns the first parse error.
func (p *Parser) Err() error {
	return p.err
}

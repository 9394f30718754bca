// internal/command/policy.go
package command

import "time"

// Command names one operator intent.
type Command string

const (
	EnableServo   Command = "enable_servo"
	DisableServo  Command = "disable_servo"
	JogForward    Command = "jog_forward"
	JogBackward   Command = "jog_backward"
	StartTest     Command = "start_test"
	Stop          Command = "stop"
	Home          Command = "home"
	ResetAlarm    Command = "reset_alarm"
	LockUpper     Command = "lock_upper"
	LockLower     Command = "lock_lower"
	UnlockUpper   Command = "unlock_upper"
	UnlockLower   Command = "unlock_lower"
	SetRemoteMode Command = "set_remote_mode"
)

// Encoding is how a command reaches the controller.
type Encoding int

const (
	// Level writes a value that holds until told otherwise.
	Level Encoding = iota + 1
	// Pulse writes true, holds for the pulse width, then writes false.
	Pulse
)

func (e Encoding) String() string {
	switch e {
	case Level:
		return "level"
	case Pulse:
		return "pulse"
	default:
		return "unknown"
	}
}

// Safety is an action the dispatcher runs around a command.
type Safety string

const (
	StopAllJog       Safety = "stop_all_jog"
	ClearJogForward  Safety = "clear_jog_forward"
	ClearJogBackward Safety = "clear_jog_backward"
)

// Policy binds a command to its encoding and safety actions.
//
// Before runs ahead of the write, After behind it. Engage runs ahead of
// the write only when a level command sets its bit. A failing safety
// action never stops the command or the remaining actions.
type Policy struct {
	Encoding Encoding
	Before   []Safety
	Engage   []Safety
	After    []Safety
}

// policies is the complete command table. A command missing here cannot
// be dispatched.
var policies = map[Command]Policy{
	EnableServo:  {Encoding: Level},
	DisableServo: {Encoding: Level, Before: []Safety{StopAllJog}},

	// opposite directions are interlocked
	JogForward:  {Encoding: Level, Engage: []Safety{ClearJogBackward}},
	JogBackward: {Encoding: Level, Engage: []Safety{ClearJogForward}},

	StartTest:  {Encoding: Pulse},
	Stop:       {Encoding: Pulse, After: []Safety{StopAllJog}}, // the pulse alone leaves a held jog set
	Home:       {Encoding: Pulse},
	ResetAlarm: {Encoding: Pulse},

	LockUpper:   {Encoding: Level},
	LockLower:   {Encoding: Level},
	UnlockUpper: {Encoding: Level},
	UnlockLower: {Encoding: Level},

	SetRemoteMode: {Encoding: Level},
}

// PolicyFor returns the table entry for c.
func PolicyFor(c Command) (Policy, bool) {
	p, ok := policies[c]
	return p, ok
}

// Pulses are the hold times of the pulse commands. Each must exceed the
// controller's scan cycle so the edge is seen.
type Pulses struct {
	Start      time.Duration
	Stop       time.Duration
	Home       time.Duration
	AlarmReset time.Duration
}

// DefaultPulses returns the stock pulse widths.
func DefaultPulses() Pulses {
	return Pulses{
		Start:      100 * time.Millisecond,
		Stop:       100 * time.Millisecond,
		Home:       100 * time.Millisecond,
		AlarmReset: 500 * time.Millisecond,
	}
}

func (p Pulses) width(c Command) time.Duration {
	switch c {
	case StartTest:
		return p.Start
	case Stop:
		return p.Stop
	case Home:
		return p.Home
	case ResetAlarm:
		return p.AlarmReset
	default:
		return 0
	}
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// internal/command/dispatcher.go
package command

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/tamzrod/ring-tester/internal/device"
)

// Session is the part of device.Session the dispatcher uses.
type Session interface {
	Connected() bool
	WriteBool(a device.Address, v bool) error
	WriteFloat32(a device.Address, v float32) error
}

type Config struct {
	Map         Map
	Pulses      Pulses
	MinJogSpeed float64 // mm/min
	MaxJogSpeed float64 // mm/min
}

// Dispatcher turns intents into control writes following the policy table.
// Safe for concurrent use.
type Dispatcher struct {
	s     Session
	cfg   Config
	sleep func(time.Duration)

	// one pulse per command at a time; different commands never wait on
	// each other
	pulseMu map[Command]*sync.Mutex
}

func New(s Session, cfg Config) *Dispatcher {
	if cfg.Pulses == (Pulses{}) {
		cfg.Pulses = DefaultPulses()
	}
	if cfg.MinJogSpeed <= 0 {
		cfg.MinJogSpeed = 1
	}
	if cfg.MaxJogSpeed <= 0 {
		cfg.MaxJogSpeed = 100
	}

	pm := make(map[Command]*sync.Mutex)
	for c, p := range policies {
		if p.Encoding == Pulse {
			pm[c] = &sync.Mutex{}
		}
	}

	return &Dispatcher{
		s:       s,
		cfg:     cfg,
		sleep:   time.Sleep,
		pulseMu: pm,
	}
}

// ---- level commands ----

func (d *Dispatcher) EnableServo() error  { return d.Exec(EnableServo, true) }
func (d *Dispatcher) DisableServo() error { return d.Exec(DisableServo, false) }

func (d *Dispatcher) JogForward(on bool) error  { return d.Exec(JogForward, on) }
func (d *Dispatcher) JogBackward(on bool) error { return d.Exec(JogBackward, on) }

func (d *Dispatcher) LockUpper() error   { return d.Exec(LockUpper, true) }
func (d *Dispatcher) LockLower() error   { return d.Exec(LockLower, true) }
func (d *Dispatcher) UnlockUpper() error { return d.Exec(UnlockUpper, false) }
func (d *Dispatcher) UnlockLower() error { return d.Exec(UnlockLower, false) }

func (d *Dispatcher) SetRemoteMode(on bool) error { return d.Exec(SetRemoteMode, on) }

// LockAll locks both clamps. Both are attempted even when one fails.
func (d *Dispatcher) LockAll() error {
	return combine("lock_all", d.LockUpper(), d.LockLower())
}

// UnlockAll unlocks both clamps. Both are attempted even when one fails.
func (d *Dispatcher) UnlockAll() error {
	return combine("unlock_all", d.UnlockUpper(), d.UnlockLower())
}

// ---- pulse commands ----

func (d *Dispatcher) StartTest() error  { return d.Exec(StartTest, true) }
func (d *Dispatcher) Home() error       { return d.Exec(Home, true) }
func (d *Dispatcher) ResetAlarm() error { return d.Exec(ResetAlarm, true) }

// Stop pulses the stop bit and then clears both jog bits.
func (d *Dispatcher) Stop() error {
	log.Printf("SAFETY: command: stop")
	return d.Exec(Stop, true)
}

// ---- safety ----

// StopAllJog clears both jog bits. Idempotent; both clears are attempted
// even when one fails.
func (d *Dispatcher) StopAllJog() error {
	if !d.s.Connected() {
		return fmt.Errorf("command: %s: %w", StopAllJog, device.ErrNotConnected)
	}
	log.Printf("SAFETY: command: stop all jog")
	return combine(string(StopAllJog),
		d.s.WriteBool(d.cfg.Map.JogForward, false),
		d.s.WriteBool(d.cfg.Map.JogBackward, false),
	)
}

func (d *Dispatcher) safety(a Safety) error {
	switch a {
	case StopAllJog:
		return d.StopAllJog()
	case ClearJogForward:
		return d.s.WriteBool(d.cfg.Map.JogForward, false)
	case ClearJogBackward:
		return d.s.WriteBool(d.cfg.Map.JogBackward, false)
	default:
		return fmt.Errorf("unknown safety action %q", a)
	}
}

// ---- jog velocity ----

// SetJogVelocity clamps v into the configured jog range and writes it.
// It returns the value actually written.
func (d *Dispatcher) SetJogVelocity(v float64) (float64, error) {
	clamped := clamp(v, d.cfg.MinJogSpeed, d.cfg.MaxJogSpeed)
	if clamped != v {
		log.Printf("command: jog velocity %.2f clamped to %.2f", v, clamped)
	}
	if !d.s.Connected() {
		return clamped, fmt.Errorf("command: set jog velocity: %w", device.ErrNotConnected)
	}
	if err := d.s.WriteFloat32(d.cfg.Map.JogVelocity, float32(clamped)); err != nil {
		return clamped, fmt.Errorf("command: set jog velocity: %w", err)
	}
	return clamped, nil
}

// JogLimits returns the jog velocity range.
func (d *Dispatcher) JogLimits() (lo, hi float64) {
	return d.cfg.MinJogSpeed, d.cfg.MaxJogSpeed
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ---- execution ----

// Exec runs one command through its policy: connectivity check, Before,
// Engage (level set only), the write itself, After. Every step is
// attempted; the error lists each failure.
func (d *Dispatcher) Exec(c Command, on bool) error {
	p, ok := policies[c]
	if !ok {
		return fmt.Errorf("command: unknown command %q", c)
	}
	if !d.s.Connected() {
		return fmt.Errorf("command: %s: %w", c, device.ErrNotConnected)
	}

	var errs []string
	run := func(actions []Safety) {
		for _, a := range actions {
			if err := d.safety(a); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", a, err))
			}
		}
	}

	run(p.Before)
	if p.Encoding == Level && on {
		run(p.Engage)
	}

	addr := d.cfg.Map.target(c)
	var err error
	switch p.Encoding {
	case Level:
		err = d.s.WriteBool(addr, on)
	case Pulse:
		err = d.pulse(c, addr)
	}
	if err != nil {
		errs = append(errs, fmt.Sprintf("%s: %v", c, err))
	}

	run(p.After)

	if len(errs) > 0 {
		log.Printf("command: %s failed: %s", c, strings.Join(errs, " | "))
		return errors.New("command: " + strings.Join(errs, " | "))
	}
	return nil
}

func (d *Dispatcher) pulse(c Command, a device.Address) error {
	mu := d.pulseMu[c]
	mu.Lock()
	defer mu.Unlock()

	if err := d.s.WriteBool(a, true); err != nil {
		return err
	}
	d.sleep(d.cfg.Pulses.width(c))
	if err := d.s.WriteBool(a, false); err != nil {
		log.Printf("SAFETY: command: %s bit %s may be left set: %v", c, a, err)
		return fmt.Errorf("clear %s: %w", a, err)
	}
	return nil
}

func combine(name string, errs ...error) error {
	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return fmt.Errorf("command: %s: %s", name, strings.Join(msgs, " | "))
}

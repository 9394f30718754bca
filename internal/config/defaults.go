// internal/config/defaults.go
package config

// Defaults fills every unset field with its default.
// It is allowed to mutate configuration.
// It MUST be called before Validate(): validation checks the effective
// configuration, defaults included.
func Defaults(cfg *Config) {
	if cfg == nil {
		return
	}

	c := &cfg.Controller
	if c.Name == "" {
		c.Name = "plc"
	}
	if c.Protocol == "" {
		c.Protocol = ProtocolS7
	}
	if c.Slot == nil {
		slot := 1 // S7-1200 CPU
		c.Slot = &slot
	}
	if c.UnitID == 0 {
		c.UnitID = 1
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = 2000
	}

	for _, s := range cfg.MemoryMap.signals() {
		if *s.addr == "" {
			*s.addr = s.def
		}
	}

	t := &cfg.Timing
	setInt(&t.SamplePeriodMs, 100)
	setInt(&t.BroadcastPeriodMs, 100)
	setInt(&t.ReconnectPeriodMs, 5000)
	setInt(&t.StopPulseMs, 100)
	setInt(&t.AlarmResetPulseMs, 500)
	setInt(&t.StartPulseMs, 100)
	setInt(&t.HomePulseMs, 100)
	if t.CompletionStatus == 0 {
		t.CompletionStatus = 5
	}

	s := &cfg.Safety
	setFloat(&s.MinJogSpeed, 1)
	setFloat(&s.MaxJogSpeed, 100)
	setFloat(&s.MaxForce, 200)
	setFloat(&s.MaxStroke, 500)

	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = StorageMemory
	}
	if cfg.Storage.Backend == StorageMongo && cfg.Storage.Database == "" {
		cfg.Storage.Database = "ring_tester"
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = ":8000"
	}
	if cfg.NATS.URL != "" && cfg.NATS.Subject == "" {
		cfg.NATS.Subject = "ringtester.telemetry"
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

// internal/config/normalize.go
package config

import "strings"

// Normalize applies post-validation normalization.
// It is allowed to mutate configuration.
// It MUST be called only after Validate().
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}

	cfg.Controller.Protocol = strings.ToLower(cfg.Controller.Protocol)
	cfg.Storage.Backend = strings.ToLower(cfg.Storage.Backend)

	// Controller name shows up in every log line; keep it short.
	if len(cfg.Controller.Name) > 16 {
		cfg.Controller.Name = cfg.Controller.Name[:16]
	}

	for _, s := range cfg.MemoryMap.signals() {
		*s.addr = strings.ToUpper(strings.TrimSpace(*s.addr))
	}
}

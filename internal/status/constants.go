// internal/status/constants.go
package status

// Link health codes.
// Values are reported verbatim over the API and MUST NOT be renumbered.

// HealthUnknown represents the boot state before the first connect attempt.
const HealthUnknown uint16 = 0

// HealthOK represents a connected controller.
const HealthOK uint16 = 1

// HealthError represents a lost or refused controller link.
const HealthError uint16 = 2

// MaxSecondsInError is where the seconds-in-error counter saturates.
const MaxSecondsInError = 65535

// HealthName returns a short label for a health code.
func HealthName(h uint16) string {
	switch h {
	case HealthOK:
		return "ok"
	case HealthError:
		return "error"
	default:
		return "unknown"
	}
}

// internal/status/snapshot.go
package status

// Snapshot is the link health as last observed.
// It contains no logic and no memory of the past beyond current state.
type Snapshot struct {
	Health         uint16 `json:"health"`
	LastError      string `json:"last_error"`
	SecondsInError uint16 `json:"seconds_in_error"`
	Reconnects     uint32 `json:"reconnects"`
}

// OK reports whether the link is healthy.
func (s Snapshot) OK() bool {
	return s.Health == HealthOK
}

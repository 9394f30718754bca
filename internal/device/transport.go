// internal/device/transport.go
package device

import "errors"

var (
	// ErrNotConnected is returned when an operation is attempted on a session
	// that is not in the Connected state.
	ErrNotConnected = errors.New("device: not connected")

	// ErrRejected marks a request the controller answered with a refusal
	// (bad address, area not mapped). The link itself is still healthy.
	ErrRejected = errors.New("device: request rejected by controller")
)

// Transport moves raw bytes to and from controller memory.
// Geometry only: no scaling, no semantics, no locking.
// The Session is the only caller and serializes every call.
type Transport interface {
	Connect() error
	Close() error
	ReadArea(area Area, db, offset, size int) ([]byte, error)
	WriteArea(area Area, db, offset int, data []byte) error
}

// CPUState is the controller run state.
type CPUState string

const (
	CPURun     CPUState = "run"
	CPUStop    CPUState = "stop"
	CPUUnknown CPUState = "unknown"
)

// StateReader is implemented by transports that can query the controller
// run state. It doubles as the liveness check.
type StateReader interface {
	CPUState() (CPUState, error)
}

func isRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

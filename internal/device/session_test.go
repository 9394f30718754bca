// internal/device/session_test.go
package device_test

import (
	"errors"
	"sync"
	"testing"

	"gotest.tools/v3/assert"

	"github.com/tamzrod/ring-tester/internal/device"
	"github.com/tamzrod/ring-tester/internal/device/devicetest"
)

func connected(t *testing.T) (*device.Session, *devicetest.Transport) {
	t.Helper()
	tr := devicetest.New()
	s := device.NewSession("plc", tr)
	assert.NilError(t, s.Connect())
	return s, tr
}

func TestSession_StartsDisconnected(t *testing.T) {
	s := device.NewSession("plc", devicetest.New())
	assert.Equal(t, s.State(), device.Disconnected)

	_, ok := s.ReadFloat32(device.Float32(2, 0))
	assert.Assert(t, !ok)
	assert.Assert(t, errors.Is(s.WriteBool(device.Bool(3, 0, 0), true), device.ErrNotConnected))
}

func TestSession_ConnectIdempotent(t *testing.T) {
	s, tr := connected(t)

	// A second connect must not redial: a refused dial would otherwise fail it.
	tr.RefuseDial(true)
	assert.NilError(t, s.Connect())
	assert.Assert(t, s.Connected())
}

func TestSession_ConnectFailure(t *testing.T) {
	tr := devicetest.New()
	tr.RefuseDial(true)
	s := device.NewSession("plc", tr)

	assert.Assert(t, s.Connect() != nil)
	assert.Equal(t, s.State(), device.Disconnected)
	assert.Assert(t, s.LastError() != "")
}

func TestSession_DisconnectAndReconnect(t *testing.T) {
	s, _ := connected(t)

	s.Disconnect()
	assert.Equal(t, s.State(), device.Disconnected)
	s.Disconnect() // best effort, repeatable

	assert.NilError(t, s.Reconnect())
	assert.Assert(t, s.Connected())
}

func TestSession_TypedRoundTrip(t *testing.T) {
	s, tr := connected(t)

	assert.NilError(t, s.WriteFloat32(device.Float32(1, 8), 3.5))
	assert.Equal(t, tr.Float32(device.Float32(1, 8)), float32(3.5))

	tr.SetInt16(device.Int16(2, 22), -7)
	v, ok := s.ReadInt16(device.Int16(2, 22))
	assert.Assert(t, ok)
	assert.Equal(t, v, int16(-7))

	tr.SetFloat32(device.Float32(2, 12), 5123.25)
	f, ok := s.ReadFloat32(device.Float32(2, 12))
	assert.Assert(t, ok)
	assert.Equal(t, f, float32(5123.25))

	assert.NilError(t, s.WriteInt16(device.Int16(2, 20), 5000))
	assert.Equal(t, tr.Int16(device.Int16(2, 20)), int16(5000))
}

func TestSession_KindMismatch(t *testing.T) {
	s, _ := connected(t)

	_, ok := s.ReadFloat32(device.Int16(2, 20))
	assert.Assert(t, !ok)
	assert.Assert(t, s.WriteBool(device.Float32(2, 0), true) != nil)
	assert.Assert(t, s.Connected(), "a caller mistake must not drop the link")
}

// Writing any bit must leave every other bit of the byte untouched.
func TestSession_WriteBoolPreservesSiblings(t *testing.T) {
	s, tr := connected(t)

	for initial := 0; initial < 256; initial += 37 {
		for bit := 0; bit < 8; bit++ {
			for _, v := range []bool{true, false} {
				tr.SetByte(device.AreaDB, 3, 0, byte(initial))
				assert.NilError(t, s.WriteBool(device.Bool(3, 0, bit), v))

				got := tr.Byte(device.AreaDB, 3, 0)
				mask := byte(1) << uint(bit)
				assert.Equal(t, got&^mask, byte(initial)&^mask, "bit %d clobbered siblings", bit)
				assert.Equal(t, got&mask != 0, v)

				rb, ok := s.ReadBool(device.Bool(3, 0, bit))
				assert.Assert(t, ok)
				assert.Equal(t, rb, v)
			}
		}
	}
}

func TestSession_IOErrorDropsLink(t *testing.T) {
	s, tr := connected(t)

	tr.Break()
	_, ok := s.ReadFloat32(device.Float32(2, 0))
	assert.Assert(t, !ok)
	assert.Equal(t, s.State(), device.Disconnected)

	// Further reads short-circuit without touching the link.
	before := tr.Reads()
	tr.Heal()
	_, ok = s.ReadFloat32(device.Float32(2, 0))
	assert.Assert(t, !ok)
	assert.Equal(t, tr.Reads(), before)

	assert.NilError(t, s.Connect())
	_, ok = s.ReadFloat32(device.Float32(2, 0))
	assert.Assert(t, ok)
}

func TestSession_Ping(t *testing.T) {
	s, tr := connected(t)
	assert.NilError(t, s.Ping())
	assert.Equal(t, s.CPUState(), device.CPURun)

	tr.SetCPUState(device.CPUStop)
	assert.Equal(t, s.CPUState(), device.CPUStop)

	tr.Break()
	assert.Assert(t, s.Ping() != nil)
	assert.Assert(t, !s.Connected())
	assert.Equal(t, s.CPUState(), device.CPUUnknown)
}

func TestSession_ConcurrentWritesSerialized(t *testing.T) {
	s, tr := connected(t)

	var wg sync.WaitGroup
	for bit := 0; bit < 8; bit++ {
		wg.Add(1)
		go func(bit int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = s.WriteBool(device.Bool(3, 1, bit), true)
			}
		}(bit)
	}
	wg.Wait()

	assert.Equal(t, tr.Byte(device.AreaDB, 3, 1), byte(0xFF))
}

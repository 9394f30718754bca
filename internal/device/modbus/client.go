// internal/device/modbus/client.go

// Package modbus implements device.Transport for controllers that expose
// their memory through a Modbus TCP server block.
//
// Memory mapping (S7-1200 MB_SERVER convention):
//
//	inputs   I   -> discrete inputs (bit n = I n/8 . n%8), input registers (reg n = IW 2n)
//	outputs  Q   -> coils (bit n = Q n/8 . n%8)
//	DBn          -> holding registers starting at the configured base register
//	markers  M   -> not mapped
//
// Registers are big-endian, so register r holds bytes 2r and 2r+1 of the
// mapped area in S7 order.
package modbus

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/goburrow/modbus"

	"github.com/tamzrod/ring-tester/internal/device"
)

type Config struct {
	Endpoint string
	UnitID   uint8
	Timeout  time.Duration
	Trace    bool

	// DBBase maps a data block number to its first holding register.
	DBBase map[int]uint16
}

// Client is a single TCP connection to one Modbus server.
// Not safe for concurrent use: device.Session serializes access.
type Client struct {
	cfg     Config
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus client: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Client{cfg: cfg}, nil
}

func (c *Client) Connect() error {
	h := modbus.NewTCPClientHandler(c.cfg.Endpoint)
	h.Timeout = c.cfg.Timeout
	h.SlaveId = c.cfg.UnitID
	if c.cfg.Trace {
		h.Logger = log.New(os.Stdout, "modbus: ", log.LstdFlags)
	}

	if err := h.Connect(); err != nil {
		return err
	}

	c.handler = h
	c.client = modbus.NewClient(h)
	return nil
}

func (c *Client) Close() error {
	if c == nil || c.handler == nil {
		return nil
	}
	err := c.handler.Close()
	c.handler = nil
	c.client = nil
	return err
}

// ---- device.Transport ----

func (c *Client) ReadArea(area device.Area, db, offset, size int) ([]byte, error) {
	if c.client == nil {
		return nil, device.ErrNotConnected
	}
	if size <= 0 {
		return nil, nil
	}

	switch area {
	case device.AreaInputs:
		if offset%2 == 0 && size%2 == 0 {
			reg, err := regAddr(0, offset)
			if err != nil {
				return nil, err
			}
			raw, err := c.client.ReadInputRegisters(reg, uint16(size/2))
			return checkLen(raw, size, classify(err))
		}
		bit, err := bitAddr(offset)
		if err != nil {
			return nil, err
		}
		raw, err := c.client.ReadDiscreteInputs(bit, uint16(size*8))
		return checkLen(raw, size, classify(err))

	case device.AreaOutputs:
		bit, err := bitAddr(offset)
		if err != nil {
			return nil, err
		}
		raw, err := c.client.ReadCoils(bit, uint16(size*8))
		return checkLen(raw, size, classify(err))

	case device.AreaDB:
		return c.readDB(db, offset, size)

	default:
		return nil, fmt.Errorf("%w: modbus: area %s is not mapped", device.ErrRejected, area)
	}
}

func (c *Client) WriteArea(area device.Area, db, offset int, data []byte) error {
	if c.client == nil {
		return device.ErrNotConnected
	}
	if len(data) == 0 {
		return nil
	}

	switch area {
	case device.AreaOutputs:
		bit, err := bitAddr(offset)
		if err != nil {
			return err
		}
		_, err = c.client.WriteMultipleCoils(bit, uint16(len(data)*8), data)
		return classify(err)

	case device.AreaDB:
		return c.writeDB(db, offset, data)

	default:
		return fmt.Errorf("%w: modbus: area %s is not writable", device.ErrRejected, area)
	}
}

// ---- data blocks ----

func (c *Client) readDB(db, offset, size int) ([]byte, error) {
	base, ok := c.cfg.DBBase[db]
	if !ok {
		return nil, fmt.Errorf("%w: modbus: DB%d has no register base", device.ErrRejected, db)
	}
	reg, err := regAddr(base, offset)
	if err != nil {
		return nil, err
	}

	lead := offset % 2
	count := (lead + size + 1) / 2

	raw, err := c.client.ReadHoldingRegisters(reg, uint16(count))
	if err != nil {
		return nil, classify(err)
	}
	if len(raw) < lead+size {
		return nil, fmt.Errorf("modbus: short holding register read: got %d bytes, want %d", len(raw), lead+size)
	}
	return raw[lead : lead+size], nil
}

// writeDB writes whole registers. An unaligned range is widened to the
// covering registers, read back and spliced so neighbouring bytes survive.
func (c *Client) writeDB(db, offset int, data []byte) error {
	base, ok := c.cfg.DBBase[db]
	if !ok {
		return fmt.Errorf("%w: modbus: DB%d has no register base", device.ErrRejected, db)
	}
	reg, err := regAddr(base, offset)
	if err != nil {
		return err
	}

	if offset%2 == 0 && len(data)%2 == 0 {
		_, err := c.client.WriteMultipleRegisters(reg, uint16(len(data)/2), data)
		return classify(err)
	}

	lead := offset % 2
	count := (lead + len(data) + 1) / 2

	cover, err := c.client.ReadHoldingRegisters(reg, uint16(count))
	if err != nil {
		return classify(err)
	}
	if len(cover) < count*2 {
		return fmt.Errorf("modbus: short read-back: got %d bytes, want %d", len(cover), count*2)
	}
	copy(cover[lead:], data)

	_, err = c.client.WriteMultipleRegisters(reg, uint16(count), cover[:count*2])
	return classify(err)
}

// ---- helpers (pure geometry) ----

func regAddr(base uint16, offset int) (uint16, error) {
	r := int(base) + offset/2
	if offset < 0 || r > 0xFFFF {
		return 0, fmt.Errorf("%w: modbus: register for offset %d out of range", device.ErrRejected, offset)
	}
	return uint16(r), nil
}

func bitAddr(offset int) (uint16, error) {
	b := offset * 8
	if offset < 0 || b > 0xFFFF {
		return 0, fmt.Errorf("%w: modbus: bit address for offset %d out of range", device.ErrRejected, offset)
	}
	return uint16(b), nil
}

func checkLen(raw []byte, size int, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if len(raw) < size {
		return nil, fmt.Errorf("modbus: short read: got %d bytes, want %d", len(raw), size)
	}
	return raw[:size], nil
}

// classify marks Modbus exception responses as controller refusals so the
// session keeps the link up.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var me *modbus.ModbusError
	if errors.As(err, &me) {
		return fmt.Errorf("%w: %v", device.ErrRejected, me)
	}
	return err
}

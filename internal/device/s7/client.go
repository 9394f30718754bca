// internal/device/s7/client.go

// Package s7 implements device.Transport over ISO-on-TCP (S7 communication).
package s7

import (
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/robinson/gos7"

	"github.com/tamzrod/ring-tester/internal/device"
)

// S7 CPU state codes as reported by the SZL read.
const (
	cpuStateRun  = 0x08
	cpuStateStop = 0x04
)

// Config is minimal transport config.
type Config struct {
	Endpoint string // host or host:port (port 102)
	Rack     int
	Slot     int
	Timeout  time.Duration
	Trace    bool
}

// Client is a single ISO-on-TCP connection.
// Not safe for concurrent use: device.Session serializes access.
type Client struct {
	cfg     Config
	handler *gos7.TCPClientHandler
	client  gos7.Client
}

// New creates an unconnected client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("s7 client: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	return &Client{cfg: cfg}, nil
}

// Connect dials a fresh handler. Any previous handler must have been closed.
func (c *Client) Connect() error {
	h := gos7.NewTCPClientHandler(c.cfg.Endpoint, c.cfg.Rack, c.cfg.Slot)
	h.Timeout = c.cfg.Timeout
	h.IdleTimeout = 0
	if c.cfg.Trace {
		h.Logger = log.New(os.Stdout, "s7: ", log.LstdFlags)
	}

	if err := h.Connect(); err != nil {
		return err
	}

	c.handler = h
	c.client = gos7.NewClient(h)
	return nil
}

// Close closes the connection if one is open.
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

	buf := make([]byte, size)
	var err error
	switch area {
	case device.AreaInputs:
		err = c.client.AGReadEB(offset, size, buf)
	case device.AreaOutputs:
		err = c.client.AGReadAB(offset, size, buf)
	case device.AreaMarkers:
		err = c.client.AGReadMB(offset, size, buf)
	case device.AreaDB:
		err = c.client.AGReadDB(db, offset, size, buf)
	default:
		return nil, fmt.Errorf("%w: s7: unsupported area %s", device.ErrRejected, area)
	}
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (c *Client) WriteArea(area device.Area, db, offset int, data []byte) error {
	if c.client == nil {
		return device.ErrNotConnected
	}

	switch area {
	case device.AreaInputs:
		return fmt.Errorf("%w: s7: input image is read-only", device.ErrRejected)
	case device.AreaOutputs:
		return c.client.AGWriteAB(offset, len(data), data)
	case device.AreaMarkers:
		return c.client.AGWriteMB(offset, len(data), data)
	case device.AreaDB:
		return c.client.AGWriteDB(db, offset, len(data), data)
	default:
		return fmt.Errorf("%w: s7: unsupported area %s", device.ErrRejected, area)
	}
}

// CPUState implements device.StateReader.
func (c *Client) CPUState() (device.CPUState, error) {
	if c.client == nil {
		return device.CPUUnknown, device.ErrNotConnected
	}
	st, err := c.client.PLCGetStatus()
	if err != nil {
		return device.CPUUnknown, err
	}
	switch st {
	case cpuStateRun:
		return device.CPURun, nil
	case cpuStateStop:
		return device.CPUStop, nil
	default:
		return device.CPUUnknown, nil
	}
}

// Package serial provides a serial port transport implementation
// for RS232/RS485 communication.
package serial

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/commatea/modbridge/pkg/transport"
	"go.bug.st/serial"
)

// ErrPortNotOpen is returned when the port is used before Connect.
var ErrPortNotOpen = errors.New("serial port not open")

const (
	defaultBaudRate    = 9600
	defaultDataBits    = 8
	defaultReadTimeout = 50 * time.Millisecond
	defaultBufferSize  = 4096
)

// Transport implements transport.Transport for serial ports.
type Transport struct {
	mu sync.RWMutex

	// readMu serializes readers: they share readBuffer, and mu must not
	// be held across a blocking Read or Send would stall for the whole
	// read timeout.
	readMu sync.Mutex

	config transport.Config

	port       serial.Port
	connected  bool
	stats      transport.Statistics
	readBuffer []byte
}

// New creates a serial transport from config, filling defaults for
// unset fields.
func New(config transport.Config) (*Transport, error) {
	if config.Address == "" {
		return nil, errors.New("serial: port path required")
	}
	if config.BaudRate <= 0 {
		config.BaudRate = defaultBaudRate
	}
	if config.DataBits <= 0 {
		config.DataBits = defaultDataBits
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = transport.Duration(defaultReadTimeout)
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}

	return &Transport{
		config:     config,
		readBuffer: make([]byte, config.BufferSize),
	}, nil
}

// Connect opens the serial port.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	mode := &serial.Mode{
		BaudRate: t.config.BaudRate,
		DataBits: t.config.DataBits,
		Parity:   parseParity(t.config.Parity),
		StopBits: parseStopBits(t.config.StopBits),
	}

	port, err := serial.Open(t.config.Address, mode)
	if err != nil {
		return err
	}
	if err := port.SetReadTimeout(time.Duration(t.config.ReadTimeout)); err != nil {
		port.Close()
		return err
	}

	t.port = port
	t.connected = true
	return nil
}

// Close closes the serial port.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected {
		return nil
	}

	var err error
	if t.port != nil {
		err = t.port.Close()
		t.port = nil
	}
	t.connected = false
	return err
}

// IsConnected reports whether the port is open.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Send writes data to the serial port.
func (t *Transport) Send(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.port == nil {
		return 0, ErrPortNotOpen
	}

	n, err := t.port.Write(data)
	if err != nil {
		t.stats.Errors++
		return n, err
	}
	t.stats.BytesSent += uint64(n)
	return n, nil
}

// Receive reads the next chunk from the serial port. The port's read
// timeout makes this return a nil chunk when the line is idle, giving the
// caller a chance to observe its context.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.RLock()
	if !t.connected || t.port == nil {
		t.mu.RUnlock()
		return nil, ErrPortNotOpen
	}
	port := t.port
	t.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	n, err := port.Read(t.readBuffer)
	if err != nil {
		if err == io.EOF {
			return nil, ErrPortNotOpen
		}
		t.mu.Lock()
		t.stats.Errors++
		t.mu.Unlock()
		return nil, err
	}
	if n == 0 {
		// Read timeout, nothing pending.
		return nil, nil
	}

	data := make([]byte, n)
	copy(data, t.readBuffer[:n])

	t.mu.Lock()
	t.stats.BytesReceived += uint64(n)
	t.mu.Unlock()
	return data, nil
}

// Info implements transport.Transport.
func (t *Transport) Info() transport.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return transport.Info{
		Type:      "serial",
		Address:   t.config.Address,
		Connected: t.connected,
		Stats:     t.stats,
	}
}

func parseParity(s string) serial.Parity {
	switch s {
	case "odd":
		return serial.OddParity
	case "even":
		return serial.EvenParity
	default:
		return serial.NoParity
	}
}

func parseStopBits(n int) serial.StopBits {
	if n == 2 {
		return serial.TwoStopBits
	}
	return serial.OneStopBit
}

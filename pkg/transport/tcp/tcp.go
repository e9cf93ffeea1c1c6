// Package tcp provides TCP client and server transport implementations.
package tcp

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/commatea/modbridge/pkg/transport"
)

// Common errors.
var (
	ErrNotConnected = errors.New("tcp: not connected")
	ErrConnClosed   = errors.New("tcp: connection closed")
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultReadTimeout    = 50 * time.Millisecond
	defaultBufferSize     = 8192
)

// Transport implements transport.Transport over a TCP stream. In client
// mode Connect dials the configured address; in listen mode it binds the
// address and accepts a single peer (Modbus TCP is half-duplex per link, so
// one connection per bridge endpoint is the model).
type Transport struct {
	mu sync.RWMutex

	// readMu serializes readers: they share readBuffer, and mu must not
	// be held across a blocking Read or Send would stall for the whole
	// read timeout.
	readMu sync.Mutex

	config transport.Config

	listener   net.Listener
	conn       net.Conn
	connected  bool
	stats      transport.Statistics
	readBuffer []byte
}

// New creates a TCP transport from config, filling defaults for unset
// fields.
func New(config transport.Config) (*Transport, error) {
	if config.Address == "" {
		return nil, errors.New("tcp: address required")
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

// Connect dials the remote endpoint, or in listen mode binds and waits for
// a peer to connect.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.connected {
		return nil
	}

	var conn net.Conn
	if t.config.Listen {
		lc := net.ListenConfig{}
		listener, err := lc.Listen(ctx, "tcp", t.config.Address)
		if err != nil {
			return err
		}
		t.listener = listener

		// Unblock Accept when the context is cancelled.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-ctx.Done():
				listener.Close()
			case <-done:
			}
		}()

		conn, err = listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	} else {
		dialer := &net.Dialer{Timeout: defaultConnectTimeout}
		var err error
		conn, err = dialer.DialContext(ctx, "tcp", t.config.Address)
		if err != nil {
			return err
		}
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(true)
	}

	t.conn = conn
	t.connected = true
	return nil
}

// Close closes the connection and any listener.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	if t.conn != nil {
		err = t.conn.Close()
		t.conn = nil
	}
	if t.listener != nil {
		if lerr := t.listener.Close(); err == nil {
			err = lerr
		}
		t.listener = nil
	}
	t.connected = false
	return err
}

// IsConnected reports whether a peer connection is up.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

// Send writes data to the connection.
func (t *Transport) Send(ctx context.Context, data []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.connected || t.conn == nil {
		return 0, ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		t.conn.SetWriteDeadline(deadline)
	}
	n, err := t.conn.Write(data)
	if err != nil {
		t.stats.Errors++
		return n, err
	}
	t.stats.BytesSent += uint64(n)
	return n, nil
}

// Receive reads the next chunk from the connection. A short read deadline
// turns an idle link into a nil chunk so callers can observe their context.
func (t *Transport) Receive(ctx context.Context) ([]byte, error) {
	t.mu.RLock()
	if !t.connected || t.conn == nil {
		t.mu.RUnlock()
		return nil, ErrNotConnected
	}
	conn := t.conn
	t.mu.RUnlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	t.readMu.Lock()
	defer t.readMu.Unlock()

	conn.SetReadDeadline(time.Now().Add(time.Duration(t.config.ReadTimeout)))
	n, err := conn.Read(t.readBuffer)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrConnClosed
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		t.mu.Lock()
		t.stats.Errors++
		t.mu.Unlock()
		return nil, err
	}
	if n == 0 {
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
	mode := "tcp"
	if t.config.Listen {
		mode = "tcp-listen"
	}
	return transport.Info{
		Type:      mode,
		Address:   t.config.Address,
		Connected: t.connected,
		Stats:     t.stats,
	}
}

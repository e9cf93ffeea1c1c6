// Package transport defines the abstract interface for the byte links a
// bridge endpoint sits on: a serial line or a TCP stream. Transports move
// raw bytes only; framing and protocol live above them.
package transport

import (
	"context"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport is a bidirectional byte channel. Implementations must be safe
// for concurrent use.
type Transport interface {
	// Connect establishes the link. It blocks until connected or the
	// context is cancelled.
	Connect(ctx context.Context) error

	// Close releases the link and all its resources.
	Close() error

	// IsConnected reports whether the link is up.
	IsConnected() bool

	// Send transmits data, returning the number of bytes written.
	Send(ctx context.Context, data []byte) (int, error)

	// Receive returns the next chunk of bytes from the link. A nil chunk
	// with a nil error means the read timed out with nothing pending.
	Receive(ctx context.Context) ([]byte, error)

	// Info describes the transport for logs and status output.
	Info() Info
}

// Info describes a transport instance.
type Info struct {
	// Type is the transport type ("serial", "tcp").
	Type string `json:"type"`

	// Address is the port path or network address.
	Address string `json:"address"`

	// Connected reports the current link state.
	Connected bool `json:"connected"`

	// Stats holds transfer counters.
	Stats Statistics `json:"stats"`
}

// Statistics holds transfer counters for one transport.
type Statistics struct {
	BytesSent     uint64 `json:"bytes_sent"`
	BytesReceived uint64 `json:"bytes_received"`
	Errors        uint64 `json:"errors"`
}

// Config holds the configuration for a transport.
type Config struct {
	// Type is the transport type ("serial", "tcp").
	Type string `yaml:"type" json:"type" validate:"required,oneof=serial tcp"`

	// Address is the connection address: a device path for serial
	// ("/dev/ttyUSB0"), "host:port" for tcp.
	Address string `yaml:"address" json:"address" validate:"required"`

	// Listen makes a tcp transport accept a connection instead of
	// dialing out. Ignored by serial.
	Listen bool `yaml:"listen" json:"listen"`

	// BaudRate applies to serial transports.
	BaudRate int `yaml:"baudrate" json:"baudrate"`

	// DataBits applies to serial transports (5-8).
	DataBits int `yaml:"databits" json:"databits"`

	// Parity applies to serial transports ("none", "odd", "even").
	Parity string `yaml:"parity" json:"parity"`

	// StopBits applies to serial transports (1 or 2).
	StopBits int `yaml:"stopbits" json:"stopbits"`

	// ReadTimeout bounds a single Receive call.
	ReadTimeout Duration `yaml:"read_timeout" json:"read_timeout"`

	// BufferSize is the read buffer size.
	BufferSize int `yaml:"buffer_size" json:"buffer_size"`
}

// Duration is a time.Duration that YAML decodes from strings like "500ms"
// as well as plain nanosecond integers.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var n int64
	if err := value.Decode(&n); err == nil {
		*d = Duration(n)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Package parser provides packet framing over byte streams: a Parser
// extracts complete frames from a growing buffer, and a Buffer accumulates
// partial reads until a Parser can cut frames out of them.
package parser

import (
	"errors"
)

// Common parser errors.
var (
	// ErrIncompletePacket means no complete frame is available yet; the
	// caller should supply more bytes and try again.
	ErrIncompletePacket = errors.New("incomplete packet")

	// ErrInvalidPacket means the buffer contains data the parser cannot
	// frame at all.
	ErrInvalidPacket = errors.New("invalid packet")

	// ErrBufferOverflow means the buffer exceeded its allowed size without
	// producing a complete frame.
	ErrBufferOverflow = errors.New("buffer overflow")
)

// Parser extracts complete frames from a byte stream.
//
// Parse returns the next complete frame and the bytes left over after it.
// The frame must be an owned copy that does not alias buffer: Buffer
// compacts the remainder into the same backing array on every call, which
// would corrupt an aliased frame. The remainder may alias buffer freely.
// When no complete frame is available it returns a nil frame,
// ErrIncompletePacket, and the bytes worth keeping: parsers may trim
// garbage (noise before a start delimiter, an unrecoverable header) from
// the remainder so the stream can resynchronize on later input.
type Parser interface {
	Parse(buffer []byte) (frame []byte, remaining []byte, err error)

	// Reset discards any internal parser state.
	Reset()
}

// Buffer accumulates stream reads for a Parser.
type Buffer struct {
	data    []byte
	maxSize int
	parser  Parser
}

// NewBuffer creates a parse buffer holding at most maxSize pending bytes.
func NewBuffer(maxSize int, parser Parser) *Buffer {
	return &Buffer{
		data:    make([]byte, 0, maxSize),
		maxSize: maxSize,
		parser:  parser,
	}
}

// Write appends stream data to the buffer.
func (b *Buffer) Write(data []byte) error {
	if len(b.data)+len(data) > b.maxSize {
		return ErrBufferOverflow
	}
	b.data = append(b.data, data...)
	return nil
}

// Parse extracts the next complete frame, if any. The parser's remainder is
// always adopted, so prefixes the parser discarded stay discarded.
func (b *Buffer) Parse() ([]byte, error) {
	if len(b.data) == 0 {
		return nil, ErrIncompletePacket
	}

	frame, remaining, err := b.parser.Parse(b.data)
	b.setData(remaining)
	if err != nil {
		return nil, err
	}
	return frame, nil
}

// ParseAll extracts every complete frame currently in the buffer.
func (b *Buffer) ParseAll() ([][]byte, error) {
	var frames [][]byte

	for {
		frame, err := b.Parse()
		if errors.Is(err, ErrIncompletePacket) {
			return frames, nil
		}
		if err != nil {
			return frames, err
		}
		if frame == nil {
			return frames, nil
		}
		frames = append(frames, frame)
	}
}

// Len returns the number of pending bytes.
func (b *Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the pending bytes (the unconsumed remainder).
func (b *Buffer) Bytes() []byte {
	return b.data
}

// Reset clears the buffer and the parser state.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.parser.Reset()
}

func (b *Buffer) setData(remaining []byte) {
	shrunk := b.data[:0]
	b.data = append(shrunk, remaining...)
}

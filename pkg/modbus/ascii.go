package modbus

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/commatea/modbridge/pkg/checksum"
	"github.com/commatea/modbridge/pkg/parser"
)

// Modbus ASCII framing characters.
const (
	asciiStart byte = ':'
	asciiCR    byte = '\r'
	asciiLF    byte = '\n'
)

// EncodeASCII renders a unit-id-prefixed ADU as a Modbus ASCII frame:
// ':' + upper-case hex of the bytes + 2-hex-digit LRC + CRLF.
func EncodeASCII(adu []byte) ([]byte, error) {
	if len(adu) < 2 {
		return nil, fmt.Errorf("%w: ascii frame needs at least unit id and function code", ErrBadForm)
	}
	lrc, err := checksum.LRC(adu)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadForm, err)
	}

	frame := make([]byte, 0, 1+2*len(adu)+2+2)
	frame = append(frame, asciiStart)
	frame = appendUpperHex(frame, adu)
	frame = appendUpperHex(frame, []byte{lrc})
	frame = append(frame, asciiCR, asciiLF)
	return frame, nil
}

// DecodeASCII parses a Modbus ASCII frame back into a unit-id-prefixed ADU.
// The trailing terminator may be CRLF, a lone CR or LF, or already stripped.
func DecodeASCII(frame []byte) ([]byte, error) {
	if len(frame) == 0 || frame[0] != asciiStart {
		return nil, fmt.Errorf("%w: ascii frame must start with ':'", ErrBadForm)
	}

	body := frame[1:]
	for len(body) > 0 && (body[len(body)-1] == asciiCR || body[len(body)-1] == asciiLF) {
		body = body[:len(body)-1]
	}
	if len(body)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of hex digits", ErrBadForm)
	}

	raw := make([]byte, len(body)/2)
	if _, err := hex.Decode(raw, body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadForm, err)
	}
	if len(raw) < 3 {
		return nil, fmt.Errorf("%w: ascii frame too short", ErrBadForm)
	}

	payload, got := raw[:len(raw)-1], raw[len(raw)-1]
	want, err := checksum.LRC(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadForm, err)
	}
	if got != want {
		return nil, fmt.Errorf("%w: lrc %02X, computed %02X", ErrBadChecksum, got, want)
	}
	return payload, nil
}

// ASCIIParser frames Modbus ASCII messages out of a byte stream. Anything
// before a ':' is line noise and is discarded; every ':'...'\n' span is one
// frame.
type ASCIIParser struct{}

// Parse implements parser.Parser.
func (p *ASCIIParser) Parse(buffer []byte) (frame []byte, remaining []byte, err error) {
	start := bytes.IndexByte(buffer, asciiStart)
	if start < 0 {
		return nil, nil, parser.ErrIncompletePacket
	}
	buffer = buffer[start:]

	end := bytes.IndexByte(buffer, asciiLF)
	if end < 0 {
		return nil, buffer, parser.ErrIncompletePacket
	}

	frame = make([]byte, end+1)
	copy(frame, buffer[:end+1])
	return frame, buffer[end+1:], nil
}

// Reset implements parser.Parser. The ASCII framer is stateless.
func (p *ASCIIParser) Reset() {}

const upperHexDigits = "0123456789ABCDEF"

func appendUpperHex(dst []byte, src []byte) []byte {
	for _, b := range src {
		dst = append(dst, upperHexDigits[b>>4], upperHexDigits[b&0x0F])
	}
	return dst
}

package modbus

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/commatea/modbridge/pkg/parser"
)

// MBAP header layout: 2-byte transaction id, 2-byte protocol id (always
// zero), 2-byte big-endian length counting unit id + ADU, 1-byte unit id.
const (
	tcpHeaderSize = 7
	tcpMaxLength  = 256 // unit id + largest ADU
)

// TxnIDSize is the width of the Modbus TCP transaction id.
const TxnIDSize = 2

// NormalizeTxnID pads or truncates a caller-supplied transaction id to
// exactly two bytes. A nil or short id is zero-padded.
func NormalizeTxnID(txn []byte) []byte {
	out := make([]byte, TxnIDSize)
	copy(out, txn)
	return out
}

// EncodeTCP renders a unit-id-prefixed ADU as a Modbus TCP frame under the
// given transaction id.
func EncodeTCP(adu []byte, txn []byte) ([]byte, error) {
	if len(adu) < 2 {
		return nil, fmt.Errorf("%w: tcp frame needs at least unit id and function code", ErrBadForm)
	}
	if len(adu) > tcpMaxLength {
		return nil, fmt.Errorf("%w: tcp length field cannot express %d bytes", ErrBadForm, len(adu))
	}

	frame := make([]byte, 6+len(adu))
	copy(frame[0:2], NormalizeTxnID(txn))
	// frame[2:4] is the protocol id, fixed at zero.
	binary.BigEndian.PutUint16(frame[4:6], uint16(len(adu)))
	copy(frame[6:], adu)
	return frame, nil
}

// DecodeTCP validates a Modbus TCP frame and splits it into the transaction
// id and the unit-id-prefixed ADU.
func DecodeTCP(frame []byte) (txn []byte, adu []byte, err error) {
	if err := ValidateTCPHeader(frame, nil, -1); err != nil {
		return nil, nil, err
	}
	txn = make([]byte, TxnIDSize)
	copy(txn, frame[0:2])
	adu = make([]byte, len(frame)-6)
	copy(adu, frame[6:])
	return txn, adu, nil
}

// ValidateTCPHeader checks the MBAP header of a complete frame. A non-nil
// expectTxn pins the transaction id; a non-negative expectUnit pins the
// unit id. Every failure is ErrBadForm.
func ValidateTCPHeader(frame []byte, expectTxn []byte, expectUnit int) error {
	if len(frame) < tcpHeaderSize+1 {
		return fmt.Errorf("%w: tcp frame shorter than %d bytes", ErrBadForm, tcpHeaderSize+1)
	}
	if frame[2] != 0 || frame[3] != 0 {
		return fmt.Errorf("%w: nonzero mbap protocol id %02X%02X", ErrBadForm, frame[2], frame[3])
	}
	length := int(binary.BigEndian.Uint16(frame[4:6]))
	if length > tcpMaxLength {
		return fmt.Errorf("%w: mbap length %d exceeds %d", ErrBadForm, length, tcpMaxLength)
	}
	if length != len(frame)-6 {
		return fmt.Errorf("%w: mbap length %d but %d bytes follow", ErrBadForm, length, len(frame)-6)
	}
	if expectTxn != nil && !bytes.Equal(frame[0:2], NormalizeTxnID(expectTxn)) {
		return fmt.Errorf("%w: transaction id %02X%02X does not match request", ErrBadForm, frame[0], frame[1])
	}
	if expectUnit >= 0 && frame[6] != byte(expectUnit) {
		return fmt.Errorf("%w: unit id %d does not match request unit %d", ErrBadForm, frame[6], expectUnit)
	}
	return nil
}

// TCPParser frames Modbus TCP messages out of a byte stream using the MBAP
// length field. A header that cannot be trusted (nonzero protocol id, or a
// length too small to cover unit id + function code) makes the rest of the
// buffer unrecoverable: there is no resynchronization marker, so the whole
// buffer is discarded.
type TCPParser struct{}

// Parse implements parser.Parser.
func (p *TCPParser) Parse(buffer []byte) (frame []byte, remaining []byte, err error) {
	if len(buffer) < 6 {
		return nil, buffer, parser.ErrIncompletePacket
	}

	length := int(binary.BigEndian.Uint16(buffer[4:6]))
	if buffer[2] != 0 || buffer[3] != 0 || length < 2 {
		return nil, nil, parser.ErrInvalidPacket
	}

	total := 6 + length
	if len(buffer) < total {
		return nil, buffer, parser.ErrIncompletePacket
	}

	frame = make([]byte, total)
	copy(frame, buffer[:total])
	return frame, buffer[total:], nil
}

// Reset implements parser.Parser. The TCP framer is stateless.
func (p *TCPParser) Reset() {}

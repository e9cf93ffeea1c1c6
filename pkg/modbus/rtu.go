package modbus

import (
	"encoding/binary"
	"fmt"

	"github.com/commatea/modbridge/pkg/checksum"
	"github.com/commatea/modbridge/pkg/parser"
)

// rtuCRCSize is the little-endian CRC-16 trailer on every RTU frame.
const rtuCRCSize = 2

// EncodeRTU renders a unit-id-prefixed ADU as a Modbus RTU frame:
// the raw bytes followed by a little-endian CRC-16.
func EncodeRTU(adu []byte) ([]byte, error) {
	if len(adu) < 2 {
		return nil, fmt.Errorf("%w: rtu frame needs at least unit id and function code", ErrBadForm)
	}
	crc, err := checksum.CRC16(adu)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadForm, err)
	}

	frame := make([]byte, len(adu)+rtuCRCSize)
	copy(frame, adu)
	binary.LittleEndian.PutUint16(frame[len(adu):], crc)
	return frame, nil
}

// DecodeRTU validates and strips the CRC-16 of a Modbus RTU frame,
// returning the unit-id-prefixed ADU.
func DecodeRTU(frame []byte) ([]byte, error) {
	if len(frame) < 2+rtuCRCSize {
		return nil, fmt.Errorf("%w: rtu frame too short", ErrBadForm)
	}

	payload := frame[:len(frame)-rtuCRCSize]
	got := binary.LittleEndian.Uint16(frame[len(frame)-rtuCRCSize:])
	want, err := checksum.CRC16(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadForm, err)
	}
	if got != want {
		return nil, fmt.Errorf("%w: crc %04X, computed %04X", ErrBadChecksum, got, want)
	}
	return payload, nil
}

// rtuRequestLength estimates the pre-CRC length of the request frame at the
// front of buf from its function code. RTU has no delimiters or length
// field, so framing leans entirely on this per-code table. Returns
// parser.ErrIncompletePacket when buf does not yet hold enough bytes to
// decide; unknown codes claim the rest of the buffer as one best-effort
// frame.
func rtuRequestLength(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, parser.ErrIncompletePacket
	}
	switch buf[1] {
	case FuncReadCoils, FuncReadDiscreteInputs,
		FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncWriteSingleCoil, FuncWriteSingleRegister:
		// unit id + function + 2-byte address + 2-byte count/value
		return 6, nil
	case FuncReadExceptionStatus, FuncGetCommEventCounter,
		FuncGetCommEventLog, FuncReportServerID:
		// unit id + function only
		return 2, nil
	case FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		// byte-count field sits after unit id, function, address, quantity
		if len(buf) < 7 {
			return 0, parser.ErrIncompletePacket
		}
		return 7 + int(buf[6]), nil
	default:
		return len(buf) - rtuCRCSize, nil
	}
}

// rtuResponseLength is the response-side counterpart of rtuRequestLength.
// Exception responses (high bit set) are always 3 bytes before the CRC;
// read-style responses carry a byte count right after the function code.
func rtuResponseLength(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, parser.ErrIncompletePacket
	}
	fn := buf[1]
	if fn&ExceptionBit != 0 {
		return 3, nil
	}
	switch fn {
	case FuncReadCoils, FuncReadDiscreteInputs,
		FuncReadHoldingRegisters, FuncReadInputRegisters,
		FuncGetCommEventCounter:
		if len(buf) < 3 {
			return 0, parser.ErrIncompletePacket
		}
		return 3 + int(buf[2]), nil
	case FuncWriteSingleCoil, FuncWriteSingleRegister,
		FuncWriteMultipleCoils, FuncWriteMultipleRegisters:
		return 6, nil
	default:
		return len(buf) - rtuCRCSize, nil
	}
}

// RTUParser frames Modbus RTU messages out of a byte stream. Request and
// response traffic obey different length rules, so the direction is fixed
// at construction.
type RTUParser struct {
	// IsRequest selects the request-side length table; otherwise the
	// response-side table is used.
	IsRequest bool
}

// Parse implements parser.Parser.
func (p *RTUParser) Parse(buffer []byte) (frame []byte, remaining []byte, err error) {
	length := rtuResponseLength
	if p.IsRequest {
		length = rtuRequestLength
	}

	n, err := length(buffer)
	if err != nil {
		return nil, buffer, err
	}

	total := n + rtuCRCSize
	if len(buffer) < total {
		return nil, buffer, parser.ErrIncompletePacket
	}

	frame = make([]byte, total)
	copy(frame, buffer[:total])
	return frame, buffer[total:], nil
}

// Reset implements parser.Parser. The RTU framer is stateless.
func (p *RTUParser) Reset() {}

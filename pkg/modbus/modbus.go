// Package modbus implements codecs and stream framers for the three Modbus
// wire representations (ASCII, RTU, TCP) and a protocol-neutral Transaction
// that carries one request/response exchange between them.
//
// The protocol-neutral unit of data is the ADU: function code plus payload,
// without the unit id and without any checksum or framing. Each codec maps
// between a unit-id-prefixed ADU and the full wire frame for its protocol.
package modbus

import (
	"errors"
	"fmt"
)

// Error kinds shared by every codec.
var (
	// ErrBadForm marks a structurally malformed frame: wrong delimiter,
	// invalid hex, inconsistent length field, oversized ADU.
	ErrBadForm = errors.New("modbus: malformed frame")

	// ErrBadChecksum marks an LRC or CRC-16 mismatch.
	ErrBadChecksum = errors.New("modbus: checksum mismatch")

	// ErrBadProtocol marks a WireProtocol value outside the known set.
	ErrBadProtocol = errors.New("modbus: unknown wire protocol")

	// ErrBadState marks a Transaction operation invoked out of order.
	ErrBadState = errors.New("modbus: invalid transaction state")
)

// WireProtocol identifies one of the three Modbus wire representations.
type WireProtocol int

const (
	// ASCII is Modbus ASCII: ':' + upper-case hex + LRC + CRLF.
	ASCII WireProtocol = iota
	// RTU is Modbus RTU: raw binary + little-endian CRC-16.
	RTU
	// TCP is Modbus TCP: MBAP header + unit id + ADU, no checksum.
	TCP
)

func (p WireProtocol) String() string {
	switch p {
	case ASCII:
		return "ascii"
	case RTU:
		return "rtu"
	case TCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// ParseWireProtocol maps a config/CLI name to a WireProtocol.
func ParseWireProtocol(name string) (WireProtocol, error) {
	switch name {
	case "ascii":
		return ASCII, nil
	case "rtu":
		return RTU, nil
	case "tcp":
		return TCP, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrBadProtocol, name)
	}
}

// MaxADU returns the largest ADU the protocol can carry. The serial formats
// cap the PDU at 252 bytes; TCP allows up to 255 (the MBAP length field
// counts unit id + ADU and may not exceed 256).
func (p WireProtocol) MaxADU() (int, error) {
	switch p {
	case ASCII, RTU:
		return 252, nil
	case TCP:
		return 255, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrBadProtocol, int(p))
	}
}

// Function codes.
const (
	FuncReadCoils              = 0x01
	FuncReadDiscreteInputs     = 0x02
	FuncReadHoldingRegisters   = 0x03
	FuncReadInputRegisters     = 0x04
	FuncWriteSingleCoil        = 0x05
	FuncWriteSingleRegister    = 0x06
	FuncReadExceptionStatus    = 0x07
	FuncGetCommEventCounter    = 0x0B
	FuncGetCommEventLog        = 0x0C
	FuncWriteMultipleCoils     = 0x0F
	FuncWriteMultipleRegisters = 0x10
	FuncReportServerID         = 0x11
)

// ExceptionBit is set on the function code of an exception response.
const ExceptionBit = 0x80

// Exception codes.
const (
	ExceptionIllegalFunction     = 0x01
	ExceptionIllegalDataAddress  = 0x02
	ExceptionIllegalDataValue    = 0x03
	ExceptionSlaveDeviceFailure  = 0x04
	ExceptionGatewayPathFailure  = 0x0A
	ExceptionGatewayTargetFailed = 0x0B
)

// BroadcastUnitID addresses every unit on the bus; no response follows.
const BroadcastUnitID = 0

// DefaultUnitID is used when a transaction has no explicit unit id yet.
const DefaultUnitID = 1

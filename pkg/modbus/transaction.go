package modbus

import (
	"fmt"
)

// TxState tracks the lifecycle of a Transaction. Transitions only move
// forward: Empty -> RequestSet -> ResponseSet or TimedOut.
type TxState int

const (
	TxEmpty TxState = iota
	TxRequestSet
	TxResponseSet
	TxTimedOut
)

func (s TxState) String() string {
	switch s {
	case TxEmpty:
		return "empty"
	case TxRequestSet:
		return "request-set"
	case TxResponseSet:
		return "response-set"
	case TxTimedOut:
		return "timed-out"
	default:
		return "unknown"
	}
}

// txFrame is one side of an exchange: the wire bytes as received, the
// protocol they arrived on, and the protocol-neutral ADU extracted from
// them (function code + payload, no unit id).
type txFrame struct {
	raw   []byte
	proto WireProtocol
	adu   []byte
}

// Transaction carries one request/response exchange across wire protocols.
// A frame received on one protocol is decoded into the neutral ADU and can
// be re-rendered on any other protocol, preserving unit addressing and (for
// TCP) the transaction id. A Transaction serves exactly one exchange and is
// not safe for concurrent use.
type Transaction struct {
	state    TxState
	unitID   byte
	txnID    []byte
	request  txFrame
	response txFrame
}

// NewTransaction creates an empty transaction with the default unit id and
// an all-zero transaction id.
func NewTransaction() *Transaction {
	return &Transaction{
		unitID: DefaultUnitID,
		txnID:  NormalizeTxnID(nil),
	}
}

// State returns the transaction state.
func (t *Transaction) State() TxState { return t.state }

// UnitID returns the unit id captured from the request, or the default
// before any request is set.
func (t *Transaction) UnitID() byte { return t.unitID }

// TxnID returns the 2-byte Modbus TCP transaction id. All zeros unless the
// request arrived over TCP or SetTxnID was called.
func (t *Transaction) TxnID() []byte {
	out := make([]byte, TxnIDSize)
	copy(out, t.txnID)
	return out
}

// SetTxnID overrides the transaction id used when rendering TCP frames.
// The value is zero-padded or truncated to two bytes.
func (t *Transaction) SetTxnID(txn []byte) {
	t.txnID = NormalizeTxnID(txn)
}

// RequestADU returns a copy of the protocol-neutral request ADU.
func (t *Transaction) RequestADU() []byte {
	if t.request.adu == nil {
		return nil
	}
	out := make([]byte, len(t.request.adu))
	copy(out, t.request.adu)
	return out
}

// ResponseADU returns a copy of the protocol-neutral response ADU.
func (t *Transaction) ResponseADU() []byte {
	if t.response.adu == nil {
		return nil
	}
	out := make([]byte, len(t.response.adu))
	copy(out, t.response.adu)
	return out
}

// SetRequest decodes a complete wire frame as the transaction's request,
// capturing the unit id and, for TCP, the transaction id.
func (t *Transaction) SetRequest(raw []byte, proto WireProtocol) error {
	if t.state != TxEmpty {
		return fmt.Errorf("%w: request already set (%s)", ErrBadState, t.state)
	}

	var (
		unitADU []byte
		txn     []byte
		err     error
	)
	switch proto {
	case ASCII:
		unitADU, err = DecodeASCII(raw)
	case RTU:
		unitADU, err = DecodeRTU(raw)
	case TCP:
		txn, unitADU, err = DecodeTCP(raw)
	default:
		return fmt.Errorf("%w: %d", ErrBadProtocol, int(proto))
	}
	if err != nil {
		return err
	}

	adu := unitADU[1:]
	if err := checkADUSize(adu, proto); err != nil {
		return err
	}

	t.unitID = unitADU[0]
	if txn != nil {
		t.txnID = txn
	}
	t.request = txFrame{raw: cloneBytes(raw), proto: proto, adu: cloneBytes(adu)}
	t.state = TxRequestSet
	return nil
}

// GetRequest renders the stored request on the given wire protocol. TCP
// output reuses the stored transaction id.
func (t *Transaction) GetRequest(proto WireProtocol) ([]byte, error) {
	if t.state == TxEmpty {
		return nil, fmt.Errorf("%w: no request set", ErrBadState)
	}
	return t.encode(t.request.adu, proto)
}

// SetResponse decodes a complete wire frame as the transaction's response.
// The response must address the same unit as the request; a TCP response
// must additionally carry the request's transaction id.
func (t *Transaction) SetResponse(raw []byte, proto WireProtocol) error {
	if t.state != TxRequestSet {
		return fmt.Errorf("%w: cannot set response while %s", ErrBadState, t.state)
	}

	var (
		unitADU []byte
		err     error
	)
	switch proto {
	case ASCII:
		unitADU, err = DecodeASCII(raw)
	case RTU:
		unitADU, err = DecodeRTU(raw)
	case TCP:
		if err = ValidateTCPHeader(raw, t.txnID, int(t.unitID)); err != nil {
			return err
		}
		_, unitADU, err = DecodeTCP(raw)
	default:
		return fmt.Errorf("%w: %d", ErrBadProtocol, int(proto))
	}
	if err != nil {
		return err
	}

	if unitADU[0] != t.unitID {
		return fmt.Errorf("%w: response unit id %d does not match request unit %d",
			ErrBadForm, unitADU[0], t.unitID)
	}

	adu := unitADU[1:]
	if err := checkADUSize(adu, proto); err != nil {
		return err
	}

	t.response = txFrame{raw: cloneBytes(raw), proto: proto, adu: cloneBytes(adu)}
	t.state = TxResponseSet
	return nil
}

// GetResponse renders the stored response on the given wire protocol.
func (t *Transaction) GetResponse(proto WireProtocol) ([]byte, error) {
	if t.state != TxResponseSet {
		return nil, fmt.Errorf("%w: no response set (%s)", ErrBadState, t.state)
	}
	return t.encode(t.response.adu, proto)
}

// GetNoResponseError synthesizes the frame to send back when the far side
// never answered. The serial protocols have no representation for "no
// answer", so ASCII and RTU return a nil frame: send nothing and let the
// requester time out on its own. TCP returns a gateway-target-failed
// exception response (request function code with the high bit set, payload
// 0x0B) under the original transaction id.
func (t *Transaction) GetNoResponseError(proto WireProtocol) ([]byte, error) {
	if t.state != TxRequestSet {
		return nil, fmt.Errorf("%w: no pending request (%s)", ErrBadState, t.state)
	}

	switch proto {
	case ASCII, RTU:
		t.state = TxTimedOut
		return nil, nil
	case TCP:
		adu := []byte{
			t.unitID,
			t.request.adu[0] | ExceptionBit,
			ExceptionGatewayTargetFailed,
		}
		frame, err := EncodeTCP(adu, t.txnID)
		if err != nil {
			return nil, err
		}
		t.state = TxTimedOut
		return frame, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadProtocol, int(proto))
	}
}

// encode renders unit id + adu on the requested protocol.
func (t *Transaction) encode(adu []byte, proto WireProtocol) ([]byte, error) {
	unitADU := make([]byte, 0, 1+len(adu))
	unitADU = append(unitADU, t.unitID)
	unitADU = append(unitADU, adu...)

	switch proto {
	case ASCII:
		return EncodeASCII(unitADU)
	case RTU:
		return EncodeRTU(unitADU)
	case TCP:
		return EncodeTCP(unitADU, t.txnID)
	default:
		return nil, fmt.Errorf("%w: %d", ErrBadProtocol, int(proto))
	}
}

func checkADUSize(adu []byte, proto WireProtocol) error {
	max, err := proto.MaxADU()
	if err != nil {
		return err
	}
	if len(adu) > max {
		return fmt.Errorf("%w: adu of %d bytes exceeds %s maximum %d",
			ErrBadForm, len(adu), proto, max)
	}
	return nil
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

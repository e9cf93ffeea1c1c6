// Package bridge runs the exchange loop between two Modbus endpoints: it
// frames requests arriving on the near side, carries each one across as a
// Transaction re-rendered for the far side's wire protocol, and routes the
// response (or a synthesized timeout exception) back.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/commatea/modbridge/pkg/logger"
	"github.com/commatea/modbridge/pkg/metrics"
	"github.com/commatea/modbridge/pkg/modbus"
	"github.com/commatea/modbridge/pkg/parser"
	"github.com/commatea/modbridge/pkg/transport"
	"github.com/google/uuid"
)

// Common errors.
var (
	ErrNotRunning = errors.New("bridge not running")
	ErrNoEndpoint = errors.New("bridge endpoint not configured")
)

// DefaultResponseTimeout bounds how long the far side may take to answer
// before a gateway timeout is synthesized.
const DefaultResponseTimeout = 1 * time.Second

const parseBufferSize = 4096

// State represents the bridge lifecycle state.
type State int

const (
	StateStopped State = iota
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Endpoint pairs a byte transport with the wire protocol spoken on it.
type Endpoint struct {
	Transport transport.Transport
	Protocol  modbus.WireProtocol
}

// Bridge carries transactions between a near endpoint, where requests
// arrive, and a far endpoint, where the addressed device answers. Modbus is
// half-duplex per link, so the bridge keeps exactly one transaction in
// flight; each exchange gets its own Transaction and is discarded when
// served.
type Bridge struct {
	mu sync.RWMutex

	name    string
	near    Endpoint
	far     Endpoint
	timeout time.Duration
	log     *logger.Logger

	nearBuf *parser.Buffer
	farBuf  *parser.Buffer

	// txnSeq feeds fresh TCP transaction ids when serial requests are
	// forwarded toward a TCP device; serial frames carry none of their
	// own, and overlapping ids on the far link would be ambiguous.
	txnSeq uint16

	state  State
	ctx    context.Context
	cancel context.CancelFunc
}

// Config holds bridge construction parameters.
type Config struct {
	// Name identifies the bridge in logs and metrics.
	Name string

	// Near is the endpoint requests arrive on.
	Near Endpoint

	// Far is the endpoint the device sits behind.
	Far Endpoint

	// ResponseTimeout bounds the wait for the far side's answer.
	ResponseTimeout time.Duration
}

// New creates a bridge from config.
func New(config Config, log *logger.Logger) (*Bridge, error) {
	if config.Near.Transport == nil || config.Far.Transport == nil {
		return nil, ErrNoEndpoint
	}
	if config.ResponseTimeout <= 0 {
		config.ResponseTimeout = DefaultResponseTimeout
	}
	if log == nil {
		log = logger.Global()
	}

	nearParser, err := frameParser(config.Near.Protocol, true)
	if err != nil {
		return nil, err
	}
	farParser, err := frameParser(config.Far.Protocol, false)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		name:    config.Name,
		near:    config.Near,
		far:     config.Far,
		timeout: config.ResponseTimeout,
		log:     log,
		nearBuf: parser.NewBuffer(parseBufferSize, nearParser),
		farBuf:  parser.NewBuffer(parseBufferSize, farParser),
	}, nil
}

// Name returns the bridge name.
func (b *Bridge) Name() string { return b.name }

// State returns the bridge state.
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Run connects both endpoints and serves exchanges until the context is
// cancelled or a transport fails fatally.
func (b *Bridge) Run(ctx context.Context) error {
	b.mu.Lock()
	if b.state == StateRunning {
		b.mu.Unlock()
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.state = StateRunning
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.state = StateStopped
		b.mu.Unlock()
	}()

	if err := b.near.Transport.Connect(b.ctx); err != nil {
		return err
	}
	defer b.near.Transport.Close()

	if err := b.far.Transport.Connect(b.ctx); err != nil {
		return err
	}
	defer b.far.Transport.Close()

	metrics.ActiveBridges.Inc()
	defer metrics.ActiveBridges.Dec()

	b.log.Info("bridge running",
		"bridge", b.name,
		"near", b.near.Protocol.String(),
		"far", b.far.Protocol.String())

	return b.serveLoop()
}

// Stop cancels a running bridge.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *Bridge) serveLoop() error {
	for {
		select {
		case <-b.ctx.Done():
			return nil
		default:
		}

		data, err := b.near.Transport.Receive(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return nil
			}
			return err
		}
		if len(data) == 0 {
			continue
		}

		if err := b.nearBuf.Write(data); err != nil {
			b.log.Warn("near buffer overflow, resetting", "bridge", b.name)
			b.nearBuf.Reset()
			continue
		}

		frames, err := b.nearBuf.ParseAll()
		if err != nil {
			// Unrecoverable framing; the buffer already discarded it.
			b.log.Warn("discarded unframeable bytes", "bridge", b.name, "error", err)
			metrics.IncFrame(b.name, metrics.SideNear, b.near.Protocol.String(), metrics.StatusDropped)
		}

		for _, frame := range frames {
			b.serveExchange(frame)
		}
	}
}

// serveExchange carries one request across the bridge and routes the
// answer back. Strictly one exchange runs at a time.
func (b *Bridge) serveExchange(frame []byte) {
	exchange := uuid.New().String()[:8]

	tx := modbus.NewTransaction()
	if err := tx.SetRequest(frame, b.near.Protocol); err != nil {
		if errors.Is(err, modbus.ErrBadChecksum) {
			metrics.IncChecksumError(b.name, metrics.SideNear)
		}
		metrics.IncFrame(b.name, metrics.SideNear, b.near.Protocol.String(), metrics.StatusDropped)
		b.log.Warn("dropped request frame", "bridge", b.name, "exchange", exchange, "error", err)
		return
	}
	metrics.IncFrame(b.name, metrics.SideNear, b.near.Protocol.String(), metrics.StatusOK)

	// Serial requests carry no transaction id; mint one for the TCP far
	// link so in-flight exchanges can never collide there.
	if b.far.Protocol == modbus.TCP && b.near.Protocol != modbus.TCP {
		b.txnSeq++
		tx.SetTxnID([]byte{byte(b.txnSeq >> 8), byte(b.txnSeq)})
	}

	out, err := tx.GetRequest(b.far.Protocol)
	if err != nil {
		metrics.IncTransaction(b.name, metrics.OutcomeFailed)
		b.log.Error("cannot render request", "bridge", b.name, "exchange", exchange, "error", err)
		return
	}
	if _, err := b.far.Transport.Send(b.ctx, out); err != nil {
		metrics.IncTransaction(b.name, metrics.OutcomeFailed)
		b.log.Error("far send failed", "bridge", b.name, "exchange", exchange, "error", err)
		return
	}

	b.log.Debug("request forwarded",
		"bridge", b.name, "exchange", exchange,
		"unit", tx.UnitID(), "bytes", len(out))

	// Broadcasts are answered by nobody.
	if tx.UnitID() == modbus.BroadcastUnitID {
		metrics.IncTransaction(b.name, metrics.OutcomeAnswered)
		return
	}

	if b.awaitResponse(tx, exchange) {
		reply, err := tx.GetResponse(b.near.Protocol)
		if err != nil {
			metrics.IncTransaction(b.name, metrics.OutcomeFailed)
			b.log.Error("cannot render response", "bridge", b.name, "exchange", exchange, "error", err)
			return
		}
		if _, err := b.near.Transport.Send(b.ctx, reply); err != nil {
			metrics.IncTransaction(b.name, metrics.OutcomeFailed)
			b.log.Error("near send failed", "bridge", b.name, "exchange", exchange, "error", err)
			return
		}
		metrics.IncTransaction(b.name, metrics.OutcomeAnswered)
		return
	}

	// The device never answered. TCP requesters get the standard gateway
	// exception; serial requesters get silence and time out themselves.
	metrics.IncTimeout(b.name)
	metrics.IncTransaction(b.name, metrics.OutcomeTimedOut)
	errFrame, err := tx.GetNoResponseError(b.near.Protocol)
	if err != nil {
		b.log.Error("cannot synthesize timeout", "bridge", b.name, "exchange", exchange, "error", err)
		return
	}
	if errFrame != nil {
		if _, err := b.near.Transport.Send(b.ctx, errFrame); err != nil {
			b.log.Error("near send failed", "bridge", b.name, "exchange", exchange, "error", err)
		}
	}
	b.log.Warn("device timeout", "bridge", b.name, "exchange", exchange, "unit", tx.UnitID())
}

// awaitResponse reads the far link until a frame completes the transaction
// or the response timeout passes. Frames that fail validation are dropped
// and the wait continues; a mismatched or corrupt frame must not end the
// exchange early.
func (b *Bridge) awaitResponse(tx *modbus.Transaction, exchange string) bool {
	b.farBuf.Reset()
	deadline := time.Now().Add(b.timeout)

	for time.Now().Before(deadline) {
		if b.ctx.Err() != nil {
			return false
		}

		data, err := b.far.Transport.Receive(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return false
			}
			b.log.Warn("far receive failed", "bridge", b.name, "exchange", exchange, "error", err)
			return false
		}
		if len(data) == 0 {
			continue
		}
		if err := b.farBuf.Write(data); err != nil {
			b.farBuf.Reset()
			continue
		}

		frames, err := b.farBuf.ParseAll()
		if err != nil {
			metrics.IncFrame(b.name, metrics.SideFar, b.far.Protocol.String(), metrics.StatusDropped)
		}

		for _, frame := range frames {
			if err := tx.SetResponse(frame, b.far.Protocol); err != nil {
				if errors.Is(err, modbus.ErrBadChecksum) {
					metrics.IncChecksumError(b.name, metrics.SideFar)
				}
				metrics.IncFrame(b.name, metrics.SideFar, b.far.Protocol.String(), metrics.StatusDropped)
				b.log.Warn("dropped response frame", "bridge", b.name, "exchange", exchange, "error", err)
				continue
			}
			metrics.IncFrame(b.name, metrics.SideFar, b.far.Protocol.String(), metrics.StatusOK)
			return true
		}
	}
	return false
}

// frameParser returns the stream framer for one side of the bridge.
// Requests arrive on the near side, responses on the far side.
func frameParser(proto modbus.WireProtocol, isRequest bool) (parser.Parser, error) {
	switch proto {
	case modbus.ASCII:
		return &modbus.ASCIIParser{}, nil
	case modbus.RTU:
		return &modbus.RTUParser{IsRequest: isRequest}, nil
	case modbus.TCP:
		return &modbus.TCPParser{}, nil
	default:
		return nil, modbus.ErrBadProtocol
	}
}

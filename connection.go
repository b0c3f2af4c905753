// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bassosimone/runtimex"
)

// ErrNotOpen is returned by [*Connection.Open] or [*Connection.Check] when
// called from a state that forbids the operation (§3 policy errors).
var ErrNotOpen = errors.New("netmux: connection not in a state that allows this operation")

// Transport is the per-connection binding to one of the three
// realizations of §4.B: internal peer, stream socket, or datagram
// endpoint. A [*Connection] owns exactly one Transport for its lifetime.
type Transport interface {
	// Kind reports which realization this is, for logging.
	Kind() TransportKind

	// Open performs the transport-specific connect/handshake-initiation
	// step. It must not block past what is needed to kick off the
	// handshake; completion is signalled asynchronously by a CONNECTED
	// record or, for the internal transport, synchronously within Open
	// itself (§4.B "Ack policy per transport").
	Open(ctx context.Context, conn *Connection) error

	// SendRecord transmits rec, whose PacketBody (if any) is always the raw,
	// not-yet-wire-encoded packet payload — the same shape [*ByteAccumulator]
	// produces on receive. Stream and datagram transports call [EncodeRecord]
	// themselves before writing; the internal transport hands rec's
	// DecodedPacket directly to the paired connection, with no I/O and no
	// encoding at all.
	SendRecord(rec Record) error

	// Close releases the transport's underlying resource (socket, peer
	// pairing). It is idempotent.
	Close() error
}

// connectionManager is the subset of [*Manager] a [*Connection] depends
// on. Declaring it as an interface keeps the dependency a non-owning,
// one-directional reference (§9 "Back-reference from connection to
// manager"), and lets tests substitute a stub.
type connectionManager interface {
	dispatcher() *Dispatcher
	mappingProvider() PacketIdMappingProvider
	removeConnectionSilently(id NetworkId)
	postConnectionClosed(ConnectionClosedEvent)
	postPacketSendingFailed(PacketSendingFailedEvent)
	config() *Config
	encoderPool() *CoderPool
	decoderPool() *CoderPool
}

// Connection is the per-peer state machine of §3/§4.B, bound to exactly
// one [Transport]. Its state is guarded by a single mutex (the "state
// lock"), never held across blocking transport I/O except the final write
// that commits encoded record bytes to the wire. The [*PingTracker] is
// called without the state lock held; it synchronizes itself.
type Connection struct {
	stateMu sync.Mutex
	state   ConnectionState

	remoteID  NetworkId
	manager   connectionManager
	ping      *PingTracker
	accum     *ByteAccumulator
	transport Transport

	logger        SLogger
	spanID        string
	errClassifier ErrClassifier
	timeNow       func() time.Time
	checkTimeout  time.Duration

	customObject any

	closeOnce sync.Once
}

// NewConnection constructs an initialized [*Connection] bound to
// transport, addressed by remoteID. It starts in [StateInitialized]; call
// [*Connection.Open] to begin the handshake.
func NewConnection(remoteID NetworkId, manager connectionManager, transport Transport) *Connection {
	runtimex.Assert(manager != nil)
	runtimex.Assert(transport != nil)

	cfg := manager.config()
	spanID := NewSpanID()
	logger := cfg.Logger

	c := &Connection{
		state:         StateInitialized,
		remoteID:      remoteID,
		manager:       manager,
		transport:     transport,
		logger:        logger,
		spanID:        spanID,
		errClassifier: cfg.ErrClassifier,
		timeNow:       cfg.TimeNow,
		checkTimeout:  cfg.ConnectionCheckTimeout,
	}
	c.ping = NewPingTracker(cfg.ConnectionCheckTimeout, cfg.TimeNow, logger, spanID)
	c.accum = NewByteAccumulator(manager.mappingProvider(), logger, spanID)
	c.accum.SetCoderPool(manager.decoderPool())
	return c
}

// RemoteID returns the [NetworkId] this connection is bound to.
func (c *Connection) RemoteID() NetworkId {
	return c.remoteID
}

// State returns the current [ConnectionState].
func (c *Connection) State() ConnectionState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// SpanID returns the UUIDv7 correlating every log line for this
// connection's lifetime (§1 Observability).
func (c *Connection) SpanID() string {
	return c.spanID
}

// SetCustomObject attaches an application-defined value to the
// connection, ordinarily from a [ConfigureConnectionEvent] handler.
func (c *Connection) SetCustomObject(v any) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.customObject = v
}

// CustomObject returns the value set by [*Connection.SetCustomObject].
func (c *Connection) CustomObject() any {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.customObject
}

// Open transitions Initialized → Opening and initiates the transport's
// connect/handshake. It fails (returns [ErrNotOpen]) unless called from
// [StateInitialized].
func (c *Connection) Open(ctx context.Context) error {
	c.stateMu.Lock()
	if c.state != StateInitialized {
		c.stateMu.Unlock()
		return ErrNotOpen
	}
	c.state = StateOpening
	c.stateMu.Unlock()

	c.logger.Info("connectionOpenStart",
		slog.String("spanID", c.spanID),
		slog.String("remoteId", c.remoteID.Description()),
		slog.String("protocol", c.transport.Kind().String()),
	)

	if err := c.transport.Open(ctx, c); err != nil {
		c.logger.Info("connectionOpenDone",
			slog.String("spanID", c.spanID),
			slog.Any("err", err),
			slog.String("errClass", c.errClassifier.Classify(err)),
		)
		c.Close(CloseIOException, err)
		return err
	}
	return nil
}

// completeOpen transitions Opening → Open. Called by a [Transport] once
// its handshake completes (synchronously for the internal transport, or
// on receipt of a CONNECTED record for stream/datagram transports).
func (c *Connection) completeOpen() {
	c.stateMu.Lock()
	if c.state != StateOpening {
		c.stateMu.Unlock()
		return
	}
	c.state = StateOpen
	c.stateMu.Unlock()

	c.logger.Info("connectionOpenDone",
		slog.String("spanID", c.spanID),
		slog.String("remoteId", c.remoteID.Description()),
	)
}

// markOpen transitions directly from [StateInitialized] to [StateOpen],
// skipping Opening. Server-side connections materialized by the acceptor or
// the internal peer registry (§4.E, §4.F) have no Opening phase of their
// own: the initiator already completed its half of the handshake by the
// time these connections are constructed.
func (c *Connection) markOpen() {
	c.stateMu.Lock()
	if c.state != StateInitialized {
		c.stateMu.Unlock()
		return
	}
	c.state = StateOpen
	c.stateMu.Unlock()

	c.logger.Info("connectionOpenDone",
		slog.String("spanID", c.spanID),
		slog.String("remoteId", c.remoteID.Description()),
	)
}

// Check initiates a liveness ping. It fails (returns [ErrNotOpen]) unless
// called from [StateOpen].
func (c *Connection) Check() error {
	c.stateMu.Lock()
	if c.state != StateOpen {
		c.stateMu.Unlock()
		return ErrNotOpen
	}
	c.state = StateChecking
	c.stateMu.Unlock()

	id := c.ping.InitiatePing()
	c.logger.Info("pingStart", slog.String("spanID", c.spanID), slog.Int64("pingID", id))

	if err := c.transport.SendRecord(Record{Kind: RecordCheck, UUID: int32(id)}); err != nil {
		c.Close(CloseIOException, err)
		return err
	}
	return nil
}

// SendPacket encodes p's body and transmits it. It succeeds only from
// [StateOpen] or [StateChecking] (§4.B). The transport write itself briefly
// re-checks liveness under the state lock to prevent racing with a
// concurrent [*Connection.Close]. Wire framing (the PACKET magic, packet_id,
// and length prefix) is applied by the transport, not here — see [Transport.SendRecord].
func (c *Connection) SendPacket(p Packet) bool {
	cfg := c.manager.config()
	packetType := fmt.Sprintf("%T", p)

	id, ok := c.manager.mappingProvider().IDFor(packetType)
	if !ok {
		c.manager.postPacketSendingFailed(PacketSendingFailedEvent{
			Connection: c, PacketType: packetType, Cause: fmt.Errorf("netmux: no packet id registered for %s", packetType),
		})
		return false
	}

	buf := bytes.NewBuffer(make([]byte, 0, packetBufferSize(p, cfg.EncodeBufferInitialSize)))
	ctx := context.Background()
	pool := c.manager.encoderPool()
	var encodeErr error
	if pool.IsValidCoderThread(ctx) {
		// Either the pool is disabled, or this call is itself already
		// running on one of the pool's own workers (a Packet.WriteData
		// implementation that recursively encodes a nested packet):
		// resubmitting here would queue behind work that is waiting on
		// us, so run inline instead (§4.D usage rule).
		encodeErr = p.WriteData(buf)
	} else {
		done := make(chan struct{})
		submitErr := pool.Submit(ctx, func(context.Context) {
			encodeErr = p.WriteData(buf)
			close(done)
		})
		if submitErr != nil {
			c.manager.postPacketSendingFailed(PacketSendingFailedEvent{Connection: c, PacketType: packetType, Cause: submitErr})
			return false
		}
		<-done
	}
	if encodeErr != nil {
		c.manager.postPacketSendingFailed(PacketSendingFailedEvent{Connection: c, PacketType: packetType, Cause: encodeErr})
		return false
	}

	c.stateMu.Lock()
	if !c.state.CanSend() {
		c.stateMu.Unlock()
		return false
	}
	err := c.transport.SendRecord(Record{Kind: RecordPacket, PacketID: id, PacketBody: buf.Bytes(), DecodedPacket: p})
	c.stateMu.Unlock()

	if err != nil {
		c.manager.postPacketSendingFailed(PacketSendingFailedEvent{Connection: c, PacketType: packetType, Cause: err})
		c.Close(CloseIOException, err)
		return false
	}
	return true
}

func packetBufferSize(p Packet, initial int) int {
	if size := p.ByteSize(); size >= 0 {
		return size
	}
	return initial
}

// ReceivePacket enqueues p for delivery through the manager's dispatch
// path (§4.C). It is exported to allow synthetic injection by tests, per
// §4.B.
func (c *Connection) ReceivePacket(ctx context.Context, p Packet) {
	c.manager.dispatcher().Deliver(PacketDelivery{Context: ctx, Connection: c, Packet: p}, c.remoteID, fmt.Sprintf("%T", p))
}

// feedBytes runs data through the connection's own [*ByteAccumulator]. Used
// by stream/datagram transports' reader goroutines; the internal transport
// never calls this since it hands decoded records directly.
func (c *Connection) feedBytes(data []byte) ([]Record, error) {
	return c.accum.Feed(data)
}

// receiveRecord routes one record produced by the transport's read path
// (either the [*ByteAccumulator] for stream/datagram, or a direct
// in-process hand-off for the internal transport).
func (c *Connection) receiveRecord(rec Record) {
	switch rec.Kind {
	case RecordPacket:
		if rec.DecodedPacket != nil {
			c.ReceivePacket(context.Background(), rec.DecodedPacket)
		}

	case RecordCheck:
		_ = c.transport.SendRecord(Record{Kind: RecordCheckReply, UUID: rec.UUID})

	case RecordCheckReply:
		if c.ping.Confirm(int64(rec.UUID)) {
			c.stateMu.Lock()
			if c.state == StateChecking {
				c.state = StateOpen
			}
			c.stateMu.Unlock()
		}

	case RecordConnected:
		c.completeOpen()

	case RecordLogout:
		c.Close(CloseRemote, nil)

	case RecordLogin:
		// Observed only by server-side acceptors before a Connection
		// exists; nothing to do here.
	}
}

// updateStatus is called by the global timer or the owning manager; if
// Checking has exceeded its ping timeout it closes the connection with
// reason [CloseTimeout] (§4.B "update_status").
func (c *Connection) updateStatus() {
	c.stateMu.Lock()
	checking := c.state == StateChecking
	c.stateMu.Unlock()

	if checking && c.ping.TimedOut() {
		c.Close(CloseTimeout, nil)
	}
}

// Close transitions the connection to Closing then Closed, performs
// transport shutdown, removes the connection from the manager's registry,
// and posts exactly one [ConnectionClosedEvent] (§3, §8 "At-most-once
// close"). It succeeds from any non-terminal state and is a no-op if the
// connection is already Closing or Closed.
func (c *Connection) Close(reason CloseReason, cause error) error {
	c.stateMu.Lock()
	if c.state == StateClosing || c.state == StateClosed {
		c.stateMu.Unlock()
		return nil
	}
	c.state = StateClosing
	c.stateMu.Unlock()

	c.closeOnce.Do(func() {
		c.logger.Info("connectionCloseStart",
			slog.String("spanID", c.spanID),
			slog.String("reason", reason.String()),
		)

		// Datagram transports have no FIN equivalent, so an orderly
		// close is signalled at the record level (§6 "Datagram close:
		// either side sends LOGOUT").
		if reason == CloseExpected && c.transport.Kind() == TransportDatagram {
			_ = c.transport.SendRecord(Record{Kind: RecordLogout})
		}

		err := c.transport.Close()

		c.manager.removeConnectionSilently(c.remoteID)

		c.stateMu.Lock()
		c.state = StateClosed
		c.stateMu.Unlock()

		c.logger.Info("connectionCloseDone",
			slog.String("spanID", c.spanID),
			slog.String("reason", reason.String()),
			slog.Any("err", err),
			slog.String("errClass", c.errClassifier.Classify(err)),
		)

		c.manager.postConnectionClosed(ConnectionClosedEvent{Connection: c, Reason: reason, Cause: cause})
	})
	return nil
}

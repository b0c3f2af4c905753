// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTransport is a [Transport] test double letting tests script Open
// outcomes and inspect sent records without any real I/O.
type fakeTransport struct {
	kind TransportKind

	mu   sync.Mutex
	sent []Record

	openErr        error
	completeOnOpen bool
}

func (t *fakeTransport) Kind() TransportKind { return t.kind }

func (t *fakeTransport) Open(ctx context.Context, conn *Connection) error {
	if t.openErr != nil {
		return t.openErr
	}
	if t.completeOnOpen {
		conn.completeOpen()
	}
	return nil
}

func (t *fakeTransport) SendRecord(rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, rec)
	return nil
}

func (t *fakeTransport) Close() error { return nil }

func (t *fakeTransport) sentRecords() []Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Record, len(t.sent))
	copy(out, t.sent)
	return out
}

// fakeManager is a minimal [connectionManager] test double.
type fakeManager struct {
	cfg      *Config
	mapping  *PacketMappingContainer
	disp     *Dispatcher
	encoders *CoderPool
	decoders *CoderPool

	mu      sync.Mutex
	removed []NetworkId
	closed  []ConnectionClosedEvent
	failed  []PacketSendingFailedEvent
}

func newFakeManager() *fakeManager {
	cfg := NewConfig()
	cfg.Logger = DefaultSLogger()
	return &fakeManager{
		cfg:      cfg,
		mapping:  NewPacketMappingContainer(),
		disp:     NewDispatcher(false, 0, nil, nil),
		encoders: NewCoderPool(0, 0),
		decoders: NewCoderPool(0, 0),
	}
}

func (m *fakeManager) dispatcher() *Dispatcher                  { return m.disp }
func (m *fakeManager) mappingProvider() PacketIdMappingProvider { return m.mapping }
func (m *fakeManager) config() *Config                          { return m.cfg }
func (m *fakeManager) encoderPool() *CoderPool                  { return m.encoders }
func (m *fakeManager) decoderPool() *CoderPool                  { return m.decoders }

func (m *fakeManager) removeConnectionSilently(id NetworkId) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
}

func (m *fakeManager) postConnectionClosed(e ConnectionClosedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, e)
}

func (m *fakeManager) postPacketSendingFailed(e PacketSendingFailedEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed = append(m.failed, e)
}

var _ connectionManager = &fakeManager{}

func TestConnectionOpenInternalSynchronous(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{kind: TransportInternal, completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)

	require.Equal(t, StateInitialized, conn.State())
	require.NoError(t, conn.Open(context.Background()))
	assert.Equal(t, StateOpen, conn.State())
}

func TestConnectionOpenFromNonInitializedFails(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)

	require.NoError(t, conn.Open(context.Background()))
	assert.ErrorIs(t, conn.Open(context.Background()), ErrNotOpen)
}

func TestConnectionOpenFailureClosesWithIOException(t *testing.T) {
	mgr := newFakeManager()
	wantErr := errors.New("dial refused")
	transport := &fakeTransport{openErr: wantErr}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)

	err := conn.Open(context.Background())
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, StateClosed, conn.State())

	require.Len(t, mgr.closed, 1)
	assert.Equal(t, CloseIOException, mgr.closed[0].Reason)
}

func TestConnectionSendPacketRequiresOpenState(t *testing.T) {
	mgr := newFakeManager()
	require.NoError(t, mgr.mapping.Register(PacketMapping{ID: 1, Class: "*netmux.stubPacket", Factory: func() Packet { return &stubPacket{} }}))

	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)

	assert.False(t, conn.SendPacket(&stubPacket{body: []byte("hi")}), "must fail before Open")

	require.NoError(t, conn.Open(context.Background()))
	assert.True(t, conn.SendPacket(&stubPacket{body: []byte("hi")}))

	sent := transport.sentRecords()
	require.Len(t, sent, 1)
	assert.Equal(t, RecordPacket, sent[0].Kind)
}

func TestConnectionSendPacketWithoutMappingFails(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)
	require.NoError(t, conn.Open(context.Background()))

	assert.False(t, conn.SendPacket(&stubPacket{}))
	require.Len(t, mgr.failed, 1)
}

func TestConnectionCheckRoundTrip(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)
	require.NoError(t, conn.Open(context.Background()))

	require.NoError(t, conn.Check())
	assert.Equal(t, StateChecking, conn.State())

	sent := transport.sentRecords()
	require.Len(t, sent, 1)
	require.Equal(t, RecordCheck, sent[0].Kind)

	conn.receiveRecord(Record{Kind: RecordCheckReply, UUID: sent[0].UUID})
	assert.Equal(t, StateOpen, conn.State())
}

func TestConnectionCheckFromNonOpenFails(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)

	assert.ErrorIs(t, conn.Check(), ErrNotOpen)
}

func TestConnectionUpdateStatusClosesOnPingTimeout(t *testing.T) {
	mgr := newFakeManager()
	mgr.cfg.ConnectionCheckTimeout = 10 * time.Millisecond
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)
	require.NoError(t, conn.Open(context.Background()))
	require.NoError(t, conn.Check())

	time.Sleep(20 * time.Millisecond)
	conn.updateStatus()

	assert.Equal(t, StateClosed, conn.State())
	require.Len(t, mgr.closed, 1)
	assert.Equal(t, CloseTimeout, mgr.closed[0].Reason)
}

func TestConnectionCloseIsIdempotentAndFiresOnce(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)
	require.NoError(t, conn.Open(context.Background()))

	require.NoError(t, conn.Close(CloseExpected, nil))
	require.NoError(t, conn.Close(CloseExpected, nil))

	assert.Equal(t, StateClosed, conn.State())
	require.Len(t, mgr.closed, 1, "ConnectionClosed must fire at most once")
	require.Len(t, mgr.removed, 1)
}

func TestConnectionReceivePacketDispatches(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)

	received := make(chan Packet, 1)
	mgr.disp.AddHandler(0, func(delivery PacketDelivery) { received <- delivery.Packet })

	pkt := &stubPacket{body: []byte("synthetic")}
	conn.ReceivePacket(context.Background(), pkt)

	select {
	case got := <-received:
		assert.Same(t, pkt, got)
	default:
		t.Fatal("packet was not delivered")
	}
}

func TestConnectionReceiveRecordPacketDispatchesDecoded(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)

	received := make(chan Packet, 1)
	mgr.disp.AddHandler(0, func(delivery PacketDelivery) { received <- delivery.Packet })

	pkt := &stubPacket{body: []byte("hi")}
	conn.receiveRecord(Record{Kind: RecordPacket, DecodedPacket: pkt})

	select {
	case got := <-received:
		assert.Same(t, pkt, got)
	default:
		t.Fatal("decoded packet was not dispatched")
	}
}

func TestConnectionReceiveRecordLogoutClosesWithRemote(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)
	require.NoError(t, conn.Open(context.Background()))

	conn.receiveRecord(Record{Kind: RecordLogout})

	assert.Equal(t, StateClosed, conn.State())
	require.Len(t, mgr.closed, 1)
	assert.Equal(t, CloseRemote, mgr.closed[0].Reason)
}

func TestConnectionCheckReplyRespondsAutomatically(t *testing.T) {
	mgr := newFakeManager()
	transport := &fakeTransport{completeOnOpen: true}
	conn := NewConnection(NewInternalId("peer"), mgr, transport)
	require.NoError(t, conn.Open(context.Background()))

	conn.receiveRecord(Record{Kind: RecordCheck, UUID: 55})

	sent := transport.sentRecords()
	require.Len(t, sent, 1)
	assert.Equal(t, RecordCheckReply, sent[0].Kind)
	assert.Equal(t, int32(55), sent[0].UUID)
}

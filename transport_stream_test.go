// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketTransportKind(t *testing.T) {
	assert.Equal(t, TransportStream, (&socketTransport{network: "tcp"}).Kind())
	assert.Equal(t, TransportDatagram, (&socketTransport{network: "udp"}).Kind())
}

// Open dials out, sends LOGIN over the wire, and starts the reader so a
// subsequent CONNECTED reaches the connection (§6 "Stream connect").
func TestSocketTransportOpenSendsLoginAndCompletesOnConnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		raw, err := ln.Accept()
		if err == nil {
			accepted <- raw
		}
	}()

	cfg := NewConfig()
	transport := newClientSocketTransport(cfg, DefaultSLogger(), "tcp", ln.Addr().String())
	mgr := newFakeManager()
	conn := NewConnection(NewConnectId(ln.Addr().String()), mgr, transport)

	require.NoError(t, conn.Open(context.Background()))
	assert.Equal(t, StateOpening, conn.State())

	var raw net.Conn
	select {
	case raw = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted the dial")
	}
	defer raw.Close()

	var magic [4]byte
	_, err = readFull(raw, magic[:])
	require.NoError(t, err)
	assert.Equal(t, int32(RecordLogin), int32(binary.BigEndian.Uint32(magic[:])))

	_, err = raw.Write(EncodeRecord(RecordConnected, 0, nil, 0, 0))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return conn.State() == StateOpen }, time.Second, time.Millisecond)
}

// SendRecord writes the wire-encoded record to the peer.
func TestSocketTransportSendRecordWritesWireBytes(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		raw, err := ln.Accept()
		if err == nil {
			accepted <- raw
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	var raw net.Conn
	select {
	case raw = <-accepted:
	case <-time.After(time.Second):
		t.Fatal("server never accepted the dial")
	}
	defer raw.Close()

	transport := newServerSocketTransport(NewConfig(), DefaultSLogger(), "tcp", raw)
	mgr := newFakeManager()
	conn := NewConnection(NewConnectId("server-side"), mgr, transport)
	transport.startReader(conn)

	require.NoError(t, transport.SendRecord(Record{Kind: RecordCheck, UUID: 42}))

	buf := make([]byte, 8)
	client.SetReadDeadline(time.Now().Add(time.Second))
	_, err = readFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, int32(RecordCheck), int32(binary.BigEndian.Uint32(buf[0:4])))
	assert.Equal(t, int32(42), int32(binary.BigEndian.Uint32(buf[4:8])))
}

func TestSocketTransportCloseClosesUnderlyingConn(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	transport := newServerSocketTransport(NewConfig(), DefaultSLogger(), "tcp", client)
	mgr := newFakeManager()
	conn := NewConnection(NewConnectId("x"), mgr, transport)
	transport.startReader(conn)

	require.NoError(t, transport.Close())

	buf := make([]byte, 1)
	_, err := server.Read(buf)
	assert.Error(t, err, "closing the transport must close the wrapped net.Conn")
}

// A read loop seeing EOF closes the connection with CloseRemote (§4.B).
func TestSocketTransportReadLoopClosesOnEOF(t *testing.T) {
	client, server := net.Pipe()

	transport := newServerSocketTransport(NewConfig(), DefaultSLogger(), "tcp", client)
	mgr := newFakeManager()
	conn := NewConnection(NewConnectId("x"), mgr, transport)
	conn.markOpen()
	transport.startReader(conn)

	server.Close()

	require.Eventually(t, func() bool { return conn.State() == StateClosed }, time.Second, time.Millisecond)
	require.Len(t, mgr.closed, 1)
	assert.Equal(t, CloseRemote, mgr.closed[0].Reason)
}

// A ping issued over a real TCP connection whose peer never answers must
// close the connection with CloseTimeout once ConnectionCheckTimeout
// elapses, exercising the full encode/write and decode/read path of a real
// socketTransport rather than a test double (§8 "ping timeout over real
// transport").
func TestClientManagerTCPPingTimeoutOverRealTransport(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		defer raw.Close()

		var magic [4]byte
		if _, err := readFull(raw, magic[:]); err != nil {
			return
		}
		_, _ = raw.Write(EncodeRecord(RecordConnected, 0, nil, 0, 0))
		// Drain anything further (including the upcoming CHECK) without
		// ever answering it, so the client's ping never gets confirmed.
		_, _ = io.Copy(io.Discard, raw)
	}()

	timer := NewGlobalTimer(time.Now, 10*time.Millisecond)
	defer timer.Stop()

	cfg := NewConfig()
	cfg.ConnectionCheckTimeout = 30 * time.Millisecond
	cfg.GlobalConnectionCheck = true
	cfg.Timer = timer

	addr := ln.Addr().(*net.TCPAddr)
	cm := NewClientManager(NewInternalId("client"), NewConnectId(fmt.Sprintf("127.0.0.1:%d", addr.Port)), cfg)

	require.NoError(t, cm.Open(context.Background()))
	require.Eventually(t, func() bool { return cm.Connection().State() == StateOpen }, time.Second, time.Millisecond)
	conn := cm.Connection()

	var closed []ConnectionClosedEvent
	cm.AddConnectionClosedHandler(0, func(e ConnectionClosedEvent) { closed = append(closed, e) })

	require.NoError(t, cm.Check())

	require.Eventually(t, func() bool { return conn.State() == StateClosed }, 2*time.Second, 5*time.Millisecond)
	require.Len(t, closed, 1)
	assert.Equal(t, CloseTimeout, closed[0].Reason)
}

func TestEncodeOutgoingRecordDispatchesByKind(t *testing.T) {
	cfg := NewConfig()
	wire := encodeOutgoingRecord(cfg, Record{Kind: RecordPacket, PacketID: 3, PacketBody: []byte("ab")})
	assert.Equal(t, int32(RecordPacket), int32(binary.BigEndian.Uint32(wire[0:4])))

	wire = encodeOutgoingRecord(cfg, Record{Kind: RecordCheckReply, UUID: 9})
	assert.Len(t, wire, 8)

	wire = encodeOutgoingRecord(cfg, Record{Kind: RecordLogout})
	assert.Len(t, wire, 4)
}

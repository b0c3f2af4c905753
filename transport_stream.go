// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
)

// readerStarter lets the acceptor kick off a server-side transport's reader
// goroutine once its owning [*Connection] (and therefore its span id)
// exists, mirroring what [*socketTransport.Open] does for the client side.
// The internal transport needs no reader goroutine and so does not
// implement it.
type readerStarter interface {
	startReader(conn *Connection)
}

// socketTransport is the [Transport] realization for connection-oriented
// wire I/O. A connected UDP socket behaves identically to a TCP one from
// Go's net.Conn perspective, so the client side of both the stream and
// datagram transports (§4.B) share this implementation; only the server's
// UDP receive path needs its own per-datagram demultiplexing, handled by
// [datagramPeerTransport] instead.
type socketTransport struct {
	cfg     *Config
	logger  SLogger
	network string // "tcp" or "udp"
	addr    string // dial target; empty for a server-accepted conn

	raw  net.Conn // set by Open (client) or the constructor (server)
	conn net.Conn // observed net.Conn actually used for I/O, set by startReader

	writeMu sync.Mutex
}

// newClientSocketTransport returns the not-yet-connected client side of a
// stream ("tcp") or datagram ("udp") transport dialing addr.
func newClientSocketTransport(cfg *Config, logger SLogger, network, addr string) *socketTransport {
	return &socketTransport{cfg: cfg, logger: logger, network: network, addr: addr}
}

// newServerSocketTransport wraps an already-accepted TCP connection whose
// LOGIN record the acceptor has already consumed.
func newServerSocketTransport(cfg *Config, logger SLogger, network string, raw net.Conn) *socketTransport {
	return &socketTransport{cfg: cfg, logger: logger, network: network, raw: raw}
}

// Kind implements [Transport].
func (t *socketTransport) Kind() TransportKind {
	if t.network == "udp" {
		return TransportDatagram
	}
	return TransportStream
}

// Open dials out and sends LOGIN (§6 "Stream connect" / "Datagram
// connect"). It is only ever called for the client side; a server-accepted
// socketTransport is materialized already past LOGIN and driven directly by
// the acceptor via [*socketTransport.startReader].
func (t *socketTransport) Open(ctx context.Context, conn *Connection) error {
	addrPort, err := netip.ParseAddrPort(t.addr)
	if err != nil {
		return fmt.Errorf("netmux: invalid %s address %q: %w", t.network, t.addr, err)
	}

	dial := NewConnectFunc(t.cfg, t.network, t.logger)
	raw, err := dial.Call(ctx, addrPort)
	if err != nil {
		return err
	}
	t.raw = raw
	t.startReader(conn)

	return t.writeRecord(EncodeRecord(RecordLogin, 0, nil, 0, t.cfg.EncodeBufferInitialSize))
}

// startReader wraps the raw conn with I/O observability logging (now that
// conn's span id exists) and launches the dedicated reader goroutine (§5
// "one data-reader thread per stream connection").
func (t *socketTransport) startReader(conn *Connection) {
	observe := NewObserveConnFunc(t.cfg, t.logger)
	observe.SpanID = conn.SpanID()
	observed, _ := observe.Call(context.Background(), t.raw)
	t.conn = observed
	go t.readLoop(conn)
}

func (t *socketTransport) readLoop(conn *Connection) {
	buf := make([]byte, 4096)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			records, ferr := conn.feedBytes(buf[:n])
			for _, rec := range records {
				conn.receiveRecord(rec)
			}
			if ferr != nil {
				conn.Close(CloseIOException, ferr)
				return
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				conn.Close(CloseRemote, nil)
			case errors.Is(err, net.ErrClosed):
				conn.Close(CloseExternal, err)
			default:
				conn.Close(CloseIOException, err)
			}
			return
		}
	}
}

// SendRecord implements [Transport].
func (t *socketTransport) SendRecord(rec Record) error {
	return t.writeRecord(encodeOutgoingRecord(t.cfg, rec))
}

func (t *socketTransport) writeRecord(wire []byte) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err := t.conn.Write(wire)
	return err
}

// Close implements [Transport].
func (t *socketTransport) Close() error {
	if t.conn != nil {
		return t.conn.Close()
	}
	if t.raw != nil {
		return t.raw.Close()
	}
	return nil
}

var _ Transport = &socketTransport{}
var _ readerStarter = &socketTransport{}

// encodeOutgoingRecord renders rec to its wire representation, dispatching
// on kind the same way [*ByteAccumulator] does on decode; shared by every
// transport that puts bytes on a real wire (stream and datagram).
func encodeOutgoingRecord(cfg *Config, rec Record) []byte {
	switch rec.Kind {
	case RecordPacket:
		return EncodeRecord(RecordPacket, rec.PacketID, rec.PacketBody, 0, cfg.EncodeBufferInitialSize)
	case RecordCheck, RecordCheckReply:
		return EncodeRecord(rec.Kind, 0, nil, rec.UUID, 0)
	default:
		return EncodeRecord(rec.Kind, 0, nil, 0, 0)
	}
}

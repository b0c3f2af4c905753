// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"encoding/binary"
	"net"
)

// datagramPeerTransport is the server-side [Transport] for one UDP peer.
// Every peer shares the server's single [*net.UDPConn]; this type only
// remembers which [*net.UDPAddr] to address (§4.B "Datagram", §9 "anonymous
// adapter until LOGIN").
type datagramPeerTransport struct {
	cfg  *Config
	conn *net.UDPConn
	addr *net.UDPAddr
}

func newDatagramPeerTransport(cfg *Config, conn *net.UDPConn, addr *net.UDPAddr) *datagramPeerTransport {
	return &datagramPeerTransport{cfg: cfg, conn: conn, addr: addr}
}

// Kind implements [Transport].
func (t *datagramPeerTransport) Kind() TransportKind { return TransportDatagram }

// Open is a no-op: a server-side datagram peer is materialized already past
// LOGIN by [*ServerManager.datagramReceiveLoop], which calls
// [*Connection.markOpen] directly instead of going through Open.
func (t *datagramPeerTransport) Open(ctx context.Context, conn *Connection) error { return nil }

// SendRecord implements [Transport].
func (t *datagramPeerTransport) SendRecord(rec Record) error {
	wire := encodeOutgoingRecord(t.cfg, rec)
	_, err := t.conn.WriteToUDP(wire, t.addr)
	return err
}

// Close implements [Transport]; the shared socket stays open for other
// peers, only this peer's registry entry (removed by the owning
// [*Connection.Close] via removeConnectionSilently) goes away.
func (t *datagramPeerTransport) Close() error { return nil }

var _ Transport = &datagramPeerTransport{}

// datagramReceiveLoop is the single reader goroutine for the server's
// shared UDP socket (§5 "one data-reader thread per stream connection";
// for datagram transports that thread is shared across peers since they
// share one socket). It demultiplexes by source address: a known address
// feeds bytes into its existing connection's accumulator, while an unknown
// address carrying exactly a LOGIN record is materialized as a new peer.
func (s *ServerManager) datagramReceiveLoop() {
	defer s.wg.Done()
	buf := make([]byte, s.cfg.DatagramPacketMaxSize)
	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		data := append([]byte(nil), buf[:n]...)
		key := addr.String()

		s.udpMu.Lock()
		conn, known := s.udpPeers[key]
		s.udpMu.Unlock()

		if known {
			records, ferr := conn.feedBytes(data)
			for _, rec := range records {
				conn.receiveRecord(rec)
			}
			if ferr != nil {
				_ = conn.Close(CloseIOException, ferr)
			}
			continue
		}

		if s.maybeReplyServerInfo(data, addr) {
			continue
		}

		if len(data) == 4 && int32(binary.BigEndian.Uint32(data)) == int32(RecordLogin) {
			s.acceptDatagramPeer(key, addr)
		}
		// Any other unsolicited datagram from an unknown address is dropped.
	}
}

func (s *ServerManager) acceptDatagramPeer(key string, addr *net.UDPAddr) {
	newTransport := func(NetworkId) Transport {
		return newDatagramPeerTransport(s.cfg, s.udpConn, addr)
	}
	conn := s.acceptRawConnection(key, newTransport, func() {}, nil)
	if conn == nil {
		return
	}
	s.udpMu.Lock()
	s.udpPeers[key] = conn
	s.udpMu.Unlock()
}

func (s *ServerManager) removeUDPPeerByID(id NetworkId) {
	s.udpMu.Lock()
	defer s.udpMu.Unlock()
	for key, conn := range s.udpPeers {
		if conn.RemoteID().Equal(id) {
			delete(s.udpPeers, key)
			return
		}
	}
}

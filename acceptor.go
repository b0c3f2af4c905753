// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"fmt"
	"sync/atomic"
)

// acceptorSeq generates the suffix that disambiguates raw connections that
// share a remote address (e.g. two dials from behind the same NAT),
// appended to the description [*ServerManager.acceptRawConnection]
// synthesizes for each accepted peer.
var acceptorSeq atomic.Int64

func nextAcceptorSeq() int64 {
	return acceptorSeq.Add(1)
}

// acceptRawConnection runs the common server-side acceptance protocol (§4.E
// step 3) shared by the stream listener, the datagram demultiplexer, and the
// internal-peer pairing: filter the raw peer, materialize a [*Connection]
// already past LOGIN, let handlers attach a custom object, insert it into
// the registry, mark it open, and send CONNECTED. On any rejection closeRaw
// is invoked and no connection is returned.
//
// beforeConnected, when non-nil, runs after the connection is marked open
// but before CONNECTED is sent over transport, so a caller whose transport
// is not yet wired to its peer (the internal-peer path) can finish wiring
// it first; SendRecord would otherwise be guaranteed to fail. Stream and
// datagram callers, whose transport is already fully usable at this point,
// pass nil.
func (s *ServerManager) acceptRawConnection(remoteAddr string, newTransport func(NetworkId) Transport, closeRaw func(), beforeConnected func(conn *Connection)) *Connection {
	filter := &FilterRawConnectionEvent{RemoteAddr: remoteAddr, Name: remoteAddr}
	s.postFilterRawConnection(filter)
	if filter.Cancelled() {
		closeRaw()
		return nil
	}

	newID := NewConnectId(remoteAddr).WithDescription(
		fmt.Sprintf("%s#%d", filter.Name, nextAcceptorSeq()))

	transport := newTransport(newID)
	conn := NewConnection(newID, s, transport)

	configure := &ConfigureConnectionEvent{Server: s, NewID: newID}
	s.postConfigureConnection(configure)
	conn.SetCustomObject(configure.CustomObject)

	if !s.registry.AddInitialized(conn) {
		closeRaw()
		return nil
	}

	if starter, ok := transport.(readerStarter); ok {
		starter.startReader(conn)
	}

	conn.markOpen()
	if beforeConnected != nil {
		beforeConnected(conn)
	}
	_ = transport.SendRecord(Record{Kind: RecordConnected})

	return conn
}

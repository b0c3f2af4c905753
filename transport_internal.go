// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"errors"
	"sync"
)

// errInternalPeerClosed is returned by [*internalTransport.SendRecord] once
// the paired side has closed and cleared its slot in the shared link.
var errInternalPeerClosed = errors.New("netmux: internal peer connection closed")

// internalPeerLink is the small pair record two in-process peer connections
// share with interior mutability (§9 "Cyclic references between paired
// connections"): neither [*Connection] owns the other, and on close the
// closing side nulls its own slot so the other observes it on its next send.
type internalPeerLink struct {
	mu   sync.Mutex
	a, b *Connection
}

func newInternalPeerLink() *internalPeerLink {
	return &internalPeerLink{}
}

func (l *internalPeerLink) set(isA bool, conn *Connection) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if isA {
		l.a = conn
	} else {
		l.b = conn
	}
}

func (l *internalPeerLink) peer(isA bool) *Connection {
	l.mu.Lock()
	defer l.mu.Unlock()
	if isA {
		return l.b
	}
	return l.a
}

func (l *internalPeerLink) clear(isA bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if isA {
		l.a = nil
	} else {
		l.b = nil
	}
}

// internalTransport is the [Transport] realization for in-process peer
// connections (§4.B "Internal peer"). It performs no I/O: sending hands a
// [Record] directly to the paired connection's receiveRecord.
type internalTransport struct {
	registry *InternalRegistry
	link     *internalPeerLink
	isA      bool
}

// newClientInternalTransport returns the client ("A") side of a not-yet-paired
// internal transport; pairing happens in [*internalTransport.Open].
func newClientInternalTransport(registry *InternalRegistry) *internalTransport {
	return &internalTransport{registry: registry, isA: true}
}

// newServerInternalTransport returns the server ("B") side of an internal
// transport already paired via link, constructed by [*ServerManager.acceptInternalPeer].
func newServerInternalTransport(link *internalPeerLink) *internalTransport {
	return &internalTransport{link: link, isA: false}
}

func (t *internalTransport) Kind() TransportKind { return TransportInternal }

// Open resolves the registered server for conn's remote id, materializes and
// pairs the server-side connection, and synchronously completes both ends
// (§4.B "Internal peer: open synchronously resolves a peer ... If no peer
// exists → Closed").
func (t *internalTransport) Open(ctx context.Context, conn *Connection) error {
	peer, ok := t.registry.createPeer(conn, t)
	if !ok {
		return errNoInternalServer(conn.RemoteID())
	}
	conn.completeOpen()
	peer.markOpen()
	return nil
}

// SendRecord hands rec directly to the paired connection; there is no wire
// encoding for the internal transport.
func (t *internalTransport) SendRecord(rec Record) error {
	peer := t.link.peer(t.isA)
	if peer == nil {
		return errInternalPeerClosed
	}
	peer.receiveRecord(rec)
	return nil
}

// Close clears this side's slot in the shared link so a subsequent send by
// the peer observes the closure.
func (t *internalTransport) Close() error {
	if t.link != nil {
		t.link.clear(t.isA)
	}
	return nil
}

var _ Transport = &internalTransport{}

// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"
)

// ServerManager accepts inbound connections addressed to localID (§4.E
// "Server manager: registry of accepted connections"). Depending on
// [Config.ServerType] it listens on a TCP socket, a UDP socket, both, or
// neither (internal-only).
type ServerManager struct {
	*Manager
	registry *connectionRegistry

	listener net.Listener
	udpConn  *net.UDPConn

	udpMu    sync.Mutex
	udpPeers map[string]*Connection

	wg sync.WaitGroup
}

// NewServerManager returns a not-yet-started [*ServerManager] addressed as
// localID. Pass nil for cfg to use [NewConfig]'s defaults.
func NewServerManager(localID NetworkId, cfg *Config) *ServerManager {
	sm := &ServerManager{
		Manager:  newManager(localID, cfg),
		registry: newConnectionRegistry(),
		udpPeers: make(map[string]*Connection),
	}
	if sm.cfg.GlobalConnectionCheck {
		sm.cfg.Timer.Subscribe(sm)
	}
	return sm
}

// Start opens the configured listener(s) and begins accepting (§4.E
// "start"). It is an error to call Start twice without an intervening Stop.
func (s *ServerManager) Start() error {
	if s.registry.State() != ServerStopped {
		return fmt.Errorf("netmux: server already started")
	}
	s.registry.setState(ServerRunning)

	if s.cfg.ServerType == ServerTypeTCP || s.cfg.ServerType == ServerTypeCombined {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.localID.Port()))
		if err != nil {
			s.registry.setState(ServerStopped)
			return err
		}
		s.listener = ln
		s.wg.Add(1)
		go s.acceptStreamLoop()
	}

	if s.cfg.ServerType == ServerTypeUDP || s.cfg.ServerType == ServerTypeCombined {
		udpAddr := &net.UDPAddr{Port: s.localID.Port()}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			s.Stop()
			return err
		}
		s.udpConn = conn
		s.wg.Add(1)
		go s.datagramReceiveLoop()
	}

	if s.cfg.RegisterInternalServer {
		s.cfg.Internal.Register(s.localID, s)
	}

	return nil
}

// Stop transitions the registry through Stopping, closes every accepted
// connection with [CloseServer], and releases the listener(s) (§4.E
// "stop").
func (s *ServerManager) Stop() {
	s.registry.setState(ServerStopping)

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.udpConn != nil {
		_ = s.udpConn.Close()
	}

	for _, conn := range s.registry.GetCopy() {
		_ = conn.Close(CloseServer, nil)
	}

	if s.cfg.RegisterInternalServer {
		s.cfg.Internal.Unregister(s.localID)
	}

	s.wg.Wait()
	s.registry.setState(ServerStopped)
}

func (s *ServerManager) acceptStreamLoop() {
	defer s.wg.Done()
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.acceptStreamConn(raw)
	}
}

// acceptStreamConn consumes the initiator's LOGIN record (§6 "Stream
// connect") before handing the raw connection to [*ServerManager.acceptRawConnection].
func (s *ServerManager) acceptStreamConn(raw net.Conn) {
	var magic [4]byte
	if _, err := readFull(raw, magic[:]); err != nil || int32(binary.BigEndian.Uint32(magic[:])) != int32(RecordLogin) {
		_ = raw.Close()
		return
	}

	remoteAddr := raw.RemoteAddr().String()
	newTransport := func(id NetworkId) Transport {
		return newServerSocketTransport(s.cfg, s.cfg.Logger, "tcp", raw)
	}
	s.acceptRawConnection(remoteAddr, newTransport, func() { _ = raw.Close() }, nil)
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// acceptInternalPeer materializes the server side of an in-process peer
// pairing and wires both transports to the shared [*internalPeerLink] (§4.B
// "Internal peer", §4.F "create_peer"). Called by
// [*InternalRegistry.createPeer] from within the client's
// [*internalTransport.Open].
func (s *ServerManager) acceptInternalPeer(clientConn *Connection, clientTransport *internalTransport) (*Connection, bool) {
	link := newInternalPeerLink()
	serverTransport := newServerInternalTransport(link)

	peer := s.acceptRawConnection(clientConn.RemoteID().Description(), func(NetworkId) Transport { return serverTransport }, func() {}, func(peerConn *Connection) {
		// Wire both sides of the link before CONNECTED is sent: until now
		// link.a/link.b are both nil, so SendRecord would unconditionally
		// fail with errInternalPeerClosed (§4.F "create_peer").
		link.set(true, clientConn)
		link.set(false, peerConn)
		clientTransport.link = link
	})
	if peer == nil {
		return nil, false
	}

	return peer, true
}

// SendTo sends p to the connection registered under id, returning false if
// no such connection exists or it is not in a sendable state.
func (s *ServerManager) SendTo(id NetworkId, p Packet) bool {
	conn, ok := s.registry.Get(id)
	if !ok {
		return false
	}
	return conn.SendPacket(p)
}

// Broadcast sends p to every currently-registered connection (§4.E
// "broadcast").
func (s *ServerManager) Broadcast(p Packet) {
	for _, conn := range s.registry.GetCopy() {
		conn.SendPacket(p)
	}
}

// Disconnect closes the connection registered under id, returning false if
// no such connection exists.
func (s *ServerManager) Disconnect(id NetworkId) bool {
	conn, ok := s.registry.Get(id)
	if !ok {
		return false
	}
	_ = conn.Close(CloseExpected, nil)
	return true
}

// Connections returns a snapshot of every currently-registered connection.
func (s *ServerManager) Connections() []*Connection {
	return s.registry.GetCopy()
}

func (s *ServerManager) removeConnectionSilently(id NetworkId) {
	s.registry.RemoveSilently(id)
	s.removeUDPPeerByID(id)
}

// UpdateConnectionStatus implements [TimerSubscriber], checking every
// registered connection on each global tick (§4.G).
func (s *ServerManager) UpdateConnectionStatus() {
	for _, conn := range s.registry.GetCopy() {
		conn.updateStatus()
	}
}

var _ connectionManager = &ServerManager{}

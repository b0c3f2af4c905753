// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"fmt"
	"sync"
)

// ClientManager drives a single outbound [*Connection] to remoteID (§4.E
// "Client manager: one connection"). Which [Transport] realization is used
// is derived from remoteID's feature, not configured separately.
type ClientManager struct {
	*Manager
	remoteID NetworkId

	mu   sync.Mutex
	conn *Connection
}

// NewClientManager returns a [*ClientManager] addressed as localID, dialing
// remoteID. Pass nil for cfg to use [NewConfig]'s defaults.
func NewClientManager(localID, remoteID NetworkId, cfg *Config) *ClientManager {
	cm := &ClientManager{
		Manager:  newManager(localID, cfg),
		remoteID: remoteID,
	}
	if cm.cfg.GlobalConnectionCheck {
		cm.cfg.Timer.Subscribe(cm)
	}
	return cm
}

// newTransport selects the [Transport] realization for remoteID (§4.B):
// [FeatureInternal] pairs through the process registry; [FeatureConnect]
// dials out over TCP or UDP, with [Config.ServerType] doubling as the
// client's dial-protocol selector since a client dials exactly one
// transport (ServerTypeUDP dials "udp"; everything else dials "tcp").
func (cm *ClientManager) newTransport() (Transport, error) {
	switch cm.remoteID.Feature() {
	case FeatureInternal:
		return newClientInternalTransport(cm.cfg.Internal), nil
	case FeatureConnect:
		network := "tcp"
		if cm.cfg.ServerType == ServerTypeUDP {
			network = "udp"
		}
		return newClientSocketTransport(cm.cfg, cm.cfg.Logger, network, cm.remoteID.Addr()), nil
	default:
		return nil, fmt.Errorf("netmux: client cannot dial a NetworkId with feature %s", cm.remoteID.Feature())
	}
}

// Open dials remoteID and blocks until the connection reaches [StateOpen]
// or the attempt fails (§4.E "client.open()").
func (cm *ClientManager) Open(ctx context.Context) error {
	transport, err := cm.newTransport()
	if err != nil {
		return err
	}

	conn := NewConnection(cm.remoteID, cm, transport)
	cm.mu.Lock()
	cm.conn = conn
	cm.mu.Unlock()

	return conn.Open(ctx)
}

// Close closes the managed connection, if any.
func (cm *ClientManager) Close() error {
	cm.mu.Lock()
	conn := cm.conn
	cm.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(CloseExpected, nil)
}

// Check issues a liveness ping on the managed connection.
func (cm *ClientManager) Check() error {
	cm.mu.Lock()
	conn := cm.conn
	cm.mu.Unlock()
	if conn == nil {
		return ErrNotOpen
	}
	return conn.Check()
}

// Send submits p on the managed connection, returning false if there is no
// connection or it is not in a sendable state (§4.E "client.send(p)").
func (cm *ClientManager) Send(p Packet) bool {
	cm.mu.Lock()
	conn := cm.conn
	cm.mu.Unlock()
	if conn == nil {
		return false
	}
	return conn.SendPacket(p)
}

// Connection returns the managed connection, or nil before the first Open.
func (cm *ClientManager) Connection() *Connection {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.conn
}

func (cm *ClientManager) removeConnectionSilently(id NetworkId) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if cm.conn != nil && cm.conn.RemoteID().Equal(id) {
		cm.conn = nil
	}
}

// UpdateConnectionStatus implements [TimerSubscriber], checking the single
// managed connection on every global tick (§4.G).
func (cm *ClientManager) UpdateConnectionStatus() {
	cm.mu.Lock()
	conn := cm.conn
	cm.mu.Unlock()
	if conn != nil {
		conn.updateStatus()
	}
}

var _ connectionManager = &ClientManager{}

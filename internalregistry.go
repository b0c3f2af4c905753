// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"fmt"
	"sync"
)

// InternalRegistry is the process-global mapping of [NetworkId]
// (keyed by its description, per [NetworkId.Equal]) to [*ServerManager],
// guarded by a single mutex (§4.F, §5 "the process internal registry").
// It lets a [*ClientManager] resolve an in-process peer by name without any
// I/O.
type InternalRegistry struct {
	mu      sync.Mutex
	servers map[string]*ServerManager
}

// NewInternalRegistry returns an empty [*InternalRegistry]. Most callers
// want [DefaultInternalRegistry]'s process-wide shared instance instead.
func NewInternalRegistry() *InternalRegistry {
	return &InternalRegistry{servers: make(map[string]*ServerManager)}
}

var (
	defaultInternalRegistryOnce sync.Once
	defaultInternalRegistry     *InternalRegistry
)

// DefaultInternalRegistry returns the process-wide [*InternalRegistry],
// created lazily on first use.
func DefaultInternalRegistry() *InternalRegistry {
	defaultInternalRegistryOnce.Do(func() {
		defaultInternalRegistry = NewInternalRegistry()
	})
	return defaultInternalRegistry
}

// Register exposes server under id. It succeeds iff id is absent
// (§4.F "register(server) succeeds iff id absent").
func (r *InternalRegistry) Register(id NetworkId, server *ServerManager) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.Description()
	if _, exists := r.servers[key]; exists {
		return false
	}
	r.servers[key] = server
	return true
}

// Unregister removes server's entry, ordinarily on [*ServerManager.Stop].
func (r *InternalRegistry) Unregister(id NetworkId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, id.Description())
}

// createPeer looks up the server registered under clientConn's remote id. If
// present, it asks the server to materialize and pair a server-side
// connection (§4.F "create_peer"). If no server is registered, ok is false.
func (r *InternalRegistry) createPeer(clientConn *Connection, clientTransport *internalTransport) (peer *Connection, ok bool) {
	r.mu.Lock()
	server, found := r.servers[clientConn.RemoteID().Description()]
	r.mu.Unlock()
	if !found {
		return nil, false
	}
	return server.acceptInternalPeer(clientConn, clientTransport)
}

// errNoInternalServer formats the error [*internalTransport.Open] returns
// when no server is registered under the target id.
func errNoInternalServer(id NetworkId) error {
	return fmt.Errorf("netmux: no internal server registered for %s", id.Description())
}

// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"fmt"
	"io"
	"sync"

	"github.com/bassosimone/runtimex"
)

// Packet is an opaque, application-defined unit exchanged over a
// [*Connection]. The core never inspects a packet's payload; it only
// needs to size, write, and read it.
type Packet interface {
	// ByteSize returns the encoded payload size, or a negative value if
	// unknown ahead of encoding (the encoder then uses a growing buffer
	// seeded by [Config.EncodeBufferInitialSize]).
	ByteSize() int

	// WriteData encodes the packet body to w.
	WriteData(w io.Writer) error

	// ReadData decodes the packet body from r, which is bounded to
	// exactly the record's declared length.
	ReadData(r io.Reader) error
}

// PacketFactory constructs an empty [Packet] ready for [Packet.ReadData].
type PacketFactory func() Packet

// PacketMapping associates a packet id with its Go type name and factory.
type PacketMapping struct {
	// ID is the wire packet_id carried by PACKET records.
	ID int32

	// Class is the packet's Go type name as printed by %T (for example
	// "*pkg.Hello"). [*Connection.SendPacket] looks up the outgoing
	// packet_id by it through IDFor, and duplicate classes are rejected.
	Class string

	// Factory constructs an empty instance for decoding.
	Factory PacketFactory
}

// PacketIdMappingProvider is a read-only view the wire codec consults to
// resolve a wire packet_id to a [PacketFactory]. The core only consumes
// this interface; the identifier-map container itself is an external
// collaborator (§1 Non-goals of this component).
type PacketIdMappingProvider interface {
	// Lookup returns the factory registered for id, or ok=false if id is
	// unmapped (the accumulator drops such records with a warning rather
	// than closing the connection).
	Lookup(id int32) (factory PacketFactory, ok bool)

	// IDFor returns the wire packet_id registered for class (ordinarily
	// the outgoing packet's type name), used by [*Connection.SendPacket]
	// to fill PACKET records' packet_id field.
	IDFor(class string) (id int32, ok bool)
}

// PacketMappingContainer is the default, concurrency-safe
// [PacketIdMappingProvider] returned by [Manager.MappingContainer].
//
// Duplicate registrations by id or by class are rejected: this mirrors the
// source's containerised id/class map and keeps the common case (one
// packet type per id) foolproof.
type PacketMappingContainer struct {
	mu      sync.RWMutex
	byID    map[int32]PacketMapping
	byClass map[string]int32
}

// NewPacketMappingContainer returns an empty [*PacketMappingContainer].
func NewPacketMappingContainer() *PacketMappingContainer {
	return &PacketMappingContainer{
		byID:    make(map[int32]PacketMapping),
		byClass: make(map[string]int32),
	}
}

// Register adds a mapping. It fails if id or class is already registered.
func (c *PacketMappingContainer) Register(m PacketMapping) error {
	runtimex.Assert(m.Factory != nil)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byID[m.ID]; exists {
		return fmt.Errorf("netmux: packet id %d already registered", m.ID)
	}
	if _, exists := c.byClass[m.Class]; exists {
		return fmt.Errorf("netmux: packet class %q already registered", m.Class)
	}

	c.byID[m.ID] = m
	c.byClass[m.Class] = m.ID
	return nil
}

// Lookup implements [PacketIdMappingProvider].
func (c *PacketMappingContainer) Lookup(id int32) (PacketFactory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return m.Factory, true
}

// IDFor implements [PacketIdMappingProvider].
func (c *PacketMappingContainer) IDFor(class string) (int32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	id, ok := c.byClass[class]
	return id, ok
}

var _ PacketIdMappingProvider = &PacketMappingContainer{}

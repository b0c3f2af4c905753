// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// RecordKind identifies one of the wire record types by its 4-byte magic
// prefix (§4.A). All multi-byte integers on the wire are big-endian signed
// 32-bit.
type RecordKind int32

const (
	// RecordPacket carries an application [Packet]: packet_id, length,
	// then length bytes of packet body.
	RecordPacket RecordKind = 0xFEDCBA00

	// RecordCheck carries a liveness ping uuid.
	RecordCheck RecordKind = 0xFEDCBA01

	// RecordCheckReply carries the matching reply uuid.
	RecordCheckReply RecordKind = 0xFEDCBA02

	// RecordLogin has no payload; sent by the initiator on a stream or
	// datagram transport to start the handshake.
	RecordLogin RecordKind = 0xFEDCBA03

	// RecordLogout has no payload; signals an orderly datagram close.
	RecordLogout RecordKind = 0xFEDCBA04

	// RecordConnected has no payload; the reserved magic a server sends
	// back after accepting a LOGIN (§9: inferred from the adapter
	// interface, not asserted by prefix in the original source — fixed
	// here at FEDCBA05 per the spec's own suggestion).
	RecordConnected RecordKind = 0xFEDCBA05
)

// String implements [fmt.Stringer].
func (k RecordKind) String() string {
	switch k {
	case RecordPacket:
		return "PACKET"
	case RecordCheck:
		return "CHECK"
	case RecordCheckReply:
		return "CHECK_REPLY"
	case RecordLogin:
		return "LOGIN"
	case RecordLogout:
		return "LOGOUT"
	case RecordConnected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("UNKNOWN(%#x)", uint32(k))
	}
}

// Record is a single decoded wire frame handed by the [*ByteAccumulator]
// to its owning connection.
type Record struct {
	// Kind selects which fields below are meaningful.
	Kind RecordKind

	// PacketID is set for [RecordPacket].
	PacketID int32

	// PacketBody is set for [RecordPacket]; it is exactly the record's
	// declared length and is not retained by the accumulator.
	PacketBody []byte

	// DecodedPacket is the [Packet] instantiated and populated by
	// [*ByteAccumulator] via the mapping provider's factory and
	// [Packet.ReadData] (§4.A point 2). Set only for [RecordPacket]
	// records whose packet_id was mapped.
	DecodedPacket Packet

	// UUID is set for [RecordCheck] and [RecordCheckReply].
	UUID int32
}

// EncodeRecord renders a [Record] to its wire representation.
//
// For [RecordPacket], packetBytes must already hold the packet's encoded
// body (produced by [Packet.WriteData] against a buffer sized per
// [Config.EncodeBufferInitialSize] when [Packet.ByteSize] is negative).
func EncodeRecord(kind RecordKind, packetID int32, packetBytes []byte, uuid int32, initialBufferSize int) []byte {
	switch kind {
	case RecordPacket:
		buf := bytes.NewBuffer(make([]byte, 0, initialBufferSize))
		writeI32(buf, int32(kind))
		writeI32(buf, packetID)
		writeI32(buf, int32(len(packetBytes)))
		buf.Write(packetBytes)
		return buf.Bytes()

	case RecordCheck, RecordCheckReply:
		buf := bytes.NewBuffer(make([]byte, 0, 8))
		writeI32(buf, int32(kind))
		writeI32(buf, uuid)
		return buf.Bytes()

	case RecordLogin, RecordLogout, RecordConnected:
		buf := bytes.NewBuffer(make([]byte, 0, 4))
		writeI32(buf, int32(kind))
		return buf.Bytes()

	default:
		panic(fmt.Sprintf("netmux: EncodeRecord: unsupported kind %v", kind))
	}
}

func writeI32(buf *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	buf.Write(tmp[:])
}

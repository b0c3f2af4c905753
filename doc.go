// SPDX-License-Identifier: GPL-3.0-or-later

// Package netmux is a symmetric, embeddable client/server networking library
// that multiplexes application-level packets over heterogeneous transports
// (in-process loopback, TCP streams, and UDP datagrams) behind a single
// connection abstraction.
//
// # Core Abstraction
//
// Applications register packet types with a [PacketIdMappingProvider],
// construct a [*ClientManager] or [*ServerManager], open [*Connection]
// instances, and exchange [Packet] values. The library owns framing,
// transport selection, connection lifecycle, liveness checking, and
// encode/decode thread dispatch.
//
// # Connections
//
// A [*Connection] is a small state machine (see [ConnectionState]) bound to
// exactly one of three transport realizations:
//
//   - internal: an in-process peer pairing, for loopback communication
//     between a client and server manager in the same process (see
//     [InternalRegistry] and the [NetworkId] "Internal" feature).
//   - stream: a TCP socket, framed with the record protocol in accumulator.go.
//   - datagram: a UDP socket, framed with the same record protocol.
//
// Every connection owns a [*PingTracker] used by the bespoke liveness
// protocol (CHECK / CHECK_REPLY records) and is addressed by an opaque
// [NetworkId].
//
// # Wire format
//
// All multi-byte stream integers are big-endian signed 32-bit. Six record
// kinds are recognized by a 4-byte magic prefix (see record.go); a
// [*ByteAccumulator] reassembles them incrementally from an arbitrarily
// fragmented byte feed, one connection at a time, with no internal locking.
//
// # Dispatch
//
// Received packets are delivered to registered handlers either directly on
// the connection's reader goroutine ("caller-thread" mode) or through a
// single bounded queue drained by one worker goroutine per manager
// ("managed-thread" mode), selected by [Config.UseHandlerThread]. A full
// queue rejects the packet and posts [PacketReceiveRejectedEvent] rather than
// blocking indefinitely.
//
// # Observability
//
// All components log through [SLogger] (compatible with [log/slog]);
// logging is a no-op by default ([DefaultSLogger]). Every connection is
// assigned a span ID via [NewSpanID] and every log record for that
// connection's lifetime carries it, so a single connection's records,
// pings, and state transitions can be correlated in structured log output.
// Errors are classified for logging by [ErrClassifier] ([DefaultErrClassifier]
// by default) and, independently, tagged with a [CloseReason] when they
// terminate a connection (see errclassifier.go and connstate.go).
//
// # Concurrency model
//
// The library is thread-based: one acceptor goroutine per stream server,
// one receiver goroutine per datagram server or client, one reader goroutine
// per stream connection, at most one dispatch worker per manager, one
// global timer goroutine ([GlobalTimer]), and optional cached worker pools
// for encoding/decoding ([NewCoderPool]). A connection's state is guarded
// by a per-connection mutex that is never held across blocking transport
// I/O except the final write that commits encoded record bytes to the wire;
// its ping tracker is not covered by that mutex and synchronizes itself.
//
// # Non-goals
//
// No encryption, no authentication, no fragmentation/reassembly above the
// datagram MTU, no reliability layer over datagrams beyond the minimal
// LOGIN/LOGOUT handshake, and no general request/response correlation
// beyond the connection-check ping. This is not an RPC framework.
package netmux

// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"net"
	"time"
)

// TransportKind selects which of the three transport realizations (§4.B) a
// [NetworkId] resolves to. It is derived from the NetworkId's feature, not
// configured directly, except for [ServerType] which scopes which kinds a
// server accepts.
type TransportKind int

const (
	// TransportInternal pairs connections through [InternalRegistry] without I/O.
	TransportInternal TransportKind = iota

	// TransportStream carries records over a TCP socket.
	TransportStream

	// TransportDatagram carries records over a UDP socket.
	TransportDatagram
)

// String implements [fmt.Stringer].
func (k TransportKind) String() string {
	switch k {
	case TransportInternal:
		return "internal"
	case TransportStream:
		return "stream"
	case TransportDatagram:
		return "datagram"
	default:
		return "unknown"
	}
}

// ServerType selects which transport(s) a [*ServerManager] listens on, per
// §6 "server_type: {Internal, Tcp, Udp, Combined} x {Socket, Channel}".
//
// This implementation always uses blocking sockets (the "Socket" family);
// the "Channel" (non-blocking) family is not implemented — see DESIGN.md.
type ServerType int

const (
	// ServerTypeInternal accepts only in-process peer connections.
	ServerTypeInternal ServerType = iota

	// ServerTypeTCP accepts only TCP stream connections.
	ServerTypeTCP

	// ServerTypeUDP accepts only UDP datagram connections.
	ServerTypeUDP

	// ServerTypeCombined accepts TCP and UDP connections on the same server.
	ServerTypeCombined
)

// Dialer abstracts [*net.Dialer] so tests can substitute an alternative
// implementation, exactly as the teacher's ConnectFunc did for its own dials.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds common configuration for a [*ClientManager] or [*ServerManager].
//
// Pass this to the manager constructors to pre-wire dependencies. All fields
// have sensible defaults set by [NewConfig]. Configuration is immutable
// after the manager's first use (§6).
type Config struct {
	// Dialer is used to open stream and datagram transports.
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time

	// ConnectionCheckTimeout is the ping timeout (§6 connection_check_timeout_ms).
	//
	// Set by [NewConfig] to 30 seconds.
	ConnectionCheckTimeout time.Duration

	// GlobalConnectionCheck subscribes the manager to [GlobalTimer] on start
	// (§6 global_connection_check).
	GlobalConnectionCheck bool

	// UseHandlerThread selects managed-thread dispatch (§4.C) when true, and
	// caller-thread dispatch when false (§6 use_handler_thread).
	UseHandlerThread bool

	// PacketQueueCapacity bounds the managed-thread dispatch queue (§6
	// packet_queue_capacity). Zero means unbounded.
	PacketQueueCapacity int

	// EncodeBufferInitialSize seeds the growing buffer the encoder uses for
	// packets whose ByteSize() is negative (§4.A, §6).
	EncodeBufferInitialSize int

	// DatagramPacketMaxSize bounds a single UDP datagram (§6 datagram_packet_max_size).
	DatagramPacketMaxSize int

	// UseEncoderThreadPool offloads packet encoding to a [*CoderPool] (§4.D, §6).
	UseEncoderThreadPool bool

	// UseDecoderThreadPool offloads packet decoding to a [*CoderPool] (§4.D, §6).
	UseDecoderThreadPool bool

	// ServerType selects which transport(s) a server listens on (§6 server_type).
	ServerType ServerType

	// RegisterInternalServer also exposes a server in [InternalRegistry] (§6
	// register_internal_server).
	RegisterInternalServer bool

	// AllowDetection accepts connectionless server-info requests (§6
	// allow_detection; see serverinfo.go — deliberately thin, see §1).
	AllowDetection bool

	// Logger is the [SLogger] used by the manager and every connection it
	// creates. Defaults to [DefaultSLogger] (no-op).
	Logger SLogger

	// Timer is the [*GlobalTimer] used for periodic liveness ticks and
	// delayed actions. Defaults to [DefaultGlobalTimer].
	Timer *GlobalTimer

	// Internal is the process-wide [*InternalRegistry] used for loopback
	// connections. Defaults to [DefaultInternalRegistry].
	Internal *InternalRegistry
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Dialer:                  &net.Dialer{},
		ErrClassifier:           DefaultErrClassifier,
		TimeNow:                 time.Now,
		ConnectionCheckTimeout:  30 * time.Second,
		GlobalConnectionCheck:   false,
		UseHandlerThread:        false,
		PacketQueueCapacity:     0,
		EncodeBufferInitialSize: 256,
		DatagramPacketMaxSize:   65507,
		UseEncoderThreadPool:    false,
		UseDecoderThreadPool:    false,
		ServerType:              ServerTypeTCP,
		RegisterInternalServer:  false,
		AllowDetection:          false,
		Logger:                  DefaultSLogger(),
		Timer:                   DefaultGlobalTimer(),
		Internal:                DefaultInternalRegistry(),
	}
}

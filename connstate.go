// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import "fmt"

// ConnectionState is the ordered lifecycle enumeration of §3:
//
//	Initialized → Opening → Open ⇄ Checking → Closing → Closed
//
// [StateClosed] is absorbing. [StateClosing] is absorbing except into
// [StateClosed]. [StateChecking] is reachable only from [StateOpen] and
// returns to it (successful reply) or proceeds to [StateClosing] (timeout).
type ConnectionState int

const (
	// StateInitialized is the state a [*Connection] is constructed in.
	StateInitialized ConnectionState = iota

	// StateOpening is entered by Open and left on transport acknowledgement.
	StateOpening

	// StateOpen allows sending and is the target of a successful Open or
	// a successful ping.
	StateOpen

	// StateChecking is entered by Check and left on CHECK_REPLY (back to
	// StateOpen) or ping timeout (to StateClosing).
	StateChecking

	// StateClosing is entered by Close while transport shutdown runs.
	StateClosing

	// StateClosed is terminal.
	StateClosed
)

// String implements [fmt.Stringer].
func (s ConnectionState) String() string {
	switch s {
	case StateInitialized:
		return "Initialized"
	case StateOpening:
		return "Opening"
	case StateOpen:
		return "Open"
	case StateChecking:
		return "Checking"
	case StateClosing:
		return "Closing"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
}

// CanSend reports whether data may be sent from this state (§3: "data may
// be sent only in Open or Checking").
func (s ConnectionState) CanSend() bool {
	return s == StateOpen || s == StateChecking
}

// IsTerminal reports whether s is [StateClosed].
func (s ConnectionState) IsTerminal() bool {
	return s == StateClosed
}

// CloseReason tags *why* a connection's state machine terminated. This is
// distinct from [ErrClassifier], which labels an error for a single log
// line rather than a connection's outcome (§7).
type CloseReason int

const (
	// CloseUnknown is the zero value; a connection should never observe
	// this as its final reason.
	CloseUnknown CloseReason = iota

	// CloseIOException marks a transport read/write error.
	CloseIOException

	// CloseExternal marks the socket having been closed by non-library
	// code.
	CloseExternal

	// CloseInterrupted marks interruption of the reader/acceptor, the
	// canonical non-error shutdown signal.
	CloseInterrupted

	// CloseRemote marks the remote end disconnecting (EOF, or a received
	// LOGOUT on datagram transports).
	CloseRemote

	// CloseTimeout marks a ping that exceeded its configured timeout.
	CloseTimeout

	// CloseServer marks server-initiated shutdown propagated to every
	// connection.
	CloseServer

	// CloseExpected marks a user-initiated call to Close.
	CloseExpected
)

// String implements [fmt.Stringer].
func (r CloseReason) String() string {
	switch r {
	case CloseIOException:
		return "IOEXCEPTION"
	case CloseExternal:
		return "EXTERNAL"
	case CloseInterrupted:
		return "INTERRUPTED"
	case CloseRemote:
		return "REMOTE"
	case CloseTimeout:
		return "TIMEOUT"
	case CloseServer:
		return "SERVER"
	case CloseExpected:
		return "EXPECTED"
	default:
		return "UNKNOWN"
	}
}

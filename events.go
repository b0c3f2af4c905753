// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
)

// ConnectionClosedEvent is posted exactly once per connection, when its
// state machine reaches [StateClosed] (§5 "Events").
type ConnectionClosedEvent struct {
	Connection *Connection
	Reason     CloseReason
	Cause      error
}

// PacketSendingFailedEvent is posted when encoding or transport submission
// of an outbound packet fails (e.g. encoder pool submission refused).
type PacketSendingFailedEvent struct {
	Connection *Connection
	PacketType string
	Cause      error
}

// PacketReceiveRejectedEvent is posted when a received packet cannot be
// delivered: the managed-thread dispatch queue was full, or the decoder
// pool refused submission.
type PacketReceiveRejectedEvent struct {
	SourceID   NetworkId
	PacketType string
}

// ConfigureConnectionEvent is posted by the acceptor after
// [FilterRawConnectionEvent] accepts a raw connection, letting a handler
// attach a custom object to the new [*Connection] before it is inserted
// into the registry.
type ConfigureConnectionEvent struct {
	Server       *ServerManager
	NewID        NetworkId
	CustomObject any
}

// FilterRawConnectionEvent is posted for every incoming raw connection
// before it is materialized. A handler may rename the peer or cancel the
// attempt (§4.E step 3).
type FilterRawConnectionEvent struct {
	RemoteAddr string
	Name       string
	cancelled  bool
}

// Cancel marks the raw connection attempt for rejection. The acceptor
// closes the raw endpoint and posts no [ConfigureConnectionEvent] for
// this attempt (§8 "Acceptor atomicity").
func (e *FilterRawConnectionEvent) Cancel() {
	e.cancelled = true
}

// Cancelled reports whether a handler called [FilterRawConnectionEvent.Cancel].
func (e *FilterRawConnectionEvent) Cancelled() bool {
	return e.cancelled
}

// EventHandler receives dispatched events of a single type. T is typically
// one of the *Event structs above.
type EventHandler[T any] func(T)

// handlerEntry pairs a handler with its registration priority and index,
// giving the stable-sort ordering described in §9 ("Priority ordering uses
// a stable sort by (priority, insertion_index)").
type handlerEntry[T any] struct {
	priority int
	index    int
	handler  EventHandler[T]
}

// EventBus is a small, explicit fan-out registry replacing the
// reflection-driven handler discovery of the original source (§9). Each
// event type gets its own typed [EventBus]; [Manager] embeds one per
// event kind it posts.
type EventBus[T any] struct {
	mu      sync.Mutex
	entries []handlerEntry[T]
	nextSeq int
	logger  SLogger
}

// SetLogger attaches logger, used to report a handler panic caught at the
// dispatch boundary (§7 "Exceptions thrown by user handlers do not affect
// state machine transitions and are caught and logged"). An unset logger
// falls back to [DefaultSLogger].
func (b *EventBus[T]) SetLogger(logger SLogger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.logger = logger
}

// Add registers handler at priority: composition is registration order at
// equal priority (§4.C "Handlers compose"). A new sorted copy of the entry
// list is built and swapped in under the lock, so a concurrent Post sees
// either the old or the new list, never a partial one (§4.C "updated
// atomically"); Post waits for the lock only long enough to read the
// current list and runs handlers without holding it.
func (b *EventBus[T]) Add(priority int, handler EventHandler[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := append(append([]handlerEntry[T]{}, b.entries...),
		handlerEntry[T]{priority: priority, index: b.nextSeq, handler: handler})
	b.nextSeq++
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority < entries[j].priority
		}
		return entries[i].index < entries[j].index
	})
	b.entries = entries
}

// Post invokes every registered handler, in order, with event. A handler
// that panics does not propagate past Post or affect the connection's
// state machine: the panic is recovered and logged at this dispatch
// boundary (§7), and the remaining handlers in the chain still run.
func (b *EventBus[T]) Post(event T) {
	b.mu.Lock()
	entries := b.entries
	logger := b.logger
	b.mu.Unlock()

	if logger == nil {
		logger = DefaultSLogger()
	}

	for _, e := range entries {
		invokeHandler(logger, e.handler, event)
	}
}

func invokeHandler[T any](logger SLogger, handler EventHandler[T], event T) {
	defer func() {
		if r := recover(); r != nil {
			logger.Info("eventHandlerPanic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
		}
	}()
	handler(event)
}

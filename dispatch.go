// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"sync"
)

// PacketDelivery bundles a received [Packet] with its originating
// [*Connection] and a context, the unit handed through a [*Dispatcher]
// to the registered packet handler chain.
type PacketDelivery struct {
	Context    context.Context
	Connection *Connection
	Packet     Packet
}

// PacketHandler processes one delivered packet. Handlers in a chain run in
// registration order on whichever goroutine the [*Dispatcher] selects
// (§4.C); they must be safe to call concurrently with handlers for other
// connections' deliveries.
type PacketHandler func(PacketDelivery)

// Dispatcher implements the two delivery modes of §4.C: caller-thread
// (handlers invoked synchronously on the connection's reader goroutine)
// or single managed-thread (one bounded FIFO queue drained by one worker
// goroutine per manager, selected by [Config.UseHandlerThread]).
type Dispatcher struct {
	useHandlerThread bool
	capacity         int

	handlers EventBus[PacketDelivery]
	rejected func(PacketReceiveRejectedEvent)

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []PacketDelivery
	closed  bool
	started bool
}

// NewDispatcher returns a [*Dispatcher]. capacity <= 0 means unbounded
// (§6 "packet_queue_capacity, default unbounded"). rejected is invoked
// synchronously, on the goroutine calling [*Dispatcher.Deliver], whenever a
// packet is dropped for queue overflow; it is typically [*Manager] posting a [PacketReceiveRejectedEvent].
// logger receives a report whenever a registered [PacketHandler] panics;
// pass nil to fall back to [DefaultSLogger].
func NewDispatcher(useHandlerThread bool, capacity int, rejected func(PacketReceiveRejectedEvent), logger SLogger) *Dispatcher {
	d := &Dispatcher{
		useHandlerThread: useHandlerThread,
		capacity:         capacity,
		rejected:         rejected,
	}
	d.handlers.SetLogger(logger)
	d.cond = sync.NewCond(&d.mu)
	if useHandlerThread {
		d.started = true
		go d.worker()
	}
	return d
}

// AddHandler registers handler at priority. Registering handler "H2" after
// "H1" at equal priority yields a chain that invokes both in order
// (§4.C).
func (d *Dispatcher) AddHandler(priority int, handler PacketHandler) {
	d.handlers.Add(priority, func(delivery PacketDelivery) { handler(delivery) })
}

// Deliver routes a received packet: inline in caller-thread mode, or
// enqueued for the managed worker otherwise. source/packetType identify
// the delivery for the rejection event when the queue is full.
func (d *Dispatcher) Deliver(delivery PacketDelivery, source NetworkId, packetType string) {
	if !d.useHandlerThread {
		d.handlers.Post(delivery)
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	if d.capacity > 0 && len(d.queue) >= d.capacity {
		d.mu.Unlock()
		if d.rejected != nil {
			d.rejected(PacketReceiveRejectedEvent{SourceID: source, PacketType: packetType})
		}
		return
	}
	d.queue = append(d.queue, delivery)
	d.cond.Signal()
	d.mu.Unlock()
}

func (d *Dispatcher) worker() {
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if d.closed && len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		delivery := d.queue[0]
		d.queue = d.queue[1:]
		d.mu.Unlock()

		d.handlers.Post(delivery)
	}
}

// Close stops the managed worker goroutine, if any. Queued deliveries are
// drained (handlers still run for them) before the worker exits; no new
// deliveries are accepted once closed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	d.cond.Broadcast()
	d.mu.Unlock()
}

// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherCallerThreadModeIsSynchronous(t *testing.T) {
	d := NewDispatcher(false, 0, nil, nil)

	var got PacketDelivery
	d.AddHandler(0, func(delivery PacketDelivery) { got = delivery })

	pkt := &stubPacket{body: []byte("hi")}
	d.Deliver(PacketDelivery{Context: context.Background(), Packet: pkt}, NewInternalId("peer"), "stub")

	assert.Same(t, pkt, got.Packet)
}

func TestDispatcherManagedThreadModeDelivers(t *testing.T) {
	d := NewDispatcher(true, 0, nil, nil)
	defer d.Close()

	received := make(chan Packet, 1)
	d.AddHandler(0, func(delivery PacketDelivery) { received <- delivery.Packet })

	pkt := &stubPacket{}
	d.Deliver(PacketDelivery{Context: context.Background(), Packet: pkt}, NewInternalId("peer"), "stub")

	select {
	case got := <-received:
		assert.Same(t, pkt, got)
	case <-time.After(time.Second):
		t.Fatal("packet was not delivered")
	}
}

// Bounded dispatch queue: the (N+1)-th packet produces a
// PacketReceiveRejected event and is not delivered (§8).
func TestDispatcherBoundedQueueRejectsOverflow(t *testing.T) {
	block := make(chan struct{})
	release := make(chan struct{})

	var rejectedMu sync.Mutex
	var rejected []PacketReceiveRejectedEvent

	d := NewDispatcher(true, 1, func(e PacketReceiveRejectedEvent) {
		rejectedMu.Lock()
		rejected = append(rejected, e)
		rejectedMu.Unlock()
	}, nil)
	defer d.Close()

	delivered := 0
	var deliveredMu sync.Mutex
	d.AddHandler(0, func(delivery PacketDelivery) {
		close(block)
		<-release
		deliveredMu.Lock()
		delivered++
		deliveredMu.Unlock()
	})

	source := NewInternalId("peer")
	d.Deliver(PacketDelivery{Packet: &stubPacket{}}, source, "A") // picked up by worker, blocks
	<-block
	d.Deliver(PacketDelivery{Packet: &stubPacket{}}, source, "B") // fills the 1-capacity queue
	d.Deliver(PacketDelivery{Packet: &stubPacket{}}, source, "C") // must be rejected

	require.Eventually(t, func() bool {
		rejectedMu.Lock()
		defer rejectedMu.Unlock()
		return len(rejected) == 1
	}, time.Second, time.Millisecond)

	rejectedMu.Lock()
	assert.Equal(t, "C", rejected[0].PacketType)
	rejectedMu.Unlock()

	close(release)
}

// A panicking PacketHandler must not take down the managed worker
// goroutine; subsequent deliveries still reach later handlers (§7).
func TestDispatcherHandlerPanicDoesNotStopWorker(t *testing.T) {
	logger, _ := newCapturingLogger()
	d := NewDispatcher(true, 0, nil, logger)
	defer d.Close()

	d.AddHandler(0, func(delivery PacketDelivery) { panic("boom") })

	received := make(chan Packet, 1)
	d.AddHandler(1, func(delivery PacketDelivery) { received <- delivery.Packet })

	source := NewInternalId("peer")
	d.Deliver(PacketDelivery{Packet: &stubPacket{}}, source, "A")

	pkt := &stubPacket{}
	d.Deliver(PacketDelivery{Packet: pkt}, source, "B")

	select {
	case got := <-received:
		assert.Same(t, pkt, got)
	case <-time.After(time.Second):
		t.Fatal("worker goroutine did not survive the panicking handler")
	}
}

func TestDispatcherHandlerCompositionOrder(t *testing.T) {
	d := NewDispatcher(false, 0, nil, nil)

	var order []int
	d.AddHandler(0, func(delivery PacketDelivery) { order = append(order, 1) })
	d.AddHandler(0, func(delivery PacketDelivery) { order = append(order, 2) })

	d.Deliver(PacketDelivery{Packet: &stubPacket{}}, NewInternalId("peer"), "stub")
	assert.Equal(t, []int{1, 2}, order)
}

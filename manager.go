// SPDX-License-Identifier: GPL-3.0-or-later

package netmux

// Manager holds the state shared by [*ClientManager] and [*ServerManager]:
// configuration, the packet-id mapping container, the dispatch path, and
// the five event buses of §5/§6. Configuration is treated as immutable
// once a manager starts serving connections (§6).
type Manager struct {
	cfg     *Config
	mapping *PacketMappingContainer
	disp    *Dispatcher
	localID NetworkId

	encoders *CoderPool
	decoders *CoderPool

	closedEvents    EventBus[ConnectionClosedEvent]
	sendFailEvents  EventBus[PacketSendingFailedEvent]
	recvRejEvents   EventBus[PacketReceiveRejectedEvent]
	configureEvents EventBus[*ConfigureConnectionEvent]
	filterEvents    EventBus[*FilterRawConnectionEvent]
}

func newManager(localID NetworkId, cfg *Config) *Manager {
	if cfg == nil {
		cfg = NewConfig()
	}
	m := &Manager{
		cfg:     cfg,
		mapping: NewPacketMappingContainer(),
		localID: localID,
	}
	m.disp = NewDispatcher(cfg.UseHandlerThread, cfg.PacketQueueCapacity, m.postPacketReceiveRejected, cfg.Logger)

	encoderWorkers := 0
	if cfg.UseEncoderThreadPool {
		encoderWorkers = DefaultCoderPoolSize()
	}
	decoderWorkers := 0
	if cfg.UseDecoderThreadPool {
		decoderWorkers = DefaultCoderPoolSize()
	}
	m.encoders = NewCoderPool(encoderWorkers, 0)
	m.decoders = NewCoderPool(decoderWorkers, 0)

	m.closedEvents.SetLogger(cfg.Logger)
	m.sendFailEvents.SetLogger(cfg.Logger)
	m.recvRejEvents.SetLogger(cfg.Logger)
	m.configureEvents.SetLogger(cfg.Logger)
	m.filterEvents.SetLogger(cfg.Logger)

	return m
}

func (m *Manager) dispatcher() *Dispatcher                  { return m.disp }
func (m *Manager) mappingProvider() PacketIdMappingProvider { return m.mapping }
func (m *Manager) config() *Config                          { return m.cfg }
func (m *Manager) encoderPool() *CoderPool                  { return m.encoders }
func (m *Manager) decoderPool() *CoderPool                  { return m.decoders }

// MappingContainer exposes the [PacketIdMappingProvider] for registering
// `{id, class, factory}` triples (§6 "manager.mapping_container()").
func (m *Manager) MappingContainer() *PacketMappingContainer { return m.mapping }

// AddPacketHandler registers a packet handler at priority (§6
// "manager.add_packet_handler(h)").
func (m *Manager) AddPacketHandler(priority int, h PacketHandler) {
	m.disp.AddHandler(priority, h)
}

// AddConnectionClosedHandler registers h for [ConnectionClosedEvent].
func (m *Manager) AddConnectionClosedHandler(priority int, h EventHandler[ConnectionClosedEvent]) {
	m.closedEvents.Add(priority, h)
}

// AddPacketSendingFailedHandler registers h for [PacketSendingFailedEvent].
func (m *Manager) AddPacketSendingFailedHandler(priority int, h EventHandler[PacketSendingFailedEvent]) {
	m.sendFailEvents.Add(priority, h)
}

// AddPacketReceiveRejectedHandler registers h for [PacketReceiveRejectedEvent].
func (m *Manager) AddPacketReceiveRejectedHandler(priority int, h EventHandler[PacketReceiveRejectedEvent]) {
	m.recvRejEvents.Add(priority, h)
}

// AddConfigureConnectionHandler registers h for [ConfigureConnectionEvent].
// Handlers receive a pointer and may mutate its CustomObject field.
func (m *Manager) AddConfigureConnectionHandler(priority int, h EventHandler[*ConfigureConnectionEvent]) {
	m.configureEvents.Add(priority, h)
}

// AddFilterRawConnectionHandler registers h for [FilterRawConnectionEvent].
// Handlers receive a pointer and may call [*FilterRawConnectionEvent.Cancel].
func (m *Manager) AddFilterRawConnectionHandler(priority int, h EventHandler[*FilterRawConnectionEvent]) {
	m.filterEvents.Add(priority, h)
}

func (m *Manager) postConnectionClosed(e ConnectionClosedEvent)           { m.closedEvents.Post(e) }
func (m *Manager) postPacketSendingFailed(e PacketSendingFailedEvent)     { m.sendFailEvents.Post(e) }
func (m *Manager) postPacketReceiveRejected(e PacketReceiveRejectedEvent) { m.recvRejEvents.Post(e) }

func (m *Manager) postConfigureConnection(e *ConfigureConnectionEvent) { m.configureEvents.Post(e) }
func (m *Manager) postFilterRawConnection(e *FilterRawConnectionEvent) { m.filterEvents.Post(e) }

// UpdateConnectionStatus implements [TimerSubscriber]; embedders override it
// (client checks its single connection, server iterates its registry).
func (m *Manager) UpdateConnectionStatus() {}

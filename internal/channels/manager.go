package channels

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Manager fans in every registered channel's incoming messages into one
// stream and routes outbound sends back to the right one, grounded on
// pkg/goclaw/channels/manager.go's Manager.
type Manager struct {
	channels map[string]Channel
	messages chan *IncomingMessage
	logger   *slog.Logger
	listenWg sync.WaitGroup

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager builds an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		channels: make(map[string]Channel),
		messages: make(chan *IncomingMessage, 256),
		logger:   logger.With("component", "channels"),
	}
}

// Register adds a channel. Must be called before Start.
func (m *Manager) Register(ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name := ch.Name()
	if _, exists := m.channels[name]; exists {
		return fmt.Errorf("channel %q already registered", name)
	}
	m.channels[name] = ch
	m.logger.Info("channel registered", "channel", name)
	return nil
}

// Start connects every registered channel and begins listening. A channel
// that fails to connect is logged but does not block the others.
func (m *Manager) Start(ctx context.Context) error {
	m.ctx, m.cancel = context.WithCancel(ctx)

	m.mu.RLock()
	snapshot := make(map[string]Channel, len(m.channels))
	for k, v := range m.channels {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	if len(snapshot) == 0 {
		m.logger.Warn("no channels registered, running without messaging")
		return nil
	}

	var connected int
	for name, ch := range snapshot {
		if err := ch.Connect(m.ctx); err != nil {
			m.logger.Error("failed to connect channel", "channel", name, "error", err)
			continue
		}
		connected++
		m.logger.Info("channel connected", "channel", name)

		m.listenWg.Add(1)
		go func(c Channel) {
			defer m.listenWg.Done()
			m.listenChannel(c)
		}(ch)
	}

	if connected == 0 {
		return fmt.Errorf("no channel connected successfully")
	}
	m.logger.Info("manager started", "channels_connected", connected)
	return nil
}

// Stop disconnects every channel and waits for their listener goroutines to
// drain before closing the aggregated stream.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	m.mu.RLock()
	for name, ch := range m.channels {
		if err := ch.Disconnect(); err != nil {
			m.logger.Error("error disconnecting channel", "channel", name, "error", err)
		}
	}
	m.mu.RUnlock()

	m.listenWg.Wait()
	close(m.messages)
	m.logger.Info("manager stopped")
}

// Messages returns the aggregated inbound stream.
func (m *Manager) Messages() <-chan *IncomingMessage {
	return m.messages
}

// Send delivers message through channelName.
func (m *Manager) Send(ctx context.Context, channelName, to string, message *OutgoingMessage) error {
	ch, ok := m.lookup(channelName)
	if !ok {
		return fmt.Errorf("channel %q not found", channelName)
	}
	if !ch.IsConnected() {
		return fmt.Errorf("channel %q disconnected", channelName)
	}
	return ch.Send(ctx, to, message)
}

// SendMedia delivers media through channelName, if it supports media.
func (m *Manager) SendMedia(ctx context.Context, channelName, to string, media *MediaMessage) error {
	ch, ok := m.lookup(channelName)
	if !ok {
		return fmt.Errorf("channel %q not found", channelName)
	}
	mc, ok := ch.(MediaChannel)
	if !ok {
		return fmt.Errorf("channel %q does not support media", channelName)
	}
	return mc.SendMedia(ctx, to, media)
}

// SendTyping sends a typing indicator, silently doing nothing if the
// channel doesn't support presence.
func (m *Manager) SendTyping(ctx context.Context, channelName, to string) {
	ch, ok := m.lookup(channelName)
	if !ok {
		return
	}
	if pc, ok := ch.(PresenceChannel); ok {
		_ = pc.SendTyping(ctx, to)
	}
}

// MarkRead marks messages as read, silently doing nothing if the channel
// doesn't support presence.
func (m *Manager) MarkRead(ctx context.Context, channelName, chatID string, messageIDs []string) {
	ch, ok := m.lookup(channelName)
	if !ok {
		return
	}
	if pc, ok := ch.(PresenceChannel); ok {
		_ = pc.MarkRead(ctx, chatID, messageIDs)
	}
}

// Channel returns a specific registered channel by name.
func (m *Manager) Channel(name string) (Channel, bool) {
	return m.lookup(name)
}

// HealthAll reports health for every registered channel.
func (m *Manager) HealthAll() map[string]HealthStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]HealthStatus, len(m.channels))
	for name, ch := range m.channels {
		out[name] = ch.Health()
	}
	return out
}

// HasChannels reports whether at least one channel is registered.
func (m *Manager) HasChannels() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.channels) > 0
}

func (m *Manager) lookup(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.channels[name]
	return ch, ok
}

func (m *Manager) listenChannel(ch Channel) {
	incoming := ch.Receive()
	for {
		select {
		case msg, ok := <-incoming:
			if !ok {
				return
			}
			select {
			case m.messages <- msg:
			case <-m.ctx.Done():
				return
			}
		case <-m.ctx.Done():
			return
		}
	}
}

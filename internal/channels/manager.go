package channels

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bofamily/bo/internal/bus"
)

// Manager owns the registered channels: lifecycle plus the outbound
// dispatch loop that routes bus messages to the right transport.
type Manager struct {
	mu       sync.RWMutex
	channels map[string]Channel
	bus      *bus.MessageBus
	cancel   context.CancelFunc
}

func NewManager(msgBus *bus.MessageBus) *Manager {
	return &Manager{
		channels: make(map[string]Channel),
		bus:      msgBus,
	}
}

// Register adds a channel before StartAll.
func (m *Manager) Register(c Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[c.Name()] = c
}

// Get returns a registered channel by name.
func (m *Manager) Get(name string) (Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[name]
	return c, ok
}

// StartAll starts every channel and the outbound dispatcher.
func (m *Manager) StartAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dispatchCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	go m.dispatchOutbound(dispatchCtx)

	for name, channel := range m.channels {
		slog.Info("starting channel", "channel", name)
		if err := channel.Start(ctx); err != nil {
			slog.Error("channel start failed", "channel", name, "error", err)
		}
	}
	return nil
}

// StopAll stops the dispatcher and every channel.
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cancel != nil {
		m.cancel()
	}
	for name, channel := range m.channels {
		if err := channel.Stop(ctx); err != nil {
			slog.Error("channel stop failed", "channel", name, "error", err)
		}
	}
	return nil
}

func (m *Manager) dispatchOutbound(ctx context.Context) {
	for {
		msg, ok := m.bus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		channel, found := m.Get(msg.Channel)
		if !found {
			slog.Warn("outbound message for unknown channel", "channel", msg.Channel)
			continue
		}
		if err := channel.Send(ctx, msg); err != nil {
			slog.Error("outbound send failed", "channel", msg.Channel, "error", err)
		}
	}
}

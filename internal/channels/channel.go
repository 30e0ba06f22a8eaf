// Package channels is the transport abstraction layer: each channel
// connects one messaging surface (Telegram, the self-chat observer) to
// the router via the message bus.
package channels

import (
	"context"

	"github.com/bofamily/bo/internal/bus"
)

// Channel is implemented by every transport.
type Channel interface {
	// Name returns the channel identifier.
	Name() string

	// Start begins listening. Non-blocking after setup.
	Start(ctx context.Context) error

	// Stop shuts the channel down.
	Stop(ctx context.Context) error

	// Send delivers one outbound message.
	Send(ctx context.Context, msg bus.OutboundMessage) error

	// IsRunning reports whether the channel is processing messages.
	IsRunning() bool
}

// BaseChannel holds the pieces every channel shares. Implementations
// embed it.
type BaseChannel struct {
	name    string
	bus     *bus.MessageBus
	running bool
}

func NewBaseChannel(name string, msgBus *bus.MessageBus) *BaseChannel {
	return &BaseChannel{name: name, bus: msgBus}
}

func (c *BaseChannel) Name() string            { return c.name }
func (c *BaseChannel) IsRunning() bool         { return c.running }
func (c *BaseChannel) SetRunning(running bool) { c.running = running }
func (c *BaseChannel) Bus() *bus.MessageBus    { return c.bus }

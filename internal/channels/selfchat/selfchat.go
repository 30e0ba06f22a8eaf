// Package selfchat observes the operator's own message stream and
// routes "Bo "-prefixed messages into the pipeline.
package selfchat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bofamily/bo/internal/bus"
	"github.com/bofamily/bo/internal/channels"
	"github.com/bofamily/bo/internal/config"
	"github.com/bofamily/bo/internal/identity"
	"github.com/bofamily/bo/internal/store"
)

// TriggerPrefix marks a message addressed to the assistant. The prefix
// alone, with nothing after it, is not a trigger.
const TriggerPrefix = "Bo "

// maxSelfChatChars is the hard outbound bound for one send.
const maxSelfChatChars = 2000

// Event is one observed message from the self-chat surface.
type Event struct {
	GUID       string
	Text       string
	Sender     string // sender phone as observed, canonicalized here
	ChatID     string // conversation identifier; empty or == sender means self-chat
	IsFromMe   bool
	IsReaction bool
}

// Watcher yields observed events until its channel closes or the
// context ends.
type Watcher interface {
	Watch(ctx context.Context) (<-chan Event, error)
	Close() error
}

// Emitter delivers a message on the self-chat surface and returns the
// guid of the message it created.
type Emitter interface {
	SendMessage(ctx context.Context, to, body string) (string, error)
}

// Channel gates observed events through the trigger rules and the
// dedup layers before publishing them inbound.
type Channel struct {
	*channels.BaseChannel
	watcher Watcher
	emitter Emitter
	users   store.UserStore
	replied store.SelfRepliedStore
	agents  map[string]struct{} // canonical phones from config

	guids    *ring // observed message guids
	pairs    *ring // (sender, stripped text) pairs
	bodies   *ring // recent inbound bodies
	replies  *ring // recent outbound bodies, to drop echoes
	stopFunc context.CancelFunc
	done     chan struct{}
}

func New(cfg config.SelfChatConfig, msgBus *bus.MessageBus, watcher Watcher, emitter Emitter, users store.UserStore, replied store.SelfRepliedStore) *Channel {
	agents := make(map[string]struct{}, len(cfg.AgentNumbers))
	for _, n := range cfg.AgentNumbers {
		agents[identity.Canonical(n)] = struct{}{}
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelSelfChat, msgBus),
		watcher:     watcher,
		emitter:     emitter,
		users:       users,
		replied:     replied,
		agents:      agents,
		guids:       newRing(100),
		pairs:       newRing(100),
		bodies:      newRing(50),
		replies:     newRing(50),
	}
}

// Start consumes watcher events until the context ends.
func (c *Channel) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	c.stopFunc = cancel
	c.done = make(chan struct{})

	events, err := c.watcher.Watch(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("start self-chat watcher: %w", err)
	}
	c.SetRunning(true)

	go func() {
		defer close(c.done)
		for {
			select {
			case <-runCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				c.HandleEvent(runCtx, ev)
			}
		}
	}()
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.stopFunc != nil {
		c.stopFunc()
	}
	if c.done != nil {
		<-c.done
	}
	return c.watcher.Close()
}

// HandleEvent applies the trigger gates and dedup layers to one
// observed message. Exported for tests.
func (c *Channel) HandleEvent(ctx context.Context, ev Event) {
	// The cardinal rule: never react to our own messages. The replied
	// table catches replies observed after a restart, past the ring.
	if ev.IsFromMe {
		return
	}
	if ev.IsReaction {
		return
	}
	if ev.GUID != "" {
		if seen, err := c.replied.HasReplied(ctx, ev.GUID); err == nil && seen {
			return
		}
		if !c.guids.remember(ev.GUID) {
			return
		}
	}

	if !strings.HasPrefix(ev.Text, TriggerPrefix) {
		return
	}
	stripped := strings.TrimSpace(ev.Text[len(TriggerPrefix):])
	if stripped == "" {
		return
	}

	sender := identity.Canonical(ev.Sender)
	if !c.authorized(ctx, sender, ev) {
		slog.Debug("self-chat trigger from unauthorized sender ignored", "sender", sender)
		return
	}

	if !c.pairs.remember(sender + "\x00" + stripped) {
		return
	}
	if c.replies.contains(ev.Text) || c.replies.contains(stripped) {
		return
	}
	if !c.bodies.remember(stripped) {
		return
	}

	if !c.Bus().PublishInbound(bus.InboundMessage{
		Channel: bus.ChannelSelfChat,
		Sender:  sender,
		Content: stripped,
		GUID:    ev.GUID,
	}) {
		slog.Warn("inbound queue full, self-chat message dropped", "sender", sender)
	}
}

// authorized allows the self-chat conversation itself, plus senders in
// the agent-trigger set (config numbers or users flagged in the store).
func (c *Channel) authorized(ctx context.Context, sender string, ev Event) bool {
	if ev.ChatID == "" || identity.Canonical(ev.ChatID) == sender {
		return true
	}
	if _, ok := c.agents[sender]; ok {
		return true
	}
	u, err := c.users.GetByPhone(ctx, sender)
	if err != nil {
		return false
	}
	return u.AgentTrigger
}

// Send emits the message and records its guid so the watcher never
// routes it back through the pipeline. Phone recipients go out in
// E.164 form; group chat ids pass through unchanged.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	to := msg.To
	if to == "" {
		to = msg.ChatID
	}
	to = identity.E164(to)

	body := msg.Content
	if runes := []rune(body); len(runes) > maxSelfChatChars {
		body = string(runes[:maxSelfChatChars-3]) + "..."
	}

	guid, err := c.emitter.SendMessage(ctx, to, body)
	if err != nil {
		return fmt.Errorf("self-chat send: %w", err)
	}
	c.replies.remember(body)
	if guid != "" {
		if err := c.replied.MarkReplied(ctx, guid); err != nil {
			slog.Warn("could not persist replied guid", "guid", guid, "error", err)
		}
	}
	return nil
}

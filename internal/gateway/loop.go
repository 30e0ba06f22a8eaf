// Package gateway pumps messages between the transport bus and the
// router pipeline, translating router outcomes into deliveries.
package gateway

import (
	"context"
	"errors"
	"log/slog"

	"github.com/bofamily/bo/internal/bus"
	"github.com/bofamily/bo/internal/identity"
	"github.com/bofamily/bo/internal/router"
	"github.com/bofamily/bo/internal/tenant"
)

const unknownSenderReply = "I couldn't identify who you are. Ask a family admin to add you."

// Handler is the router surface the loop drives.
type Handler interface {
	Handle(ctx context.Context, req router.Request) (*router.Output, error)
}

// Loop consumes inbound messages, routes them, and publishes the
// resulting deliveries.
type Loop struct {
	bus     *bus.MessageBus
	handler Handler
	log     *slog.Logger
}

func New(msgBus *bus.MessageBus, handler Handler, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{bus: msgBus, handler: handler, log: log}
}

// Run processes messages until the context ends.
func (l *Loop) Run(ctx context.Context) error {
	for {
		msg, ok := l.bus.ConsumeInbound(ctx)
		if !ok {
			return ctx.Err()
		}
		l.Process(ctx, msg)
	}
}

// Process routes one inbound message. Exported for tests.
func (l *Loop) Process(ctx context.Context, in bus.InboundMessage) {
	out, err := l.handler.Handle(ctx, router.Request{
		Owner:   in.Sender,
		Message: in.Content,
		ChatID:  in.ChatID,
	})
	if err != nil {
		// Telegram strangers get pointed at onboarding; the self-chat
		// surface stays silent on identity failures.
		switch {
		case errors.Is(err, tenant.ErrUnknownPrincipal):
			if in.Channel == bus.ChannelTelegram {
				l.deliverToOrigin(in, unknownSenderReply)
			}
		case errors.Is(err, tenant.ErrNoFamily):
			if in.Channel == bus.ChannelTelegram {
				l.deliverToOrigin(in, "You're not in a family yet. Ask a family admin to add you.")
			}
		default:
			l.log.Error("routing failed", "channel", in.Channel, "error", err)
		}
		return
	}
	if out == nil {
		// Rate-limit silence.
		return
	}

	if out.Reply != "" {
		l.deliverToOrigin(in, out.Reply)
	}
	if out.Dispatch != nil {
		l.deliverDispatch(in, out.Dispatch)
	}
	if out.Notification != nil {
		l.deliverDispatch(in, out.Notification)
	}
}

// deliverToOrigin answers on the surface the message came from.
func (l *Loop) deliverToOrigin(in bus.InboundMessage, text string) {
	msg := bus.OutboundMessage{Channel: in.Channel, Content: text}
	switch in.Channel {
	case bus.ChannelTelegram:
		if in.ChatID != "" {
			msg.ChatID = in.ChatID
		} else {
			// A Telegram DM's chat id is the sender's own id.
			msg.ChatID = identity.TelegramID(in.Sender)
		}
	default:
		msg.To = identity.Canonical(in.Sender)
	}
	l.publish(msg)
}

// deliverDispatch sends the cross-recipient body, then acknowledges the
// sender on their own surface.
func (l *Loop) deliverDispatch(in bus.InboundMessage, d *router.Dispatch) {
	if d.SendBody != "" {
		msg := bus.OutboundMessage{Content: d.SendBody}
		switch {
		case d.SendToTelegramID != "":
			msg.Channel = bus.ChannelTelegram
			msg.ChatID = d.SendToTelegramID
		case d.SendToGroup != "":
			msg.Channel = bus.ChannelTelegram
			msg.ChatID = d.SendToGroup
		default:
			msg.Channel = bus.ChannelSelfChat
			msg.To = d.SendTo
		}
		l.publish(msg)
	}
	if d.ReplyToSender != "" {
		l.deliverToOrigin(in, d.ReplyToSender)
	}
}

func (l *Loop) publish(msg bus.OutboundMessage) {
	if !l.bus.PublishOutbound(msg) {
		l.log.Warn("outbound queue full, delivery dropped", "channel", msg.Channel)
	}
}

// Package bus carries messages between transport channels and the
// router pipeline.
package bus

import (
	"context"
	"time"
)

// Channel names.
const (
	ChannelTelegram = "telegram"
	ChannelSelfChat = "selfchat"
)

// InboundMessage is one message received from a transport.
type InboundMessage struct {
	Channel    string    `json:"channel"`
	Sender     string    `json:"sender"` // raw owner token: phone or telegram:<id>
	ChatID     string    `json:"chat_id,omitempty"`
	Content    string    `json:"content"`
	GUID       string    `json:"guid,omitempty"`
	IsFromMe   bool      `json:"is_from_me,omitempty"`
	IsReaction bool      `json:"is_reaction,omitempty"`
	Date       time.Time `json:"date,omitempty"`
}

// OutboundMessage is one message to deliver through a transport.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id,omitempty"` // telegram chat id
	To      string `json:"to,omitempty"`      // canonical phone for self-chat delivery
	Content string `json:"content"`
}

// MessageBus is the in-process queue pair connecting channels to the
// router loop.
type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, 256),
		outbound: make(chan OutboundMessage, 256),
	}
}

// PublishInbound queues a received message, dropping when full rather
// than blocking a transport poll loop.
func (b *MessageBus) PublishInbound(msg InboundMessage) bool {
	select {
	case b.inbound <- msg:
		return true
	default:
		return false
	}
}

// ConsumeInbound blocks for the next inbound message.
func (b *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case <-ctx.Done():
		return InboundMessage{}, false
	case msg := <-b.inbound:
		return msg, true
	}
}

// PublishOutbound queues a message for delivery.
func (b *MessageBus) PublishOutbound(msg OutboundMessage) bool {
	select {
	case b.outbound <- msg:
		return true
	default:
		return false
	}
}

// ConsumeOutbound blocks for the next outbound message.
func (b *MessageBus) ConsumeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case <-ctx.Done():
		return OutboundMessage{}, false
	case msg := <-b.outbound:
		return msg, true
	}
}

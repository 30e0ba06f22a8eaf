package gateway

import (
	"context"
	"fmt"

	"github.com/bofamily/bo/internal/bus"
	"github.com/bofamily/bo/internal/store"
)

// AdminNotifier delivers out-of-band alerts to the system admin on
// whichever surface they have configured.
type AdminNotifier struct {
	users store.UserStore
	bus   *bus.MessageBus
}

func NewAdminNotifier(users store.UserStore, msgBus *bus.MessageBus) *AdminNotifier {
	return &AdminNotifier{users: users, bus: msgBus}
}

func (n *AdminNotifier) NotifyAdmin(ctx context.Context, text string) error {
	admin, err := n.users.GetAdmin(ctx)
	if err != nil {
		return fmt.Errorf("admin lookup: %w", err)
	}
	msg := bus.OutboundMessage{Content: text}
	switch {
	case admin.TelegramID != "":
		msg.Channel = bus.ChannelTelegram
		msg.ChatID = admin.TelegramID
	case admin.Phone != "":
		msg.Channel = bus.ChannelSelfChat
		msg.To = admin.Phone
	default:
		return fmt.Errorf("admin has no reachable surface")
	}
	if !n.bus.PublishOutbound(msg) {
		return fmt.Errorf("outbound queue full")
	}
	return nil
}

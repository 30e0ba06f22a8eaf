// Package telegram connects the Telegram Bot API to the router via
// long polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/bofamily/bo/internal/bus"
	"github.com/bofamily/bo/internal/channels"
	"github.com/bofamily/bo/internal/config"
	"github.com/bofamily/bo/internal/identity"
	"github.com/bofamily/bo/internal/store"
)

// maxTelegramChars is Telegram's practical payload bound for one send.
const maxTelegramChars = 4000

// Channel long-polls the Bot API. Known senders route into the
// pipeline; unknown senders get a per-id budget and are otherwise
// dropped silently.
type Channel struct {
	*channels.BaseChannel
	bot     *telego.Bot
	cfg     config.TelegramConfig
	users   store.UserStore
	unknown *channels.UnknownSenderLimiter

	sendMu   sync.Mutex
	lastSend time.Time

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, msgBus *bus.MessageBus, users store.UserStore) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &Channel{
		BaseChannel: channels.NewBaseChannel(bus.ChannelTelegram, msgBus),
		bot:         bot,
		cfg:         cfg,
		users:       users,
		unknown:     channels.NewUnknownSenderLimiter(cfg.UnknownSenderRPM),
	}, nil
}

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.SetRunning(true)
	slog.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the goroutine so Telegram releases
// the getUpdates lock.
func (c *Channel) Stop(_ context.Context) error {
	c.SetRunning(false)
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			slog.Warn("telegram polling goroutine did not exit in time")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || msg.Text == "" {
		return
	}
	senderID := strconv.FormatInt(msg.From.ID, 10)
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	_, lookupErr := c.users.GetByTelegramID(ctx, senderID)
	known := lookupErr == nil

	// Meta-commands answer with the sender's id for bootstrapping.
	// Unknown senders get them too, inside their per-id budget.
	switch strings.TrimSpace(msg.Text) {
	case "/start", "/myid", "/id":
		if !known && !c.unknown.Allow(senderID) {
			return
		}
		c.reply(ctx, msg.Chat.ID, fmt.Sprintf("Your Telegram id is %s. Ask a family admin to add you with it.", senderID))
		return
	}

	if !known {
		// Silent drop; the budget just bounds the log volume.
		if c.unknown.Allow(senderID) {
			slog.Info("message from unknown telegram sender dropped", "sender", senderID)
		}
		return
	}

	inbound := bus.InboundMessage{
		Channel: bus.ChannelTelegram,
		Sender:  identity.TelegramPrefix + senderID,
		Content: msg.Text,
		Date:    time.Unix(msg.Date, 0),
	}
	isGroup := msg.Chat.Type == "group" || msg.Chat.Type == "supergroup"
	if isGroup {
		inbound.ChatID = chatID
	}
	if !c.Bus().PublishInbound(inbound) {
		slog.Warn("inbound queue full, telegram message dropped", "sender", senderID)
	}
}

// Send delivers one outbound message, honoring the global inter-reply
// spacing so bursts coalesce instead of flooding a chat.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram send: bad chat id %q: %w", msg.ChatID, err)
	}
	c.waitReplySpacing(ctx)
	return c.reply(ctx, chatID, msg.Content)
}

func (c *Channel) reply(ctx context.Context, chatID int64, text string) error {
	if len([]rune(text)) > maxTelegramChars {
		text = string([]rune(text)[:maxTelegramChars-3]) + "..."
	}
	_, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), text))
	if err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

func (c *Channel) waitReplySpacing(ctx context.Context) {
	spacing := time.Duration(c.cfg.ReplyRateLimitMS) * time.Millisecond
	if spacing <= 0 {
		return
	}
	c.sendMu.Lock()
	wait := spacing - time.Since(c.lastSend)
	if wait > 0 {
		c.sendMu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
		}
		c.sendMu.Lock()
	}
	c.lastSend = time.Now()
	c.sendMu.Unlock()
}

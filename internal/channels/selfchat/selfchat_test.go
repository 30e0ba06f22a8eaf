package selfchat

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/bus"
	"github.com/bofamily/bo/internal/config"
	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/store/storetest"
)

type stubWatcher struct{ events chan Event }

func (w *stubWatcher) Watch(context.Context) (<-chan Event, error) { return w.events, nil }
func (w *stubWatcher) Close() error                                { return nil }

type stubEmitter struct {
	sent []bus.OutboundMessage
	n    int
}

func (e *stubEmitter) SendMessage(_ context.Context, to, body string) (string, error) {
	e.sent = append(e.sent, bus.OutboundMessage{To: to, Content: body})
	e.n++
	return fmt.Sprintf("out-guid-%d", e.n), nil
}

func newTestChannel(t *testing.T, cfg config.SelfChatConfig) (*Channel, *bus.MessageBus, *store.Stores, *stubEmitter) {
	t.Helper()
	stores := storetest.New()
	msgBus := bus.NewMessageBus()
	emitter := &stubEmitter{}
	ch := New(cfg, msgBus, &stubWatcher{events: make(chan Event)}, emitter, stores.Users, stores.SelfReplied)
	return ch, msgBus, stores, emitter
}

func drainInbound(msgBus *bus.MessageBus) []bus.InboundMessage {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	var out []bus.InboundMessage
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return out
		}
		out = append(out, msg)
	}
}

func TestTriggerPrefixGating(t *testing.T) {
	ch, msgBus, _, _ := newTestChannel(t, config.SelfChatConfig{})
	ctx := context.Background()

	cases := []struct {
		text   string
		routed bool
	}{
		{"Bo what's the weather", true},
		{"Bo ", false},
		{"Bo    ", false},
		{"bo lowercase prefix", false},
		{"Boring day today", false},
		{"hey Bo what's up", false},
	}
	for i, tc := range cases {
		ch.HandleEvent(ctx, Event{GUID: fmt.Sprintf("g%d", i), Text: tc.text, Sender: "5551234567"})
	}

	got := drainInbound(msgBus)
	require.Len(t, got, 1)
	require.Equal(t, "what's the weather", got[0].Content)
	require.Equal(t, "5551234567", got[0].Sender)
}

func TestOwnMessagesNeverRouted(t *testing.T) {
	ch, msgBus, _, _ := newTestChannel(t, config.SelfChatConfig{})
	ctx := context.Background()

	ch.HandleEvent(ctx, Event{GUID: "g1", Text: "Bo hello", Sender: "5551234567", IsFromMe: true})
	ch.HandleEvent(ctx, Event{GUID: "g2", Text: "Bo hello", Sender: "5551234567", IsReaction: true})

	require.Empty(t, drainInbound(msgBus))
}

func TestGUIDDedup(t *testing.T) {
	ch, msgBus, _, _ := newTestChannel(t, config.SelfChatConfig{})
	ctx := context.Background()

	ev := Event{GUID: "same", Text: "Bo remind me", Sender: "5551234567"}
	ch.HandleEvent(ctx, ev)
	ch.HandleEvent(ctx, ev)

	require.Len(t, drainInbound(msgBus), 1)
}

func TestRepliedGUIDSkipped(t *testing.T) {
	ch, msgBus, stores, _ := newTestChannel(t, config.SelfChatConfig{})
	ctx := context.Background()

	require.NoError(t, stores.SelfReplied.MarkReplied(ctx, "old-reply"))
	ch.HandleEvent(ctx, Event{GUID: "old-reply", Text: "Bo hello", Sender: "5551234567"})

	require.Empty(t, drainInbound(msgBus))
}

func TestAgentNumberAuthorization(t *testing.T) {
	ch, msgBus, stores, _ := newTestChannel(t, config.SelfChatConfig{AgentNumbers: []string{"5559990000"}})
	ctx := context.Background()

	trusted := &store.User{FirstName: "Cara", Phone: "5558887777", AgentTrigger: true}
	require.NoError(t, stores.Users.Create(ctx, trusted))

	// Group-chat events (chat id differs from sender) require the agent set.
	ch.HandleEvent(ctx, Event{GUID: "g1", Text: "Bo ping", Sender: "5559990000", ChatID: "group-1"})
	ch.HandleEvent(ctx, Event{GUID: "g2", Text: "Bo ping two", Sender: "5558887777", ChatID: "group-1"})
	ch.HandleEvent(ctx, Event{GUID: "g3", Text: "Bo ping three", Sender: "5551112222", ChatID: "group-1"})
	// Self-chat is always allowed.
	ch.HandleEvent(ctx, Event{GUID: "g4", Text: "Bo ping four", Sender: "5551112222", ChatID: "5551112222"})

	got := drainInbound(msgBus)
	require.Len(t, got, 3)
	require.Equal(t, "ping", got[0].Content)
	require.Equal(t, "ping two", got[1].Content)
	require.Equal(t, "ping four", got[2].Content)
}

func TestSendMarksRepliedAndSuppressesEcho(t *testing.T) {
	ch, msgBus, stores, emitter := newTestChannel(t, config.SelfChatConfig{})
	ctx := context.Background()

	require.NoError(t, ch.Send(ctx, bus.OutboundMessage{To: "5551234567", Content: "Dinner at 6 works."}))
	require.Len(t, emitter.sent, 1)
	require.Equal(t, "+15551234567", emitter.sent[0].To)

	seen, err := stores.SelfReplied.HasReplied(ctx, "out-guid-1")
	require.NoError(t, err)
	require.True(t, seen)

	// The watcher observing our own reply body must not loop it back,
	// even if the platform drops the is-from-me flag.
	ch.HandleEvent(ctx, Event{GUID: "echo", Text: "Bo Dinner at 6 works.", Sender: "5551234567"})
	require.Empty(t, drainInbound(msgBus))
}

func TestSendTruncatesAndFormatsRecipient(t *testing.T) {
	ch, _, _, emitter := newTestChannel(t, config.SelfChatConfig{})
	ctx := context.Background()

	long := strings.Repeat("x", 2500)
	require.NoError(t, ch.Send(ctx, bus.OutboundMessage{To: "(555) 765-4321", Content: long}))

	require.Len(t, emitter.sent, 1)
	require.Equal(t, "+15557654321", emitter.sent[0].To)
	body := emitter.sent[0].Content
	require.Len(t, []rune(body), 2000)
	require.True(t, strings.HasSuffix(body, "..."))

	// Non-phone recipients (group chat ids) pass through untouched.
	require.NoError(t, ch.Send(ctx, bus.OutboundMessage{ChatID: "group-7", Content: "hi"}))
	require.Equal(t, "group-7", emitter.sent[1].To)
}

func TestRingEviction(t *testing.T) {
	r := newRing(3)
	require.True(t, r.remember("a"))
	require.True(t, r.remember("b"))
	require.True(t, r.remember("c"))
	require.False(t, r.remember("b"))
	require.True(t, r.remember("d")) // evicts a
	require.True(t, r.remember("a"))
	require.False(t, r.contains("b"))
}

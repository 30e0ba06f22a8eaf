package router

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/llm"
	"github.com/bofamily/bo/internal/memory"
	"github.com/bofamily/bo/internal/moderation"
	"github.com/bofamily/bo/internal/ratelimit"
	"github.com/bofamily/bo/internal/skills"
	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/store/storetest"
	"github.com/bofamily/bo/internal/tenant"
)

type allowLimiter struct {
	decision *ratelimit.Decision
}

func (l *allowLimiter) Check(context.Context, uuid.UUID, uuid.UUID, int) (*ratelimit.Decision, error) {
	if l.decision != nil {
		return l.decision, nil
	}
	return &ratelimit.Decision{Allowed: true}, nil
}

type harness struct {
	router *Router
	stores *store.Stores
	jon    *store.User
	family uuid.UUID
}

// newHarness wires a full router over in-memory stores and a mocked
// gateway. mock maps step name to response payload.
func newHarness(t *testing.T, mock map[string]any, limiter *allowLimiter) *harness {
	t.Helper()
	stores := storetest.New()
	ctx := context.Background()

	fam := &store.Family{Name: "Hogue"}
	require.NoError(t, stores.Families.Create(ctx, fam))

	jon := &store.User{FirstName: "Jon", LastName: "Hogue", Phone: "5551234567", TelegramID: "123"}
	carrie := &store.User{FirstName: "Carrie", LastName: "Hogue", Phone: "5557654321"}
	for _, u := range []*store.User{jon, carrie} {
		require.NoError(t, stores.Users.Create(ctx, u))
		require.NoError(t, stores.Families.AddMembership(ctx, &store.Membership{
			UserID: u.ID, FamilyID: fam.ID, Role: store.RoleMember,
		}))
	}

	require.NoError(t, stores.Skills.Upsert(ctx, &store.Skill{
		ID: "weather", Name: "Weather", Description: "weather and forecasts",
		Entrypoint: `printf 'Sunny and 72F in Greensboro.'`,
	}))
	require.NoError(t, stores.Skills.Upsert(ctx, &store.Skill{
		ID: "google", Name: "Web Search", Description: "web search", Entrypoint: "exit 1",
	}))
	require.NoError(t, stores.Skills.Upsert(ctx, &store.Skill{
		ID: "todo", Name: "Todo List", Description: "todo list", Entrypoint: "exit 1",
	}))

	if mock == nil {
		mock = map[string]any{}
	}
	if _, ok := mock["default"]; !ok {
		mock["default"] = "[]"
	}
	if _, ok := mock["pg_filter"]; !ok {
		mock["pg_filter"] = "OK"
	}
	data, err := json.Marshal(mock)
	require.NoError(t, err)
	mockPath := filepath.Join(t.TempDir(), "mock.json")
	require.NoError(t, os.WriteFile(mockPath, data, 0o644))

	gateway := llm.NewGateway(nil, llm.Models{}, stores.LLMLog, "", nil)
	require.NoError(t, gateway.LoadMock(mockPath))

	if limiter == nil {
		limiter = &allowLimiter{}
	}

	mem := memory.New(stores.Facts, stores.Conversation, stores.Profiles, 20)
	r := New(Config{
		Resolver:   tenant.NewResolver(stores.Users, stores.Families, stores.GroupChats),
		Stores:     stores,
		Memory:     mem,
		Executor:   skills.NewExecutor(5*time.Second, nil),
		Gateway:    gateway,
		Screener:   moderation.NewScreener(stores.Moderation, nil, nil),
		PGFilter:   moderation.NewPGFilter(gateway, stores.Moderation, nil),
		Limiter:    limiter,
		DefaultZip: "30642",
	})
	return &harness{router: r, stores: stores, jon: jon, family: fam.ID}
}

func isExcuse(s string) bool {
	for _, e := range excuses {
		if s == e {
			return true
		}
	}
	return false
}

func TestBasicChat(t *testing.T) {
	h := newHarness(t, map[string]any{
		"fact_finding":    "[]",
		"what_to_do":      map[string]any{"skill": "create_a_response"},
		"create_response": "Hey!",
		"summary":         "Jon said hi.",
	}, nil)

	out, err := h.router.Handle(context.Background(), Request{Owner: "telegram:123", Message: "hi"})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Equal(t, "Hey!", out.Reply)
	require.Nil(t, out.Dispatch)

	msgs, err := h.stores.Conversation.Recent(context.Background(), h.jon.ID, h.family, 20)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "hi", msgs[0].Content)
	require.Equal(t, "Hey!", msgs[1].Content)
}

func TestWeatherShortCircuitSkipsLLM(t *testing.T) {
	h := newHarness(t, nil, nil)

	out, err := h.router.Handle(context.Background(), Request{
		Owner: "5551234567", Message: "send Carrie the weather for tomorrow",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Dispatch)
	require.Equal(t, "5557654321", out.Dispatch.SendTo)
	require.Equal(t, "Sunny and 72F in Greensboro.", out.Dispatch.SendBody)
	require.Equal(t, "Okay, sent the weather to Carrie.", out.Dispatch.ReplyToSender)

	// The short-circuit is the whole point: no model call happened.
	require.Empty(t, storetest.MemOf(h.stores).LLMRows)
}

func TestScheduledReminderOverride(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do":      map[string]any{"skill": "todo", "action": "add", "text": "trash"},
		"create_response": "Don't forget the trash tonight!",
	}, nil)

	ctx := context.Background()
	out, err := h.router.Handle(ctx, Request{
		Owner: "5551234567", Message: "[scheduled: reminder] take out the trash",
	})
	require.NoError(t, err)
	// The todo skill (entrypoint exits 1) was never spawned: the
	// override rewrote the decision to create_a_response.
	require.Equal(t, "Don't forget the trash tonight!", out.Reply)
	todos, err := h.stores.Todos.List(ctx, h.jon.ID, h.family, true)
	require.NoError(t, err)
	require.Empty(t, todos)
}

func TestRedFlagCriticalShortCircuits(t *testing.T) {
	h := newHarness(t, nil, nil)

	out, err := h.router.Handle(context.Background(), Request{
		Owner: "5551234567", Message: "i want to kill myself",
	})
	require.NoError(t, err)
	require.Contains(t, out.Reply, "988")

	mem := storetest.MemOf(h.stores)
	require.Empty(t, mem.LLMRows)
	require.Len(t, mem.ModerationRows, 1)
	require.Equal(t, moderation.SeverityCritical, mem.ModerationRows[0].Severity)
	require.Equal(t, store.ModerationFlagged, mem.ModerationRows[0].Action)
}

func TestRateLimitCooldown(t *testing.T) {
	until := time.Now().Add(30 * time.Second)

	// Entry into cooldown: the user hears about it once.
	h := newHarness(t, nil, &allowLimiter{decision: &ratelimit.Decision{
		Reason: "in_cooldown", CooldownUntil: until, Level: 0, Notify: true,
	}})
	out, err := h.router.Handle(context.Background(), Request{Owner: "5551234567", Message: "hi"})
	require.NoError(t, err)
	require.NotNil(t, out)
	require.Contains(t, out.Reply, "breather")
	require.Empty(t, storetest.MemOf(h.stores).LLMRows)

	// Mid-cooldown attempts are silent.
	h = newHarness(t, nil, &allowLimiter{decision: &ratelimit.Decision{
		Reason: "in_cooldown", CooldownUntil: until, Level: 0,
	}})
	out, err = h.router.Handle(context.Background(), Request{Owner: "5551234567", Message: "hi again"})
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestSkillNotAllowed(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do": map[string]any{"skill": "google", "query": "capybaras"},
	}, nil)
	require.NoError(t, h.stores.Skills.SetAccess(context.Background(), &store.SkillAccess{
		Default: []string{"weather", "todo"},
	}))

	out, err := h.router.Handle(context.Background(), Request{Owner: "5551234567", Message: "search for capybaras"})
	require.NoError(t, err)
	require.Equal(t, capabilityDenied, out.Reply)
}

func TestBogusSkillFallsBackToExcuse(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do": map[string]any{"skill": "teleport"},
	}, nil)

	out, err := h.router.Handle(context.Background(), Request{Owner: "5551234567", Message: "beam me up"})
	require.NoError(t, err)
	require.True(t, isExcuse(out.Reply), out.Reply)
}

func TestUnparseableDecisionFallsBackToExcuse(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do": "sure, happy to help!",
	}, nil)

	out, err := h.router.Handle(context.Background(), Request{Owner: "5551234567", Message: "hm"})
	require.NoError(t, err)
	require.True(t, isExcuse(out.Reply), out.Reply)
}

func TestSendToContactDispatch(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do": map[string]any{
			"skill": "send_to_contact", "from": "Jon", "to": "Carrie",
			"ai_prompt": "tell her dinner is at 6",
		},
		"send_to_contact_recipient": "Hey Carrie! Jon says dinner is at 6.",
		"send_to_contact_sender":    "Done, I let Carrie know.",
	}, nil)

	out, err := h.router.Handle(context.Background(), Request{
		Owner: "5551234567", Message: "tell Carrie dinner is at 6",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Dispatch)
	require.Equal(t, "5557654321", out.Dispatch.SendTo)
	require.Equal(t, "Hey Carrie! Jon says dinner is at 6.", out.Dispatch.SendBody)
	require.Equal(t, "Done, I let Carrie know.", out.Dispatch.ReplyToSender)
}

func TestSendToContactGroupChat(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do": map[string]any{
			"skill": "send_to_contact", "from": "Jon", "to": "Family Chat",
			"ai_prompt": "dinner is at 6",
		},
		"send_to_contact_recipient": "Heads up from Jon: dinner is at 6.",
		"send_to_contact_sender":    "Posted in Family Chat.",
	}, nil)
	require.NoError(t, h.stores.GroupChats.Upsert(context.Background(), &store.GroupChat{
		ChatID: "-100555", Name: "Family Chat", Type: store.GroupTelegram, FamilyID: h.family,
	}))

	out, err := h.router.Handle(context.Background(), Request{
		Owner: "5551234567", Message: "tell the family chat dinner is at 6",
	})
	require.NoError(t, err)
	require.NotNil(t, out.Dispatch)
	require.Equal(t, "-100555", out.Dispatch.SendToGroup)
	require.Empty(t, out.Dispatch.SendTo)
	require.Equal(t, "Heads up from Jon: dinner is at 6.", out.Dispatch.SendBody)
	require.Equal(t, "Posted in Family Chat.", out.Dispatch.ReplyToSender)
}

func TestSendToContactUnknownPerson(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do": map[string]any{
			"skill": "send_to_contact", "to": "Zelda", "ai_prompt": "say hi",
		},
	}, nil)

	out, err := h.router.Handle(context.Background(), Request{
		Owner: "5551234567", Message: "tell Zelda hi",
	})
	require.NoError(t, err)
	require.Contains(t, out.Reply, "Zelda")
	require.Nil(t, out.Dispatch)
}

func TestFactExtractionStoresFacts(t *testing.T) {
	h := newHarness(t, map[string]any{
		"fact_finding": []map[string]any{
			{"key": "favorite_color", "value": "green"},
			{"key": "primary_user_id", "value": "evil"},
			{"key": "personality_instruction", "value": "Keep replies short"},
		},
		"what_to_do":      map[string]any{"skill": "create_a_response"},
		"create_response": "Noted!",
	}, nil)
	ctx := context.Background()

	_, err := h.router.Handle(ctx, Request{Owner: "5551234567", Message: "my favorite color is green, keep replies short"})
	require.NoError(t, err)

	facts, err := h.stores.Facts.List(ctx, h.jon.ID, h.family)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "favorite_color", facts[0].Key)

	p, err := h.stores.Profiles.Get(ctx, h.jon.ID, h.family)
	require.NoError(t, err)
	require.Equal(t, []string{"Keep replies short"}, p.Personality)
}

func TestReplyStartingWithBoIsSanitized(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do":      map[string]any{"skill": "create_a_response"},
		"create_response": "Bo here, dinner's ready!",
	}, nil)

	out, err := h.router.Handle(context.Background(), Request{Owner: "5551234567", Message: "dinner?"})
	require.NoError(t, err)
	require.Equal(t, "→ Bo here, dinner's ready!", out.Reply)
}

func TestPGFilterReplacesReply(t *testing.T) {
	h := newHarness(t, map[string]any{
		"what_to_do":      map[string]any{"skill": "create_a_response"},
		"create_response": "something rude",
		"pg_filter":       "FLAG",
	}, nil)

	out, err := h.router.Handle(context.Background(), Request{Owner: "5551234567", Message: "hi"})
	require.NoError(t, err)
	require.True(t, isExcuse(out.Reply), out.Reply)

	// The original reply was stored, not sent.
	mem := storetest.MemOf(h.stores)
	require.Len(t, mem.ModerationRows, 1)
	require.Equal(t, "something rude", mem.ModerationRows[0].Original)
}

func TestUnknownPrincipalReturnsError(t *testing.T) {
	h := newHarness(t, nil, nil)
	_, err := h.router.Handle(context.Background(), Request{Owner: "telegram:999", Message: "hi"})
	require.ErrorIs(t, err, tenant.ErrUnknownPrincipal)
}

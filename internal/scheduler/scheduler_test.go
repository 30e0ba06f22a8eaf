package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/store/storetest"
)

func TestParseRecurrenceShorthand(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	base := time.Date(2026, 3, 4, 9, 0, 0, 0, loc) // a Wednesday

	r, err := ParseRecurrence("daily 08:30")
	require.NoError(t, err)
	next, err := r.Next(base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 5, 8, 30, 0, 0, loc), next)

	// Before the firing time, same day.
	next, err = r.Next(time.Date(2026, 3, 4, 7, 0, 0, 0, loc))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 4, 8, 30, 0, 0, loc), next)

	r, err = ParseRecurrence("weekly monday 19:00")
	require.NoError(t, err)
	next, err = r.Next(base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 9, 19, 0, 0, 0, loc), next)
	require.Equal(t, time.Monday, next.Weekday())
}

func TestParseRecurrenceCron(t *testing.T) {
	r, err := ParseRecurrence("*/5 * * * *")
	require.NoError(t, err)
	base := time.Date(2026, 3, 4, 9, 2, 0, 0, time.UTC)
	next, err := r.Next(base)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 3, 4, 9, 5, 0, 0, time.UTC), next)
}

func TestParseRecurrenceRejectsGarbage(t *testing.T) {
	for _, rule := range []string{"", "sometimes", "daily", "daily 25:00", "weekly blursday 08:00"} {
		_, err := ParseRecurrence(rule)
		require.Error(t, err, rule)
	}
}

type testEnv struct {
	stores    *store.Stores
	sched     *Scheduler
	delivered []string
	muted     bool
	user      *store.User
	family    uuid.UUID
	now       time.Time
}

type stubCooldown struct{ env *testEnv }

func (c stubCooldown) InCooldown(context.Context, uuid.UUID) (bool, error) {
	return c.env.muted, nil
}

func newEnv(t *testing.T) *testEnv {
	t.Helper()
	stores := storetest.New()
	ctx := context.Background()

	fam := &store.Family{Name: "Hogue"}
	require.NoError(t, stores.Families.Create(ctx, fam))
	u := &store.User{FirstName: "Jon", Phone: "5551234567", Timezone: "UTC"}
	require.NoError(t, stores.Users.Create(ctx, u))
	require.NoError(t, stores.Families.AddMembership(ctx, &store.Membership{
		UserID: u.ID, FamilyID: fam.ID, Role: store.RoleOwner,
	}))

	env := &testEnv{stores: stores, user: u, family: fam.ID, now: time.Now().UTC()}
	env.sched = New(stores, stubCooldown{env}, func(_ context.Context, recipient *store.User, familyID uuid.UUID, text string) error {
		require.Equal(t, u.ID, recipient.ID)
		require.Equal(t, fam.ID, familyID)
		env.delivered = append(env.delivered, text)
		return nil
	}, time.Second, time.UTC, nil)
	env.sched.now = func() time.Time { return env.now }
	return env
}

func TestOneOffFiresExactlyOnce(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	fireAt := env.now.Add(-time.Minute)
	rem := &store.Reminder{
		FamilyID: env.family, CreatorID: env.user.ID, RecipientID: env.user.ID,
		Text: "take out the trash", Kind: store.ReminderOneOff, FireAt: &fireAt,
	}
	require.NoError(t, env.stores.Reminders.Create(ctx, rem))

	env.sched.Sweep(ctx)
	env.sched.Sweep(ctx)

	require.Len(t, env.delivered, 1)
	require.Equal(t, "[scheduled: reminder] take out the trash", env.delivered[0])

	got, err := env.stores.Reminders.Get(ctx, rem.ID, env.family)
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
}

func TestDueBoundary(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	atNow := env.now
	after := env.now.Add(time.Millisecond)
	for _, fireAt := range []time.Time{atNow, after} {
		f := fireAt
		require.NoError(t, env.stores.Reminders.Create(ctx, &store.Reminder{
			FamilyID: env.family, CreatorID: env.user.ID, RecipientID: env.user.ID,
			Text: "boundary", Kind: store.ReminderOneOff, FireAt: &f,
		}))
	}

	due, err := env.stores.Reminders.Due(ctx, env.now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	require.True(t, due[0].FireAt.Equal(atNow))
}

func TestRecurringAdvances(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	past := env.now.Add(-time.Minute)
	rem := &store.Reminder{
		FamilyID: env.family, CreatorID: env.user.ID, RecipientID: env.user.ID,
		Text: "meds", Kind: store.ReminderRecurring,
		Recurrence: "daily 08:00", NextFireAt: &past,
	}
	require.NoError(t, env.stores.Reminders.Create(ctx, rem))

	env.sched.Sweep(ctx)

	require.Len(t, env.delivered, 1)
	got, err := env.stores.Reminders.Get(ctx, rem.ID, env.family)
	require.NoError(t, err)
	require.NotNil(t, got.NextFireAt)
	require.True(t, got.NextFireAt.After(env.now))
	require.NotNil(t, got.LastFiredAt)

	// Advanced past now: the next sweep stays quiet.
	env.sched.Sweep(ctx)
	require.Len(t, env.delivered, 1)
}

func TestCooldownAdvancesQuietly(t *testing.T) {
	env := newEnv(t)
	env.muted = true
	ctx := context.Background()

	fireAt := env.now.Add(-time.Minute)
	rem := &store.Reminder{
		FamilyID: env.family, CreatorID: env.user.ID, RecipientID: env.user.ID,
		Text: "quiet", Kind: store.ReminderOneOff, FireAt: &fireAt,
	}
	require.NoError(t, env.stores.Reminders.Create(ctx, rem))

	env.sched.Sweep(ctx)

	require.Empty(t, env.delivered)
	got, err := env.stores.Reminders.Get(ctx, rem.ID, env.family)
	require.NoError(t, err)
	require.NotNil(t, got.SentAt)
}

func TestDailyEventsFireOncePerDay(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	// Make the user agent-enabled with an active family at mid-morning.
	env.user.AgentTrigger = true
	env.user.LastFamilyID = env.family
	env.now = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

	env.sched.Sweep(ctx)
	env.sched.Sweep(ctx)

	var starters int
	for _, text := range env.delivered {
		if text == "[scheduled: reminder] Morning check-in: say good morning and mention anything on today's plate." {
			starters++
		}
	}
	require.Equal(t, 1, starters)
}

func TestProactivePauseSuppressesDailyEvents(t *testing.T) {
	env := newEnv(t)
	ctx := context.Background()

	env.user.AgentTrigger = true
	env.user.LastFamilyID = env.family
	env.now = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	require.NoError(t, env.stores.Settings.Set(ctx, ProactivePausedKey, "true"))

	env.sched.Sweep(ctx)
	require.Empty(t, env.delivered)

	// One-off reminders still fire while proactive events are paused.
	fireAt := env.now.Add(-time.Minute)
	require.NoError(t, env.stores.Reminders.Create(ctx, &store.Reminder{
		FamilyID: env.family, CreatorID: env.user.ID, RecipientID: env.user.ID,
		Text: "pick up meds", Kind: store.ReminderOneOff, FireAt: &fireAt,
	}))
	env.sched.Sweep(ctx)
	require.Len(t, env.delivered, 1)
}

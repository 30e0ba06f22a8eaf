package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/store"
)

func TestCooldownDurationEscalation(t *testing.T) {
	want := []time.Duration{
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		240 * time.Second,
		600 * time.Second,
		1800 * time.Second,
		3600 * time.Second,
	}
	for level, d := range want {
		require.Equal(t, d, CooldownDuration(level))
	}
	// Past the table: pinned to the last entry.
	require.Equal(t, time.Hour, CooldownDuration(10))
	require.Equal(t, 30*time.Second, CooldownDuration(-3))
}

func TestNextLevelFirstViolation(t *testing.T) {
	now := time.Now()
	require.Equal(t, 0, NextLevel(-1, time.Time{}, now))
}

func TestNextLevelAdvancesAndCaps(t *testing.T) {
	now := time.Now()
	level := -1
	for i := 0; i < 10; i++ {
		level = NextLevel(level, now, now)
	}
	require.Equal(t, len(escalation)-1, level)
}

func TestDecayedLevelStepsDownDaily(t *testing.T) {
	since := time.Now()
	require.Equal(t, 3, DecayedLevel(3, since, since.Add(23*time.Hour)))
	require.Equal(t, 2, DecayedLevel(3, since, since.Add(25*time.Hour)))
	require.Equal(t, 0, DecayedLevel(3, since, since.Add(73*time.Hour)))
	require.Equal(t, -1, DecayedLevel(3, since, since.Add(200*time.Hour)))
	require.Equal(t, -1, DecayedLevel(-1, time.Time{}, since))
}

func TestNextLevelAfterDecay(t *testing.T) {
	since := time.Now()
	// A level-2 family quiet for two days re-enters at level 1.
	require.Equal(t, 1, NextLevel(2, since, since.Add(48*time.Hour)))
	// Quiet long enough, history is gone and they start over.
	require.Equal(t, 0, NextLevel(2, since, since.Add(96*time.Hour)))
}

type eventRecorder struct {
	events []*store.RateLimitEvent
}

func (r *eventRecorder) Add(_ context.Context, e *store.RateLimitEvent) error {
	r.events = append(r.events, e)
	return nil
}

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis, *eventRecorder) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	rec := &eventRecorder{}
	return New(rdb, rec, nil), mr, rec
}

func TestCheckAllowsExactlyLimit(t *testing.T) {
	l, _, rec := newTestLimiter(t)
	ctx := context.Background()
	familyID := uuid.New()
	userID := uuid.New()
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	// One member: 60 messages per window, every one of them allowed.
	for i := 0; i < PerMemberPerWindow; i++ {
		l.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		d, err := l.Check(ctx, familyID, userID, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, i+1, d.Count)
		require.Equal(t, PerMemberPerWindow, d.Limit)
	}
	require.Empty(t, rec.events)
}

func TestCheckOverLimitEntersCooldown(t *testing.T) {
	l, _, rec := newTestLimiter(t)
	ctx := context.Background()
	familyID := uuid.New()
	userID := uuid.New()
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	for i := 0; i < PerMemberPerWindow; i++ {
		l.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		d, err := l.Check(ctx, familyID, userID, 1)
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}

	// Message 61 trips the limit and announces the cooldown once.
	at := base.Add(61 * time.Second)
	l.now = func() time.Time { return at }
	d, err := l.Check(ctx, familyID, userID, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, "in_cooldown", d.Reason)
	require.Equal(t, 0, d.Level)
	require.True(t, d.Notify)
	require.Equal(t, at.Add(30*time.Second).Unix(), d.CooldownUntil.Unix())

	require.Len(t, rec.events, 1)
	require.Equal(t, familyID, rec.events[0].FamilyID)
	require.Equal(t, userID, rec.events[0].UserID)
	require.Equal(t, 0, rec.events[0].CooldownLevel)
	require.Equal(t, PerMemberPerWindow+1, rec.events[0].MessageCount)

	muted, err := l.InCooldown(ctx, familyID)
	require.NoError(t, err)
	require.True(t, muted)
}

func TestCheckDuringCooldownIsSilent(t *testing.T) {
	l, mr, rec := newTestLimiter(t)
	ctx := context.Background()
	familyID := uuid.New()
	userID := uuid.New()
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	for i := 0; i <= PerMemberPerWindow; i++ {
		l.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		_, err := l.Check(ctx, familyID, userID, 1)
		require.NoError(t, err)
	}
	require.Len(t, rec.events, 1)
	until := rec.events[0].CooldownUntil

	// Attempts inside the cooldown only bump the counter: no new event,
	// no notification, the original deadline stands.
	for i := 1; i <= 3; i++ {
		l.now = func() time.Time { return base.Add(65 * time.Second).Add(time.Duration(i) * time.Second) }
		d, err := l.Check(ctx, familyID, userID, 1)
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.False(t, d.Notify)
		require.Equal(t, until.Unix(), d.CooldownUntil.Unix())
	}
	require.Len(t, rec.events, 1)
	attempts, err := mr.Get("ratelimit:family:" + familyID.String() + ":attempts")
	require.NoError(t, err)
	require.Equal(t, "3", attempts)
}

func TestCheckEscalatesAfterCooldownExpires(t *testing.T) {
	l, _, rec := newTestLimiter(t)
	ctx := context.Background()
	familyID := uuid.New()
	userID := uuid.New()
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	for i := 0; i <= PerMemberPerWindow; i++ {
		l.now = func() time.Time { return base.Add(time.Duration(i) * time.Second) }
		_, err := l.Check(ctx, familyID, userID, 1)
		require.NoError(t, err)
	}

	// The first cooldown (30s) has lapsed but the window is still full,
	// so the next message re-trips at level 1 for 60s.
	at := base.Add(2 * time.Minute)
	l.now = func() time.Time { return at }
	d, err := l.Check(ctx, familyID, userID, 1)
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 1, d.Level)
	require.True(t, d.Notify)
	require.Equal(t, at.Add(60*time.Second).Unix(), d.CooldownUntil.Unix())
	require.Len(t, rec.events, 2)
}

func TestCheckWindowSlides(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()
	familyID := uuid.New()
	userID := uuid.New()
	base := time.Date(2026, 8, 26, 9, 0, 0, 0, time.UTC)

	l.now = func() time.Time { return base }
	d, err := l.Check(ctx, familyID, userID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, d.Count)

	// Sixteen minutes on, the first message has aged out of the window.
	l.now = func() time.Time { return base.Add(16 * time.Minute) }
	d, err = l.Check(ctx, familyID, userID, 1)
	require.NoError(t, err)
	require.Equal(t, 1, d.Count)
}

func TestCheckLimitScalesWithMembers(t *testing.T) {
	l, _, _ := newTestLimiter(t)
	ctx := context.Background()
	familyID := uuid.New()

	l.now = time.Now
	d, err := l.Check(ctx, familyID, uuid.New(), 4)
	require.NoError(t, err)
	require.Equal(t, 4*PerMemberPerWindow, d.Limit)

	// A zero member count still yields a one-member floor.
	d, err = l.Check(ctx, familyID, uuid.New(), 0)
	require.NoError(t, err)
	require.Equal(t, PerMemberPerWindow, d.Limit)
}

// Package ratelimit enforces the per-family rolling message window in
// Redis, with escalating cooldowns for repeat offenders.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/bofamily/bo/internal/store"
)

const (
	// Window is the rolling measurement interval.
	Window = 15 * time.Minute

	// PerMemberPerWindow sets the family limit: member_count x 60
	// messages per window, about four per member per minute.
	PerMemberPerWindow = 60

	// levelDecay steps the stored level down one per elapsed day.
	levelDecay = 24 * time.Hour
)

// escalation maps cooldown level to duration. Violations past the end
// stay at the last entry.
var escalation = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	240 * time.Second,
	600 * time.Second,
	1800 * time.Second,
	3600 * time.Second,
}

// CooldownDuration returns the escalation entry for a level.
func CooldownDuration(level int) time.Duration {
	if level < 0 {
		level = 0
	}
	if level >= len(escalation) {
		level = len(escalation) - 1
	}
	return escalation[level]
}

// NextLevel advances a stored level for a fresh violation, after decay.
// A family that has never violated (stored = -1) enters at level 0.
func NextLevel(stored int, since time.Time, now time.Time) int {
	decayed := DecayedLevel(stored, since, now)
	next := decayed + 1
	if next >= len(escalation) {
		next = len(escalation) - 1
	}
	return next
}

// DecayedLevel steps the stored level down one per full day since the
// last violation, bottoming out at -1 (no history).
func DecayedLevel(stored int, since time.Time, now time.Time) int {
	if stored < 0 {
		return -1
	}
	steps := int(now.Sub(since) / levelDecay)
	decayed := stored - steps
	if decayed < -1 {
		return -1
	}
	return decayed
}

// Decision is the outcome of one inbound check.
type Decision struct {
	Allowed       bool
	Reason        string
	Count         int
	Limit         int
	CooldownUntil time.Time
	Level         int

	// Notify is true only on the violation that entered the cooldown,
	// so the user hears about it exactly once.
	Notify bool
}

// Limiter runs the sliding window and cooldown state in Redis and
// appends every blocking decision to the rate-limit log.
type Limiter struct {
	rdb      redis.UniversalClient
	eventLog store.RateLimitLogStore
	log      *slog.Logger
	now      func() time.Time
}

func New(rdb redis.UniversalClient, eventLog store.RateLimitLogStore, log *slog.Logger) *Limiter {
	if log == nil {
		log = slog.Default()
	}
	return &Limiter{rdb: rdb, eventLog: eventLog, log: log, now: time.Now}
}

func key(familyID uuid.UUID, suffix string) string {
	return "ratelimit:family:" + familyID.String() + ":" + suffix
}

// Check records the inbound message and decides whether the pipeline
// may proceed. It must run before any model call is billed.
func (l *Limiter) Check(ctx context.Context, familyID, userID uuid.UUID, memberCount int) (*Decision, error) {
	now := l.now()
	if memberCount < 1 {
		memberCount = 1
	}
	limit := memberCount * PerMemberPerWindow

	// Active cooldown: silent drop, count the attempt.
	until, level, err := l.activeCooldown(ctx, familyID, now)
	if err != nil {
		return nil, err
	}
	if !until.IsZero() {
		if err := l.rdb.Incr(ctx, key(familyID, "attempts")).Err(); err != nil {
			l.log.Warn("rate limit attempts incr failed", "error", err)
		}
		return &Decision{
			Allowed:       false,
			Reason:        "in_cooldown",
			Limit:         limit,
			CooldownUntil: until,
			Level:         level,
		}, nil
	}

	count, err := l.recordMessage(ctx, familyID, now)
	if err != nil {
		return nil, err
	}
	if count <= limit {
		return &Decision{Allowed: true, Count: count, Limit: limit}, nil
	}

	// Over the limit: enter a cooldown at the next escalation level.
	stored, since, err := l.storedLevel(ctx, familyID)
	if err != nil {
		return nil, err
	}
	newLevel := NextLevel(stored, since, now)
	duration := CooldownDuration(newLevel)
	cooldownUntil := now.Add(duration)

	pipe := l.rdb.TxPipeline()
	pipe.Set(ctx, key(familyID, "cooldown"), cooldownUntil.Unix(), duration)
	pipe.Set(ctx, key(familyID, "level"),
		fmt.Sprintf("%d|%d", newLevel, now.Unix()),
		time.Duration(newLevel+2)*levelDecay)
	pipe.Set(ctx, key(familyID, "attempts"), 0, duration)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: enter cooldown: %w", err)
	}

	if l.eventLog != nil {
		err := l.eventLog.Add(ctx, &store.RateLimitEvent{
			FamilyID:      familyID,
			UserID:        userID,
			MessageCount:  count,
			WindowStart:   now.Add(-Window),
			WindowEnd:     now,
			CooldownUntil: &cooldownUntil,
			CooldownLevel: newLevel,
		})
		if err != nil {
			l.log.Warn("rate limit log write failed", "error", err)
		}
	}

	l.log.Info("family entered cooldown",
		"family_id", familyID,
		"level", newLevel,
		"until", cooldownUntil,
		"count", count,
		"limit", limit,
	)
	return &Decision{
		Allowed:       false,
		Reason:        "in_cooldown",
		Count:         count,
		Limit:         limit,
		CooldownUntil: cooldownUntil,
		Level:         newLevel,
		Notify:        true,
	}, nil
}

// InCooldown reports whether the family is currently muted. The
// scheduler uses this to advance reminders quietly.
func (l *Limiter) InCooldown(ctx context.Context, familyID uuid.UUID) (bool, error) {
	until, _, err := l.activeCooldown(ctx, familyID, l.now())
	if err != nil {
		return false, err
	}
	return !until.IsZero(), nil
}

func (l *Limiter) activeCooldown(ctx context.Context, familyID uuid.UUID, now time.Time) (time.Time, int, error) {
	val, err := l.rdb.Get(ctx, key(familyID, "cooldown")).Result()
	if err == redis.Nil {
		return time.Time{}, 0, nil
	}
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("rate limit: read cooldown: %w", err)
	}
	unix, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, 0, nil
	}
	until := time.Unix(unix, 0)
	if !until.After(now) {
		return time.Time{}, 0, nil
	}
	stored, _, err := l.storedLevel(ctx, familyID)
	if err != nil {
		return time.Time{}, 0, err
	}
	if stored < 0 {
		stored = 0
	}
	return until, stored, nil
}

// recordMessage adds the timestamp to the family's sorted set, trims
// entries older than the window, and returns the current count.
func (l *Limiter) recordMessage(ctx context.Context, familyID uuid.UUID, now time.Time) (int, error) {
	k := key(familyID, "messages")
	cutoff := now.Add(-Window)

	pipe := l.rdb.TxPipeline()
	pipe.ZAdd(ctx, k, redis.Z{
		Score:  float64(now.UnixNano()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff.UnixNano(), 10))
	card := pipe.ZCard(ctx, k)
	pipe.Expire(ctx, k, Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate limit: record message: %w", err)
	}
	return int(card.Val()), nil
}

// storedLevel reads the "level|unix" marker; (-1, zero) means none.
func (l *Limiter) storedLevel(ctx context.Context, familyID uuid.UUID) (int, time.Time, error) {
	val, err := l.rdb.Get(ctx, key(familyID, "level")).Result()
	if err == redis.Nil {
		return -1, time.Time{}, nil
	}
	if err != nil {
		return -1, time.Time{}, fmt.Errorf("rate limit: read level: %w", err)
	}
	parts := strings.SplitN(val, "|", 2)
	if len(parts) != 2 {
		return -1, time.Time{}, nil
	}
	level, err1 := strconv.Atoi(parts[0])
	unix, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return -1, time.Time{}, nil
	}
	return level, time.Unix(unix, 0), nil
}

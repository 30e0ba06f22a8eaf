package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/identity"
	"github.com/bofamily/bo/internal/router"
	"github.com/bofamily/bo/internal/store"
)

// Schedule event names tracked in schedule_state.
const (
	eventDailyStarter = "daily_starter"
	eventDailyTodos   = "daily_todos"
	eventNudge        = "nudge"
)

// ProactivePausedKey is the config-table toggle that suspends the
// daily starter, todo review, and nudges without touching reminders.
const ProactivePausedKey = "proactive_paused"

const (
	starterHour = 8  // local morning check-in
	todosHour   = 17 // local evening todo review
	nudgeGap    = 4 * time.Hour
	nudgeFrom   = 9 // waking window for nudges, local hours
	nudgeUntil  = 21
)

// Enqueue hands a synthetic message to the pipeline and delivers the
// result to the recipient's transport.
type Enqueue func(ctx context.Context, recipient *store.User, familyID uuid.UUID, text string) error

// CooldownChecker reports whether a family is muted right now.
type CooldownChecker interface {
	InCooldown(ctx context.Context, familyID uuid.UUID) (bool, error)
}

// Scheduler runs the periodic sweep. Due reminders become synthetic
// "[scheduled: reminder] " messages attributed to the recipient, so
// replies stay personality-consistent and land in their conversation
// log.
type Scheduler struct {
	stores   *store.Stores
	cooldown CooldownChecker
	enqueue  Enqueue
	tick     time.Duration
	zone     *time.Location
	log      *slog.Logger
	now      func() time.Time
}

func New(stores *store.Stores, cooldown CooldownChecker, enqueue Enqueue, tick time.Duration, zone *time.Location, log *slog.Logger) *Scheduler {
	if tick <= 0 {
		tick = 30 * time.Second
	}
	if zone == nil {
		zone = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		stores:   stores,
		cooldown: cooldown,
		enqueue:  enqueue,
		tick:     tick,
		zone:     zone,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep fires everything currently due. Exported for the tick loop and
// for tests.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := s.now().UTC()

	due, err := s.stores.Reminders.Due(ctx, now)
	if err != nil {
		s.log.Error("reminder sweep failed", "error", err)
		return
	}
	for _, rem := range due {
		s.fire(ctx, rem, now)
	}

	s.runDailyEvents(ctx, now)
}

// fire claims or advances the reminder first, then enqueues unless the
// family is cooling down. Claiming before routing keeps one_off
// reminders at-most-once even with overlapping sweeps.
func (s *Scheduler) fire(ctx context.Context, rem *store.Reminder, now time.Time) {
	recipient, err := s.stores.Users.GetByID(ctx, rem.RecipientID)
	if err != nil {
		s.log.Error("reminder recipient lookup failed", "reminder", rem.ID, "error", err)
		return
	}

	switch rem.Kind {
	case store.ReminderOneOff:
		claimed, err := s.stores.Reminders.ClaimOneOff(ctx, rem.ID, now)
		if err != nil {
			s.log.Error("reminder claim failed", "reminder", rem.ID, "error", err)
			return
		}
		if !claimed {
			return
		}
	case store.ReminderRecurring:
		rule, err := ParseRecurrence(rem.Recurrence)
		if err != nil {
			s.log.Error("reminder has bad recurrence, skipping", "reminder", rem.ID, "error", err)
			return
		}
		next, err := rule.Next(now.In(s.userZone(recipient)))
		if err != nil {
			s.log.Error("recurrence advance failed", "reminder", rem.ID, "error", err)
			return
		}
		if err := s.stores.Reminders.AdvanceRecurring(ctx, rem.ID, next.UTC(), now); err != nil {
			s.log.Error("reminder advance failed", "reminder", rem.ID, "error", err)
			return
		}
	default:
		s.log.Warn("reminder with unknown kind", "reminder", rem.ID, "kind", rem.Kind)
		return
	}

	muted, err := s.cooldown.InCooldown(ctx, rem.FamilyID)
	if err != nil {
		s.log.Warn("cooldown check failed, delivering anyway", "error", err)
	}
	if muted {
		s.log.Info("reminder advanced quietly during cooldown", "reminder", rem.ID)
		return
	}

	text := router.ReminderPrefix + rem.Text
	if err := s.enqueue(ctx, recipient, rem.FamilyID, text); err != nil {
		s.log.Error("reminder delivery failed", "reminder", rem.ID, "error", err)
	}
}

// runDailyEvents covers the starter, todo review, and quiet-hours
// nudge for every agent-enabled user. schedule_state keeps a missed
// tick from double-firing.
func (s *Scheduler) runDailyEvents(ctx context.Context, now time.Time) {
	if paused, err := s.stores.Settings.Get(ctx, ProactivePausedKey); err == nil && paused == "true" {
		return
	}

	users, err := s.stores.Users.ListAgentTriggers(ctx)
	if err != nil {
		s.log.Error("agent user listing failed", "error", err)
		return
	}
	for _, u := range users {
		if u.LastFamilyID == uuid.Nil {
			continue
		}
		local := now.In(s.userZone(u))

		if local.Hour() >= starterHour {
			s.fireEvent(ctx, u, eventDailyStarter, local,
				router.ReminderPrefix+"Morning check-in: say good morning and mention anything on today's plate.")
		}
		if local.Hour() >= todosHour {
			s.fireTodoReview(ctx, u, local)
		}
		if local.Hour() >= nudgeFrom && local.Hour() < nudgeUntil {
			s.fireNudge(ctx, u, local)
		}
	}
}

// fireEvent delivers a once-per-local-day event.
func (s *Scheduler) fireEvent(ctx context.Context, u *store.User, event string, local time.Time, text string) {
	state, err := s.stores.Schedule.Get(ctx, u.ID, u.LastFamilyID, event)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("schedule state read failed", "event", event, "error", err)
		return
	}
	if state != nil && sameLocalDay(state.LastFired.In(local.Location()), local) {
		return
	}
	if muted, _ := s.cooldown.InCooldown(ctx, u.LastFamilyID); muted {
		return
	}
	if err := s.enqueue(ctx, u, u.LastFamilyID, text); err != nil {
		s.log.Error("scheduled event delivery failed", "event", event, "error", err)
		return
	}
	s.markFired(ctx, u, event, local)
}

func (s *Scheduler) fireTodoReview(ctx context.Context, u *store.User, local time.Time) {
	state, err := s.stores.Schedule.Get(ctx, u.ID, u.LastFamilyID, eventDailyTodos)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		s.log.Error("schedule state read failed", "event", eventDailyTodos, "error", err)
		return
	}
	if state != nil && sameLocalDay(state.LastFired.In(local.Location()), local) {
		return
	}

	open, err := s.stores.Todos.List(ctx, u.ID, u.LastFamilyID, false)
	if err != nil {
		s.log.Error("todo listing failed", "error", err)
		return
	}
	if len(open) == 0 {
		// Nothing to review; mark done so we stop checking today.
		s.markFired(ctx, u, eventDailyTodos, local)
		return
	}
	if muted, _ := s.cooldown.InCooldown(ctx, u.LastFamilyID); muted {
		return
	}

	text := fmt.Sprintf(router.ReminderPrefix+"Evening review: they have %d open todo(s), starting with %q. Nudge them gently.",
		len(open), open[0].Text)
	if err := s.enqueue(ctx, u, u.LastFamilyID, text); err != nil {
		s.log.Error("todo review delivery failed", "error", err)
		return
	}
	s.markFired(ctx, u, eventDailyTodos, local)
}

// fireNudge pings a user whose conversation has gone quiet for four
// hours inside the waking window, at most once per gap.
func (s *Scheduler) fireNudge(ctx context.Context, u *store.User, local time.Time) {
	state, err := s.stores.Schedule.Get(ctx, u.ID, u.LastFamilyID, eventNudge)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return
	}
	if state != nil && local.Sub(state.LastFired.In(local.Location())) < nudgeGap {
		return
	}

	recent, err := s.stores.Conversation.Recent(ctx, u.ID, u.LastFamilyID, 1)
	if err != nil || len(recent) == 0 {
		return
	}
	if local.Sub(recent[0].CreatedAt.In(local.Location())) < nudgeGap {
		return
	}
	if muted, _ := s.cooldown.InCooldown(ctx, u.LastFamilyID); muted {
		return
	}

	text := router.ReminderPrefix + "It has been a quiet few hours. Check in casually, no pressure."
	if err := s.enqueue(ctx, u, u.LastFamilyID, text); err != nil {
		s.log.Error("nudge delivery failed", "error", err)
		return
	}
	s.markFired(ctx, u, eventNudge, local)
}

func (s *Scheduler) markFired(ctx context.Context, u *store.User, event string, local time.Time) {
	err := s.stores.Schedule.Set(ctx, &store.ScheduleState{
		UserID:    u.ID,
		FamilyID:  u.LastFamilyID,
		Event:     event,
		LastFired: local.UTC(),
	})
	if err != nil {
		s.log.Error("schedule state write failed", "event", event, "error", err)
	}
}

func (s *Scheduler) userZone(u *store.User) *time.Location {
	if u.Timezone != "" {
		if loc, err := time.LoadLocation(u.Timezone); err == nil {
			return loc
		}
	}
	return s.zone
}

func sameLocalDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// OwnerToken picks the canonical principal for a synthetic message,
// preferring the phone identity.
func OwnerToken(u *store.User) string {
	if u.Phone != "" {
		return u.Phone
	}
	if u.TelegramID != "" {
		return identity.TelegramPrefix + u.TelegramID
	}
	return identity.DefaultOwner
}

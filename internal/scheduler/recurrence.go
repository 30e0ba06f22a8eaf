// Package scheduler sweeps due reminders and the recurring daily
// events, injecting synthetic messages into the router.
package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

// Recurrence rules come in two shapes: a five-field cron expression, or
// the shorthand "daily HH:MM" / "weekly <weekday> HH:MM". Shorthand
// times are interpreted in the recipient's zone.
type Recurrence struct {
	raw     string
	cron    string
	weekday time.Weekday
	hasDay  bool
	hour    int
	minute  int
}

var weekdayNames = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseRecurrence validates and normalizes a recurrence rule.
func ParseRecurrence(rule string) (*Recurrence, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return nil, fmt.Errorf("recurrence: empty rule")
	}

	fields := strings.Fields(strings.ToLower(rule))
	switch fields[0] {
	case "daily":
		if len(fields) != 2 {
			return nil, fmt.Errorf("recurrence: want %q, got %q", "daily HH:MM", rule)
		}
		h, m, err := parseClock(fields[1])
		if err != nil {
			return nil, err
		}
		return &Recurrence{raw: rule, hour: h, minute: m}, nil
	case "weekly":
		if len(fields) != 3 {
			return nil, fmt.Errorf("recurrence: want %q, got %q", "weekly <weekday> HH:MM", rule)
		}
		day, ok := weekdayNames[fields[1]]
		if !ok {
			return nil, fmt.Errorf("recurrence: unknown weekday %q", fields[1])
		}
		h, m, err := parseClock(fields[2])
		if err != nil {
			return nil, err
		}
		return &Recurrence{raw: rule, weekday: day, hasDay: true, hour: h, minute: m}, nil
	}

	if gronx.New().IsValid(rule) {
		return &Recurrence{raw: rule, cron: rule}, nil
	}
	return nil, fmt.Errorf("recurrence: unrecognized rule %q", rule)
}

// Next returns the first firing strictly after t, in t's location.
func (r *Recurrence) Next(t time.Time) (time.Time, error) {
	if r.cron != "" {
		next, err := gronx.NextTickAfter(r.cron, t, false)
		if err != nil {
			return time.Time{}, fmt.Errorf("recurrence: %w", err)
		}
		return next, nil
	}

	next := time.Date(t.Year(), t.Month(), t.Day(), r.hour, r.minute, 0, 0, t.Location())
	if r.hasDay {
		for next.Weekday() != r.weekday || !next.After(t) {
			next = next.AddDate(0, 0, 1)
		}
		return next, nil
	}
	if !next.After(t) {
		next = next.AddDate(0, 0, 1)
	}
	return next, nil
}

func (r *Recurrence) String() string { return r.raw }

func parseClock(s string) (int, int, error) {
	var h, m int
	if _, err := fmt.Sscanf(s, "%d:%d", &h, &m); err != nil {
		return 0, 0, fmt.Errorf("recurrence: bad time %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("recurrence: bad time %q", s)
	}
	return h, m, nil
}

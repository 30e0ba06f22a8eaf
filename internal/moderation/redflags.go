// Package moderation runs the two safety gates: pre-input red-flag
// detection on user messages and the post-output PG filter on composed
// replies.
package moderation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// Severity levels, highest first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
)

// CrisisResponse is the canned reply for critical red flags. It must
// always carry the 988 lifeline.
const CrisisResponse = "I'm really glad you told me. You matter, and you don't have to carry this alone. " +
	"Please reach out right now: call or text 988 (Suicide & Crisis Lifeline, 24/7), " +
	"or text HOME to 741741 (Crisis Text Line). If you're in immediate danger, call 911. " +
	"I'm here with you."

// criticalKeywords short-circuit the pipeline.
var criticalKeywords = []string{
	"kill myself",
	"killing myself",
	"want to die",
	"end my life",
	"ending my life",
	"suicide",
	"suicidal",
	"overdose",
	"hurt myself",
	"hurting myself",
	"harm myself",
	"self harm",
	"self-harm",
	"cut myself",
	"cutting myself",
	"don't want to live",
	"no reason to live",
	"better off dead",
	"better off without me",
}

// highKeywords log at high severity but let the request continue.
var highKeywords = []string{
	"kill him",
	"kill her",
	"kill them",
	"kill someone",
	"shoot up",
	"bomb",
	"murder",
	"weapon to school",
	"hurt someone badly",
}

// mediumKeywords are worth an operator glance.
var mediumKeywords = []string{
	"hate myself",
	"worthless",
	"hopeless",
	"can't go on",
	"give up on everything",
	"nobody would care",
	"punch him",
	"beat him up",
	"beat her up",
}

// Flag is a pre-input detection result.
type Flag struct {
	Severity string
	Keywords []string
}

// DetectRedFlags scans the message against the keyword classes. The
// returned severity is the highest class with a match; nil when clean.
func DetectRedFlags(message string) *Flag {
	lower := strings.ToLower(message)

	match := func(keywords []string) []string {
		var hits []string
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				hits = append(hits, kw)
			}
		}
		return hits
	}

	if hits := match(criticalKeywords); len(hits) > 0 {
		return &Flag{Severity: SeverityCritical, Keywords: hits}
	}
	if hits := match(highKeywords); len(hits) > 0 {
		return &Flag{Severity: SeverityHigh, Keywords: hits}
	}
	if hits := match(mediumKeywords); len(hits) > 0 {
		return &Flag{Severity: SeverityMedium, Keywords: hits}
	}
	return nil
}

// AdminNotifier delivers out-of-band alerts to the system admin.
type AdminNotifier interface {
	NotifyAdmin(ctx context.Context, text string) error
}

// Screener applies pre-input detection and records flags.
type Screener struct {
	flags    store.ModerationStore
	notifier AdminNotifier
	log      *slog.Logger
}

func NewScreener(flags store.ModerationStore, notifier AdminNotifier, log *slog.Logger) *Screener {
	if log == nil {
		log = slog.Default()
	}
	return &Screener{flags: flags, notifier: notifier, log: log}
}

// Decision is the outcome of screening one inbound message.
type Decision struct {
	ShouldContinue bool
	Reply          string // set only on critical
	Flag           *Flag
}

// Screen checks the message and persists any flag. On critical the
// pipeline stops and the admin is alerted; flag persistence failures
// are logged but never block the crisis reply.
func (s *Screener) Screen(ctx context.Context, userID, familyID uuid.UUID, message string) Decision {
	flag := DetectRedFlags(message)
	if flag == nil {
		return Decision{ShouldContinue: true}
	}

	if err := s.flags.Add(ctx, &store.ModerationFlag{
		UserID:   userID,
		FamilyID: familyID,
		Message:  message,
		Flags:    flag.Keywords,
		Severity: flag.Severity,
		Action:   store.ModerationFlagged,
	}); err != nil {
		s.log.Error("moderation flag write failed", "error", err)
	}

	if flag.Severity != SeverityCritical {
		s.log.Warn("red flag detected", "severity", flag.Severity, "user_id", userID)
		return Decision{ShouldContinue: true, Flag: flag}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyAdmin(ctx, "CRITICAL red flag from user "+userID.String()+": "+message); err != nil {
			s.log.Error("admin crisis alert failed", "error", err)
		}
	}
	return Decision{ShouldContinue: false, Reply: CrisisResponse, Flag: flag}
}

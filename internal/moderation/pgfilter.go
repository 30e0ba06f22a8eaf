package moderation

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/llm"
	"github.com/bofamily/bo/internal/store"
)

const pgFilterSystem = `You review replies from a family assistant whose audience includes children.
Answer with exactly one word: OK if the reply is family-friendly, FLAG if it contains profanity, sexual content, graphic violence, or other content inappropriate for a family chat.`

// PGFilter is the post-output classifier. When the classifier itself
// fails, the filter fails open and the reply goes out unchanged.
type PGFilter struct {
	gateway *llm.Gateway
	flags   store.ModerationStore
	log     *slog.Logger
}

func NewPGFilter(gateway *llm.Gateway, flags store.ModerationStore, log *slog.Logger) *PGFilter {
	if log == nil {
		log = slog.Default()
	}
	return &PGFilter{gateway: gateway, flags: flags, log: log}
}

// Review returns the text the user should see. If the classifier flags
// the reply, the caller-supplied excuse replaces it and the original is
// stored with action=replaced.
func (f *PGFilter) Review(ctx context.Context, userID, familyID uuid.UUID, requestID, owner, reply, excuse string) string {
	verdict, err := f.gateway.Complete(ctx, llm.Call{
		RequestID: requestID,
		Owner:     owner,
		Step:      llm.StepModerationPG,
		System:    pgFilterSystem,
		User:      reply,
	})
	if err != nil {
		f.log.Warn("pg filter unavailable, failing open", "request_id", requestID, "error", err)
		return reply
	}

	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(verdict)), "FLAG") {
		return reply
	}

	if err := f.flags.Add(ctx, &store.ModerationFlag{
		UserID:      userID,
		FamilyID:    familyID,
		Original:    reply,
		Replacement: excuse,
		Flags:       []string{"pg_filter"},
		Severity:    SeverityMedium,
		Action:      store.ModerationReplaced,
	}); err != nil {
		f.log.Error("moderation flag write failed", "error", err)
	}
	f.log.Info("reply replaced by pg filter", "request_id", requestID)
	return excuse
}

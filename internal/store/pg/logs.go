package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bofamily/bo/internal/store"
)

// ModerationStore appends to moderation_flags.
type ModerationStore struct {
	db *sql.DB
}

func NewModerationStore(db *sql.DB) *ModerationStore {
	return &ModerationStore{db: db}
}

func (s *ModerationStore) Add(ctx context.Context, f *store.ModerationFlag) error {
	flags := f.Flags
	if flags == nil {
		flags = []string{}
	}
	flagsJSON, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("marshal flags: %w", err)
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO moderation_flags
			(user_id, family_id, message, original_response, replacement_response,
			 flags, severity, action, reviewed, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		nilUUID(f.UserID), nilUUID(f.FamilyID), f.Message,
		nilStr(f.Original), nilStr(f.Replacement),
		flagsJSON, f.Severity, f.Action, f.Reviewed, f.CreatedAt).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("add moderation flag: %w", err)
	}
	return nil
}

// RateLimitLogStore appends to rate_limit_log.
type RateLimitLogStore struct {
	db *sql.DB
}

func NewRateLimitLogStore(db *sql.DB) *RateLimitLogStore {
	return &RateLimitLogStore{db: db}
}

func (s *RateLimitLogStore) Add(ctx context.Context, e *store.RateLimitEvent) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO rate_limit_log
			(family_id, user_id, message_count, window_start, window_end,
			 cooldown_until, cooldown_level, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.FamilyID, nilUUID(e.UserID), e.MessageCount, e.WindowStart, e.WindowEnd,
		nilTime(e.CooldownUntil), e.CooldownLevel, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("add rate limit event: %w", err)
	}
	return nil
}

// LLMLogStore appends to llm_log.
type LLMLogStore struct {
	db *sql.DB
}

func NewLLMLogStore(db *sql.DB) *LLMLogStore {
	return &LLMLogStore{db: db}
}

func (s *LLMLogStore) Add(ctx context.Context, e *store.LLMLogEntry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO llm_log
			(request_id, user_id, family_id, owner, step, request_doc, response, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		e.RequestID, nilUUID(e.UserID), nilUUID(e.FamilyID), e.Owner, e.Step,
		e.RequestDoc, e.Response, e.CreatedAt).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("add llm log entry: %w", err)
	}
	return nil
}

// SelfRepliedStore persists outbound self-chat guids in watch_self_replied.
type SelfRepliedStore struct {
	db *sql.DB
}

func NewSelfRepliedStore(db *sql.DB) *SelfRepliedStore {
	return &SelfRepliedStore{db: db}
}

func (s *SelfRepliedStore) MarkReplied(ctx context.Context, guid string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watch_self_replied (guid, created_at) VALUES ($1, $2)
		 ON CONFLICT (guid) DO NOTHING`,
		guid, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark replied: %w", err)
	}
	return nil
}

func (s *SelfRepliedStore) HasReplied(ctx context.Context, guid string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM watch_self_replied WHERE guid = $1)`, guid).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check replied: %w", err)
	}
	return exists, nil
}

package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// GroupChatStore implements store.GroupChatStore.
type GroupChatStore struct {
	db *sql.DB
}

func NewGroupChatStore(db *sql.DB) *GroupChatStore {
	return &GroupChatStore{db: db}
}

func (s *GroupChatStore) GetByChatID(ctx context.Context, chatID string) (*store.GroupChat, error) {
	var g store.GroupChat
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, name, type, family_id FROM group_chats WHERE chat_id = $1`, chatID).
		Scan(&g.ChatID, &g.Name, &g.Type, &g.FamilyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group chat: %w", err)
	}
	return &g, nil
}

func (s *GroupChatStore) GetByName(ctx context.Context, familyID uuid.UUID, name string) (*store.GroupChat, error) {
	var g store.GroupChat
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, name, type, family_id FROM group_chats
		 WHERE family_id = $1 AND LOWER(name) = $2`,
		familyID, strings.ToLower(name)).
		Scan(&g.ChatID, &g.Name, &g.Type, &g.FamilyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get group chat by name: %w", err)
	}
	return &g, nil
}

func (s *GroupChatStore) Upsert(ctx context.Context, g *store.GroupChat) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_chats (chat_id, name, type, family_id, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (chat_id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, family_id = EXCLUDED.family_id`,
		g.ChatID, g.Name, g.Type, g.FamilyID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert group chat: %w", err)
	}
	return nil
}

// ScheduleStateStore implements store.ScheduleStateStore.
type ScheduleStateStore struct {
	db *sql.DB
}

func NewScheduleStateStore(db *sql.DB) *ScheduleStateStore {
	return &ScheduleStateStore{db: db}
}

func (s *ScheduleStateStore) Get(ctx context.Context, userID, familyID uuid.UUID, event string) (*store.ScheduleState, error) {
	var st store.ScheduleState
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, family_id, event, last_fired FROM schedule_state
		 WHERE user_id = $1 AND family_id = $2 AND event = $3`,
		userID, familyID, event).
		Scan(&st.UserID, &st.FamilyID, &st.Event, &st.LastFired)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule state: %w", err)
	}
	return &st, nil
}

func (s *ScheduleStateStore) Set(ctx context.Context, st *store.ScheduleState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO schedule_state (user_id, family_id, event, last_fired)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, family_id, event)
		 DO UPDATE SET last_fired = EXCLUDED.last_fired`,
		st.UserID, st.FamilyID, st.Event, st.LastFired)
	if err != nil {
		return fmt.Errorf("set schedule state: %w", err)
	}
	return nil
}

// SettingsStore implements store.SettingsStore on the config table.
type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get config %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value)
	if err != nil {
		return fmt.Errorf("set config %q: %w", key, err)
	}
	return nil
}

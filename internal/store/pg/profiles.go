package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// ProfileStore implements store.ProfileStore. Summary sentences and
// personality instructions are JSON documents on a single row per tenant.
type ProfileStore struct {
	db *sql.DB
}

func NewProfileStore(db *sql.DB) *ProfileStore {
	return &ProfileStore{db: db}
}

func (s *ProfileStore) Get(ctx context.Context, userID, familyID uuid.UUID) (*store.Profile, error) {
	var p store.Profile
	var summaryJSON, personalityJSON []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, family_id, summary, personality, updated_at
		 FROM profiles WHERE user_id = $1 AND family_id = $2`,
		userID, familyID).
		Scan(&p.UserID, &p.FamilyID, &summaryJSON, &personalityJSON, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// Absent profile reads as empty, not as an error.
		return &store.Profile{UserID: userID, FamilyID: familyID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	json.Unmarshal(summaryJSON, &p.Summary)
	json.Unmarshal(personalityJSON, &p.Personality)
	return &p, nil
}

func (s *ProfileStore) SetSummary(ctx context.Context, userID, familyID uuid.UUID, sentences []string) error {
	return s.set(ctx, userID, familyID, "summary", sentences)
}

func (s *ProfileStore) SetPersonality(ctx context.Context, userID, familyID uuid.UUID, instructions []string) error {
	return s.set(ctx, userID, familyID, "personality", instructions)
}

func (s *ProfileStore) set(ctx context.Context, userID, familyID uuid.UUID, column string, values []string) error {
	if values == nil {
		values = []string{}
	}
	doc, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", column, err)
	}
	// column is one of two compile-time constants, never user input.
	q := fmt.Sprintf(
		`INSERT INTO profiles (user_id, family_id, %s, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, family_id)
		 DO UPDATE SET %s = EXCLUDED.%s, updated_at = EXCLUDED.updated_at`,
		column, column, column)
	if _, err := s.db.ExecContext(ctx, q, userID, familyID, doc, time.Now().UTC()); err != nil {
		return fmt.Errorf("set %s: %w", column, err)
	}
	return nil
}

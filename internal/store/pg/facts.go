package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// FactStore implements store.FactStore on Postgres.
// Tag sets are serialized as JSON documents.
type FactStore struct {
	db *sql.DB
}

func NewFactStore(db *sql.DB) *FactStore {
	return &FactStore{db: db}
}

func (s *FactStore) Upsert(ctx context.Context, f *store.Fact) error {
	tags := f.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	f.UpdatedAt = time.Now().UTC()
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO facts (user_id, family_id, key, value, scope, tags, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (user_id, family_id, key, scope)
		 DO UPDATE SET value = EXCLUDED.value, tags = EXCLUDED.tags, updated_at = EXCLUDED.updated_at
		 RETURNING id`,
		f.UserID, f.FamilyID, f.Key, f.Value, f.Scope, tagsJSON, f.UpdatedAt).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("upsert fact: %w", err)
	}
	return nil
}

func (s *FactStore) Delete(ctx context.Context, userID, familyID uuid.UUID, key, scope string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM facts
		 WHERE user_id = $1 AND family_id = $2 AND key = $3 AND scope = $4`,
		userID, familyID, key, scope)
	if err != nil {
		return fmt.Errorf("delete fact: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// List returns the user's private facts plus the family's global facts.
func (s *FactStore) List(ctx context.Context, userID, familyID uuid.UUID) ([]*store.Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, family_id, key, value, scope, tags, updated_at
		 FROM facts
		 WHERE family_id = $1 AND (user_id = $2 OR scope = $3)
		 ORDER BY updated_at DESC`,
		familyID, userID, store.ScopeGlobal)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}
	defer rows.Close()

	var facts []*store.Fact
	for rows.Next() {
		var f store.Fact
		var tagsJSON []byte
		if err := rows.Scan(&f.ID, &f.UserID, &f.FamilyID, &f.Key, &f.Value,
			&f.Scope, &tagsJSON, &f.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		json.Unmarshal(tagsJSON, &f.Tags)
		facts = append(facts, &f)
	}
	return facts, rows.Err()
}

package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bofamily/bo/internal/store"
)

// skillAccessKey is the config-table row holding the ACL document.
const skillAccessKey = "skill_access"

// SkillStore implements store.SkillStore. The catalog lives in the skills
// table; the access config is a JSON document in the config table.
type SkillStore struct {
	db *sql.DB
}

func NewSkillStore(db *sql.DB) *SkillStore {
	return &SkillStore{db: db}
}

func (s *SkillStore) List(ctx context.Context) ([]*store.Skill, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, entrypoint, input_schema FROM skills ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list skills: %w", err)
	}
	defer rows.Close()

	var skills []*store.Skill
	for rows.Next() {
		var sk store.Skill
		var schema *string
		if err := rows.Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Entrypoint, &schema); err != nil {
			return nil, fmt.Errorf("scan skill: %w", err)
		}
		sk.InputSchema = derefStr(schema)
		skills = append(skills, &sk)
	}
	return skills, rows.Err()
}

func (s *SkillStore) Get(ctx context.Context, id string) (*store.Skill, error) {
	var sk store.Skill
	var schema *string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, entrypoint, input_schema FROM skills WHERE id = $1`, id).
		Scan(&sk.ID, &sk.Name, &sk.Description, &sk.Entrypoint, &schema)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get skill: %w", err)
	}
	sk.InputSchema = derefStr(schema)
	return &sk, nil
}

func (s *SkillStore) Upsert(ctx context.Context, sk *store.Skill) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO skills (id, name, description, entrypoint, input_schema)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, description = EXCLUDED.description,
			entrypoint = EXCLUDED.entrypoint, input_schema = EXCLUDED.input_schema`,
		sk.ID, sk.Name, sk.Description, sk.Entrypoint, nilStr(sk.InputSchema))
	if err != nil {
		return fmt.Errorf("upsert skill: %w", err)
	}
	return nil
}

func (s *SkillStore) Access(ctx context.Context) (*store.SkillAccess, error) {
	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = $1`, skillAccessKey).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return &store.SkillAccess{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load skill access: %w", err)
	}
	var access store.SkillAccess
	if err := json.Unmarshal([]byte(doc), &access); err != nil {
		return nil, fmt.Errorf("parse skill access: %w", err)
	}
	return &access, nil
}

func (s *SkillStore) SetAccess(ctx context.Context, a *store.SkillAccess) error {
	doc, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal skill access: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		skillAccessKey, string(doc))
	if err != nil {
		return fmt.Errorf("save skill access: %w", err)
	}
	return nil
}

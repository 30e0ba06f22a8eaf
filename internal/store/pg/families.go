package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// FamilyStore implements store.FamilyStore on Postgres.
type FamilyStore struct {
	db *sql.DB
}

func NewFamilyStore(db *sql.DB) *FamilyStore {
	return &FamilyStore{db: db}
}

func (s *FamilyStore) Get(ctx context.Context, id uuid.UUID) (*store.Family, error) {
	var f store.Family
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM families WHERE id = $1`, id).
		Scan(&f.ID, &f.Name, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get family: %w", err)
	}
	return &f, nil
}

func (s *FamilyStore) Create(ctx context.Context, f *store.Family) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.Must(uuid.NewV7())
	}
	now := time.Now().UTC()
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	f.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO families (id, name, created_at, updated_at) VALUES ($1, $2, $3, $4)`,
		f.ID, f.Name, f.CreatedAt, f.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create family: %w", err)
	}
	return nil
}

func (s *FamilyStore) Memberships(ctx context.Context, userID uuid.UUID) ([]*store.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, family_id, role, joined_at
		 FROM family_memberships WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

func (s *FamilyStore) FamilyMembers(ctx context.Context, familyID uuid.UUID) ([]*store.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, family_id, role, joined_at
		 FROM family_memberships WHERE family_id = $1 ORDER BY id`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family members: %w", err)
	}
	defer rows.Close()
	return collectMemberships(rows)
}

func (s *FamilyStore) MemberCount(ctx context.Context, familyID uuid.UUID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM family_memberships WHERE family_id = $1`, familyID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count members: %w", err)
	}
	return n, nil
}

func (s *FamilyStore) AddMembership(ctx context.Context, m *store.Membership) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO family_memberships (user_id, family_id, role, joined_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (user_id, family_id) DO UPDATE SET role = EXCLUDED.role
		 RETURNING id`,
		m.UserID, m.FamilyID, m.Role, m.JoinedAt).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("add membership: %w", err)
	}
	return nil
}

// RemoveMembership deletes a membership unless it is the family's last owner.
// The owner check and the delete run in one transaction so concurrent
// removals cannot strip the final owner.
func (s *FamilyStore) RemoveMembership(ctx context.Context, userID, familyID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var role string
	err = tx.QueryRowContext(ctx,
		`SELECT role FROM family_memberships
		 WHERE user_id = $1 AND family_id = $2 FOR UPDATE`, userID, familyID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("lock membership: %w", err)
	}

	if role == store.RoleOwner {
		var owners int
		err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM family_memberships
			 WHERE family_id = $1 AND role = $2`, familyID, store.RoleOwner).Scan(&owners)
		if err != nil {
			return fmt.Errorf("count owners: %w", err)
		}
		if owners <= 1 {
			return store.ErrLastOwner
		}
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM family_memberships WHERE user_id = $1 AND family_id = $2`,
		userID, familyID)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	return tx.Commit()
}

func collectMemberships(rows *sql.Rows) ([]*store.Membership, error) {
	var ms []*store.Membership
	for rows.Next() {
		var m store.Membership
		if err := rows.Scan(&m.ID, &m.UserID, &m.FamilyID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		ms = append(ms, &m)
	}
	return ms, rows.Err()
}

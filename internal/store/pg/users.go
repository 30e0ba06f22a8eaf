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

// UserStore implements store.UserStore on Postgres.
type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

const userCols = `id, first_name, last_name, phone, telegram_id, timezone,
	is_admin, agent_trigger, last_family_id, created_at`

func (s *UserStore) GetByID(ctx context.Context, id uuid.UUID) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (s *UserStore) GetByPhone(ctx context.Context, phone string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE phone = $1`, phone)
	return scanUser(row)
}

func (s *UserStore) GetByTelegramID(ctx context.Context, telegramID string) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE telegram_id = $1`, telegramID)
	return scanUser(row)
}

func (s *UserStore) ListByFamily(ctx context.Context, familyID uuid.UUID) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users
		 WHERE id IN (SELECT user_id FROM family_memberships WHERE family_id = $1)
		 ORDER BY created_at`, familyID)
	if err != nil {
		return nil, fmt.Errorf("list family users: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *UserStore) ListAgentTriggers(ctx context.Context) ([]*store.User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userCols+` FROM users WHERE agent_trigger`)
	if err != nil {
		return nil, fmt.Errorf("list agent triggers: %w", err)
	}
	defer rows.Close()
	return collectUsers(rows)
}

func (s *UserStore) GetAdmin(ctx context.Context) (*store.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+userCols+` FROM users WHERE is_admin ORDER BY created_at LIMIT 1`)
	return scanUser(row)
}

func (s *UserStore) Create(ctx context.Context, u *store.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	if u.Timezone == "" {
		u.Timezone = "America/New_York"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, first_name, last_name, phone, telegram_id, timezone,
			is_admin, agent_trigger, last_family_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		u.ID, u.FirstName, nilStr(u.LastName), nilStr(u.Phone), nilStr(u.TelegramID),
		u.Timezone, u.IsAdmin, u.AgentTrigger, nilUUID(u.LastFamilyID), u.CreatedAt)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *UserStore) SetLastFamily(ctx context.Context, userID, familyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_family_id = $1 WHERE id = $2`, familyID, userID)
	if err != nil {
		return fmt.Errorf("set last family: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- scanning ---

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var u store.User
	var lastName, phone, telegramID *string
	var lastFamily *uuid.UUID
	err := row.Scan(&u.ID, &u.FirstName, &lastName, &phone, &telegramID,
		&u.Timezone, &u.IsAdmin, &u.AgentTrigger, &lastFamily, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	u.LastName = derefStr(lastName)
	u.Phone = derefStr(phone)
	u.TelegramID = derefStr(telegramID)
	if lastFamily != nil {
		u.LastFamilyID = *lastFamily
	}
	return &u, nil
}

func collectUsers(rows *sql.Rows) ([]*store.User, error) {
	var users []*store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func nilUUID(u uuid.UUID) *uuid.UUID {
	if u == uuid.Nil {
		return nil
	}
	return &u
}

package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// TodoStore implements store.TodoStore on Postgres.
type TodoStore struct {
	db *sql.DB
}

func NewTodoStore(db *sql.DB) *TodoStore {
	return &TodoStore{db: db}
}

func (s *TodoStore) List(ctx context.Context, assigneeID, familyID uuid.UUID, includeDone bool) ([]*store.Todo, error) {
	q := `SELECT id, family_id, assignee_id, creator_id, text, due, done, created_at
	      FROM todos WHERE assignee_id = $1 AND family_id = $2`
	if !includeDone {
		q += ` AND NOT done`
	}
	q += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, q, assigneeID, familyID)
	if err != nil {
		return nil, fmt.Errorf("list todos: %w", err)
	}
	defer rows.Close()

	var todos []*store.Todo
	for rows.Next() {
		var t store.Todo
		if err := rows.Scan(&t.ID, &t.FamilyID, &t.AssigneeID, &t.CreatorID,
			&t.Text, &t.Due, &t.Done, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan todo: %w", err)
		}
		todos = append(todos, &t)
	}
	return todos, rows.Err()
}

func (s *TodoStore) Add(ctx context.Context, t *store.Todo) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO todos (family_id, assignee_id, creator_id, text, due, done, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		t.FamilyID, t.AssigneeID, t.CreatorID, t.Text, nilTime(t.Due), t.Done, t.CreatedAt).
		Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("add todo: %w", err)
	}
	return nil
}

func (s *TodoStore) SetDone(ctx context.Context, id int64, familyID uuid.UUID, done bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE todos SET done = $1 WHERE id = $2 AND family_id = $3`,
		done, id, familyID)
	if err != nil {
		return fmt.Errorf("set todo done: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *TodoStore) Delete(ctx context.Context, id int64, familyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM todos WHERE id = $1 AND family_id = $2`, id, familyID)
	if err != nil {
		return fmt.Errorf("delete todo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

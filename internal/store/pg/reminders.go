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

// ReminderStore implements store.ReminderStore on Postgres.
type ReminderStore struct {
	db *sql.DB
}

func NewReminderStore(db *sql.DB) *ReminderStore {
	return &ReminderStore{db: db}
}

const reminderCols = `id, family_id, creator_id, recipient_id, text, kind,
	fire_at, recurrence, next_fire_at, sent_at, last_fired_at, created_at`

func (s *ReminderStore) Get(ctx context.Context, id int64, familyID uuid.UUID) (*store.Reminder, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+reminderCols+` FROM reminders WHERE id = $1 AND family_id = $2`,
		id, familyID)
	return scanReminder(row)
}

func (s *ReminderStore) ListByRecipient(ctx context.Context, recipientID, familyID uuid.UUID) ([]*store.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE recipient_id = $1 AND family_id = $2 ORDER BY created_at`,
		recipientID, familyID)
	if err != nil {
		return nil, fmt.Errorf("list reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

func (s *ReminderStore) Create(ctx context.Context, r *store.Reminder) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO reminders (family_id, creator_id, recipient_id, text, kind,
			fire_at, recurrence, next_fire_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`,
		r.FamilyID, r.CreatorID, r.RecipientID, r.Text, r.Kind,
		nilTime(r.FireAt), nilStr(r.Recurrence), nilTime(r.NextFireAt), r.CreatedAt).
		Scan(&r.ID)
	if err != nil {
		return fmt.Errorf("create reminder: %w", err)
	}
	return nil
}

func (s *ReminderStore) Delete(ctx context.Context, id int64, familyID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM reminders WHERE id = $1 AND family_id = $2`, id, familyID)
	if err != nil {
		return fmt.Errorf("delete reminder: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Due returns one-off reminders past their deadline and unsent, plus
// recurring reminders whose next firing is at or before now.
func (s *ReminderStore) Due(ctx context.Context, now time.Time) ([]*store.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+reminderCols+` FROM reminders
		 WHERE (kind = $1 AND sent_at IS NULL AND fire_at <= $3)
		    OR (kind = $2 AND next_fire_at <= $3)
		 ORDER BY id`,
		store.ReminderOneOff, store.ReminderRecurring, now)
	if err != nil {
		return nil, fmt.Errorf("due reminders: %w", err)
	}
	defer rows.Close()
	return collectReminders(rows)
}

// ClaimOneOff is the atomic firing gate: rowcount 1 means this worker owns
// the firing; sent_at is never reset afterwards.
func (s *ReminderStore) ClaimOneOff(ctx context.Context, id int64, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET sent_at = $1
		 WHERE id = $2 AND kind = $3 AND sent_at IS NULL`,
		now, id, store.ReminderOneOff)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (s *ReminderStore) AdvanceRecurring(ctx context.Context, id int64, next, firedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE reminders SET next_fire_at = $1, last_fired_at = $2
		 WHERE id = $3 AND kind = $4`,
		next, firedAt, id, store.ReminderRecurring)
	if err != nil {
		return fmt.Errorf("advance reminder: %w", err)
	}
	return nil
}

func scanReminder(row rowScanner) (*store.Reminder, error) {
	var r store.Reminder
	var recurrence *string
	err := row.Scan(&r.ID, &r.FamilyID, &r.CreatorID, &r.RecipientID, &r.Text, &r.Kind,
		&r.FireAt, &recurrence, &r.NextFireAt, &r.SentAt, &r.LastFiredAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan reminder: %w", err)
	}
	r.Recurrence = derefStr(recurrence)
	return &r, nil
}

func collectReminders(rows *sql.Rows) ([]*store.Reminder, error) {
	var rs []*store.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		rs = append(rs, r)
	}
	return rs, rows.Err()
}

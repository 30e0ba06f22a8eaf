package pg

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// ConversationStore implements the bounded per-(user,family) log.
type ConversationStore struct {
	db *sql.DB
}

func NewConversationStore(db *sql.DB) *ConversationStore {
	return &ConversationStore{db: db}
}

// Recent returns the newest limit messages, reordered oldest first.
func (s *ConversationStore) Recent(ctx context.Context, userID, familyID uuid.UUID, limit int) ([]*store.ConversationMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, user_id, family_id, role, content, created_at
		 FROM conversation_messages
		 WHERE user_id = $1 AND family_id = $2
		 ORDER BY seq DESC LIMIT $3`,
		userID, familyID, limit)
	if err != nil {
		return nil, fmt.Errorf("load conversation: %w", err)
	}
	defer rows.Close()

	var msgs []*store.ConversationMessage
	for rows.Next() {
		var m store.ConversationMessage
		if err := rows.Scan(&m.Seq, &m.UserID, &m.FamilyID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse into oldest-first order for prompt inclusion.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// AppendPair writes the user/assistant pair and trims to cap in one
// transaction. Sequence numbers are MAX(seq)+1 computed inside the
// transaction so concurrent writers preserve monotonic order.
func (s *ConversationStore) AppendPair(ctx context.Context, userID, familyID uuid.UUID, userText, assistantText string, keep int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	// Serialize appends per tenant; MAX(seq)+1 is only monotonic when
	// concurrent writers cannot interleave between read and insert.
	_, err = tx.ExecContext(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1 || ':' || $2, 0))`,
		userID.String(), familyID.String())
	if err != nil {
		return fmt.Errorf("tenant lock: %w", err)
	}

	var next int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_messages
		 WHERE user_id = $1 AND family_id = $2`,
		userID, familyID).Scan(&next)
	if err != nil {
		return fmt.Errorf("next seq: %w", err)
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO conversation_messages (user_id, family_id, seq, role, content, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6), ($1, $2, $7, $8, $9, $6)`,
		userID, familyID,
		next, store.RoleUser, userText, now,
		next+1, store.RoleAssistant, assistantText)
	if err != nil {
		return fmt.Errorf("append pair: %w", err)
	}

	// Trim oldest entries above the cap.
	_, err = tx.ExecContext(ctx,
		`DELETE FROM conversation_messages
		 WHERE user_id = $1 AND family_id = $2
		   AND seq <= (SELECT MAX(seq) FROM conversation_messages
		               WHERE user_id = $1 AND family_id = $2) - $3`,
		userID, familyID, keep)
	if err != nil {
		return fmt.Errorf("trim conversation: %w", err)
	}

	return tx.Commit()
}

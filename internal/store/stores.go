package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that matched no row. Cross-tenant
// mismatches surface as ErrNotFound, never as another family's data.
var ErrNotFound = errors.New("store: not found")

// ErrLastOwner is returned when removing a membership would leave a family
// with no owner.
var ErrLastOwner = errors.New("store: cannot remove last owner of family")

// Stores is the top-level container for all storage backends.
type Stores struct {
	Users        UserStore
	Families     FamilyStore
	Facts        FactStore
	Conversation ConversationStore
	Profiles     ProfileStore
	Todos        TodoStore
	Reminders    ReminderStore
	Skills       SkillStore
	Moderation   ModerationStore
	RateLimitLog RateLimitLogStore
	LLMLog       LLMLogStore
	GroupChats   GroupChatStore
	Schedule     ScheduleStateStore
	Settings     SettingsStore
	SelfReplied  SelfRepliedStore
}

// UserStore resolves and mutates principals.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByPhone(ctx context.Context, phone string) (*User, error)
	GetByTelegramID(ctx context.Context, telegramID string) (*User, error)
	ListByFamily(ctx context.Context, familyID uuid.UUID) ([]*User, error)
	ListAgentTriggers(ctx context.Context) ([]*User, error)
	GetAdmin(ctx context.Context) (*User, error)
	Create(ctx context.Context, u *User) error
	SetLastFamily(ctx context.Context, userID, familyID uuid.UUID) error
}

// FamilyStore manages tenancy boundaries and memberships.
type FamilyStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Family, error)
	Create(ctx context.Context, f *Family) error
	Memberships(ctx context.Context, userID uuid.UUID) ([]*Membership, error)
	FamilyMembers(ctx context.Context, familyID uuid.UUID) ([]*Membership, error)
	MemberCount(ctx context.Context, familyID uuid.UUID) (int, error)
	AddMembership(ctx context.Context, m *Membership) error
	// RemoveMembership fails with ErrLastOwner when it would strip the
	// family's final owner.
	RemoveMembership(ctx context.Context, userID, familyID uuid.UUID) error
}

// FactStore persists stated and inferred attributes.
type FactStore interface {
	Upsert(ctx context.Context, f *Fact) error
	Delete(ctx context.Context, userID, familyID uuid.UUID, key, scope string) error
	// List returns the user's facts plus the family's global-scoped facts.
	List(ctx context.Context, userID, familyID uuid.UUID) ([]*Fact, error)
}

// ConversationStore is the bounded append-only per-tenant log.
type ConversationStore interface {
	// Recent returns at most limit messages, oldest first.
	Recent(ctx context.Context, userID, familyID uuid.UUID, limit int) ([]*ConversationMessage, error)
	// AppendPair writes the user and assistant messages and trims to the
	// cap in one transaction.
	AppendPair(ctx context.Context, userID, familyID uuid.UUID, userText, assistantText string, keep int) error
}

// ProfileStore persists the running summary and personality instructions.
type ProfileStore interface {
	Get(ctx context.Context, userID, familyID uuid.UUID) (*Profile, error)
	SetSummary(ctx context.Context, userID, familyID uuid.UUID, sentences []string) error
	SetPersonality(ctx context.Context, userID, familyID uuid.UUID, instructions []string) error
}

// TodoStore manages per-assignee todo lists.
type TodoStore interface {
	List(ctx context.Context, assigneeID, familyID uuid.UUID, includeDone bool) ([]*Todo, error)
	Add(ctx context.Context, t *Todo) error
	SetDone(ctx context.Context, id int64, familyID uuid.UUID, done bool) error
	Delete(ctx context.Context, id int64, familyID uuid.UUID) error
}

// ReminderStore manages one-off and recurring reminders.
type ReminderStore interface {
	Get(ctx context.Context, id int64, familyID uuid.UUID) (*Reminder, error)
	ListByRecipient(ctx context.Context, recipientID, familyID uuid.UUID) ([]*Reminder, error)
	Create(ctx context.Context, r *Reminder) error
	Delete(ctx context.Context, id int64, familyID uuid.UUID) error
	// Due returns reminders whose deadline is at or before now.
	Due(ctx context.Context, now time.Time) ([]*Reminder, error)
	// ClaimOneOff stamps sent_at iff it is still NULL. Returns false when
	// another worker already owns this firing.
	ClaimOneOff(ctx context.Context, id int64, now time.Time) (bool, error)
	// AdvanceRecurring sets next_fire_at and last_fired_at.
	AdvanceRecurring(ctx context.Context, id int64, next, firedAt time.Time) error
}

// SkillStore loads the skill catalog and access config.
type SkillStore interface {
	List(ctx context.Context) ([]*Skill, error)
	Get(ctx context.Context, id string) (*Skill, error)
	Upsert(ctx context.Context, s *Skill) error
	Access(ctx context.Context) (*SkillAccess, error)
	SetAccess(ctx context.Context, a *SkillAccess) error
}

// ModerationStore records red-flag and PG-filter events.
type ModerationStore interface {
	Add(ctx context.Context, f *ModerationFlag) error
}

// RateLimitLogStore records "not allowed" decisions.
type RateLimitLogStore interface {
	Add(ctx context.Context, e *RateLimitEvent) error
}

// LLMLogStore is the model-call audit log.
type LLMLogStore interface {
	Add(ctx context.Context, e *LLMLogEntry) error
}

// GroupChatStore maps transport group chats to families.
type GroupChatStore interface {
	GetByChatID(ctx context.Context, chatID string) (*GroupChat, error)
	GetByName(ctx context.Context, familyID uuid.UUID, name string) (*GroupChat, error)
	Upsert(ctx context.Context, g *GroupChat) error
}

// ScheduleStateStore tracks last-fired timestamps per scheduled event.
type ScheduleStateStore interface {
	Get(ctx context.Context, userID, familyID uuid.UUID, event string) (*ScheduleState, error)
	Set(ctx context.Context, s *ScheduleState) error
}

// SettingsStore is the string key/value config table.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

// SelfRepliedStore remembers guids of our own outbound self-chat messages
// so the watcher never feeds a reply back into the router.
type SelfRepliedStore interface {
	MarkReplied(ctx context.Context, guid string) error
	HasReplied(ctx context.Context, guid string) (bool, error)
}

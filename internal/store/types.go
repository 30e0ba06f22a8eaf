// Package store defines the persisted entities and the storage interfaces
// the rest of the service is written against. Implementations live in
// store/pg; tests use in-memory fakes.
package store

import (
	"time"

	"github.com/google/uuid"
)

// Family is the tenancy boundary. All user-visible state is scoped by family.
type Family struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// User is a human principal. A user may belong to several families but has
// exactly one last-active family used to disambiguate DMs.
type User struct {
	ID           uuid.UUID
	FirstName    string
	LastName     string
	Phone        string // canonical 10-digit form, may be empty
	TelegramID   string // numeric Telegram id as string, may be empty
	Timezone     string // IANA zone, default America/New_York
	IsAdmin      bool
	AgentTrigger bool // may trigger the agent outside their self-chat
	LastFamilyID uuid.UUID
	CreatedAt    time.Time
}

// DisplayName returns "First Last" with empty parts elided.
func (u *User) DisplayName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	if u.FirstName == "" {
		return u.LastName
	}
	return u.FirstName + " " + u.LastName
}

// Membership roles.
const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleMember  = "member"
)

// Membership associates a user with a family.
type Membership struct {
	ID       int64
	UserID   uuid.UUID
	FamilyID uuid.UUID
	Role     string
	JoinedAt time.Time
}

// Fact scopes.
const (
	ScopeUser   = "user"
	ScopeGlobal = "global"
)

// Fact is a persistent attribute about a user, stated or inferred.
// Global-scoped facts are shared across the family.
type Fact struct {
	ID        int64
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	Key       string
	Value     string
	Scope     string
	Tags      []string
	UpdatedAt time.Time
}

// Conversation roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ConversationMessage is one entry of the bounded per-(user,family) log.
type ConversationMessage struct {
	Seq       int64
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	Role      string
	Content   string
	CreatedAt time.Time
}

// Profile carries the per-(user,family) running summary and personality
// instruction list used for prompt context.
type Profile struct {
	UserID      uuid.UUID
	FamilyID    uuid.UUID
	Summary     []string // ≤ 50 short sentences
	Personality []string // ≤ 20 de-duplicated imperatives
	UpdatedAt   time.Time
}

// Todo is one item on a per-assignee list. Creator and assignee may differ.
type Todo struct {
	ID         int64
	FamilyID   uuid.UUID
	AssigneeID uuid.UUID
	CreatorID  uuid.UUID
	Text       string
	Due        *time.Time
	Done       bool
	CreatedAt  time.Time
}

// Reminder kinds.
const (
	ReminderOneOff    = "one_off"
	ReminderRecurring = "recurring"
)

// Reminder is a scheduled message to a recipient. One-off reminders carry
// FireAt and are stamped SentAt on delivery; recurring reminders advance
// NextFireAt by their recurrence rule.
type Reminder struct {
	ID          int64
	FamilyID    uuid.UUID
	CreatorID   uuid.UUID
	RecipientID uuid.UUID
	Text        string
	Kind        string
	FireAt      *time.Time // one_off deadline, UTC
	Recurrence  string     // recurrence rule, see scheduler.ParseRecurrence
	NextFireAt  *time.Time // recurring next firing, UTC
	SentAt      *time.Time
	LastFiredAt *time.Time
	CreatedAt   time.Time
}

// Skill is a registry entry for an invocable capability.
type Skill struct {
	ID          string
	Name        string
	Description string
	Entrypoint  string
	InputSchema string // advisory JSON, not validated by the executor
}

// SkillAccess is the per-principal allow-list config.
// Effective list for a principal p is ByNumber[p] if present, else Default.
// Both empty means all skills are allowed.
type SkillAccess struct {
	Default  []string            `json:"default"`
	ByNumber map[string][]string `json:"byNumber"`
}

// Moderation actions.
const (
	ModerationBlocked  = "blocked"
	ModerationReplaced = "replaced"
	ModerationFlagged  = "flagged"
)

// ModerationFlag records a red-flag or PG-filter event.
type ModerationFlag struct {
	ID          int64
	UserID      uuid.UUID
	FamilyID    uuid.UUID
	Message     string
	Original    string // original response when replaced
	Replacement string
	Flags       []string
	Severity    string
	Action      string
	Reviewed    bool
	CreatedAt   time.Time
}

// RateLimitEvent records one "not allowed" decision.
type RateLimitEvent struct {
	ID            int64
	FamilyID      uuid.UUID
	UserID        uuid.UUID // may be Nil
	MessageCount  int
	WindowStart   time.Time
	WindowEnd     time.Time
	CooldownUntil *time.Time
	CooldownLevel int
	CreatedAt     time.Time
}

// LLMLogEntry is the audit row persisted for every model call.
type LLMLogEntry struct {
	ID         int64
	RequestID  string
	UserID     uuid.UUID // may be Nil
	FamilyID   uuid.UUID // may be Nil
	Owner      string
	Step       string
	RequestDoc string // JSON request document
	Response   string
	CreatedAt  time.Time
}

// GroupChat maps a transport group chat to a family.
// Group chat surface types.
const (
	GroupTelegram = "telegram"
	GroupSelfChat = "selfchat"
)

type GroupChat struct {
	ChatID   string
	Name     string
	Type     string // GroupTelegram or GroupSelfChat
	FamilyID uuid.UUID
}

// ScheduleState tracks last-fired dates for per-user scheduled events
// (daily starter, nudge, overdue sweep, daily todos) so a missed tick
// does not double-fire.
type ScheduleState struct {
	UserID    uuid.UUID
	FamilyID  uuid.UUID
	Event     string
	LastFired time.Time
}

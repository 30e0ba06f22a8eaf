// Package storetest provides in-memory store implementations for tests.
// Behaviour mirrors the Postgres stores, including tenancy predicates,
// conversation trimming, and the one-off reminder claim gate.
package storetest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// New returns a fully wired in-memory store.Stores.
func New() *store.Stores {
	mem := &Mem{}
	return &store.Stores{
		Users:        &UserStore{mem: mem},
		Families:     &FamilyStore{mem: mem},
		Facts:        &FactStore{mem: mem},
		Conversation: &ConversationStore{mem: mem},
		Profiles:     &ProfileStore{mem: mem},
		Todos:        &TodoStore{mem: mem},
		Reminders:    &ReminderStore{mem: mem},
		Skills:       &SkillStore{mem: mem},
		Moderation:   &ModerationStore{mem: mem},
		RateLimitLog: &RateLimitLogStore{mem: mem},
		LLMLog:       &LLMLogStore{mem: mem},
		GroupChats:   &GroupChatStore{mem: mem},
		Schedule:     &ScheduleStateStore{mem: mem},
		Settings:     &SettingsStore{mem: mem},
		SelfReplied:  &SelfRepliedStore{mem: mem},
	}
}

// Mem is the shared backing state. Exported fields let tests inspect
// written rows directly.
type Mem struct {
	mu sync.Mutex

	UsersRows       []*store.User
	FamiliesRows    []*store.Family
	MembershipRows  []*store.Membership
	FactRows        []*store.Fact
	ConversationLog []*store.ConversationMessage
	ProfileRows     []*store.Profile
	TodoRows        []*store.Todo
	ReminderRows    []*store.Reminder
	SkillRows       []*store.Skill
	AccessDoc       *store.SkillAccess
	ModerationRows  []*store.ModerationFlag
	RateLimitRows   []*store.RateLimitEvent
	LLMRows         []*store.LLMLogEntry
	GroupChatRows   []*store.GroupChat
	ScheduleRows    []*store.ScheduleState
	SettingsKV      map[string]string
	RepliedGuids    map[string]bool

	nextID int64
}

func (m *Mem) id() int64 {
	m.nextID++
	return m.nextID
}

// MemOf digs the shared *Mem back out of a Stores built by New,
// for direct inspection in tests.
func MemOf(s *store.Stores) *Mem {
	return s.Users.(*UserStore).mem
}

// --- users ---

type UserStore struct{ mem *Mem }

func (s *UserStore) GetByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, u := range s.mem.UsersRows {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *UserStore) GetByPhone(_ context.Context, phone string) (*store.User, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, u := range s.mem.UsersRows {
		if u.Phone == phone && phone != "" {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *UserStore) GetByTelegramID(_ context.Context, telegramID string) (*store.User, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, u := range s.mem.UsersRows {
		if u.TelegramID == telegramID && telegramID != "" {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *UserStore) ListByFamily(_ context.Context, familyID uuid.UUID) ([]*store.User, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var users []*store.User
	for _, m := range s.mem.MembershipRows {
		if m.FamilyID != familyID {
			continue
		}
		for _, u := range s.mem.UsersRows {
			if u.ID == m.UserID {
				users = append(users, u)
			}
		}
	}
	return users, nil
}

func (s *UserStore) ListAgentTriggers(_ context.Context) ([]*store.User, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var users []*store.User
	for _, u := range s.mem.UsersRows {
		if u.AgentTrigger {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *UserStore) GetAdmin(_ context.Context) (*store.User, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, u := range s.mem.UsersRows {
		if u.IsAdmin {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *UserStore) Create(_ context.Context, u *store.User) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
	}
	if u.Timezone == "" {
		u.Timezone = "America/New_York"
	}
	s.mem.UsersRows = append(s.mem.UsersRows, u)
	return nil
}

func (s *UserStore) SetLastFamily(_ context.Context, userID, familyID uuid.UUID) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, u := range s.mem.UsersRows {
		if u.ID == userID {
			u.LastFamilyID = familyID
			return nil
		}
	}
	return store.ErrNotFound
}

// --- families ---

type FamilyStore struct{ mem *Mem }

func (s *FamilyStore) Get(_ context.Context, id uuid.UUID) (*store.Family, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, f := range s.mem.FamiliesRows {
		if f.ID == id {
			return f, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *FamilyStore) Create(_ context.Context, f *store.Family) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if f.ID == uuid.Nil {
		f.ID = uuid.Must(uuid.NewV7())
	}
	s.mem.FamiliesRows = append(s.mem.FamiliesRows, f)
	return nil
}

func (s *FamilyStore) Memberships(_ context.Context, userID uuid.UUID) ([]*store.Membership, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var ms []*store.Membership
	for _, m := range s.mem.MembershipRows {
		if m.UserID == userID {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].ID < ms[j].ID })
	return ms, nil
}

func (s *FamilyStore) FamilyMembers(_ context.Context, familyID uuid.UUID) ([]*store.Membership, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var ms []*store.Membership
	for _, m := range s.mem.MembershipRows {
		if m.FamilyID == familyID {
			ms = append(ms, m)
		}
	}
	return ms, nil
}

func (s *FamilyStore) MemberCount(_ context.Context, familyID uuid.UUID) (int, error) {
	ms, _ := s.FamilyMembers(nil, familyID)
	return len(ms), nil
}

func (s *FamilyStore) AddMembership(_ context.Context, m *store.Membership) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	m.ID = s.mem.id()
	s.mem.MembershipRows = append(s.mem.MembershipRows, m)
	return nil
}

func (s *FamilyStore) RemoveMembership(_ context.Context, userID, familyID uuid.UUID) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	idx := -1
	owners := 0
	for i, m := range s.mem.MembershipRows {
		if m.FamilyID == familyID && m.Role == store.RoleOwner {
			owners++
		}
		if m.FamilyID == familyID && m.UserID == userID {
			idx = i
		}
	}
	if idx < 0 {
		return store.ErrNotFound
	}
	if s.mem.MembershipRows[idx].Role == store.RoleOwner && owners <= 1 {
		return store.ErrLastOwner
	}
	s.mem.MembershipRows = append(s.mem.MembershipRows[:idx], s.mem.MembershipRows[idx+1:]...)
	return nil
}

// --- facts ---

type FactStore struct{ mem *Mem }

func (s *FactStore) Upsert(_ context.Context, f *store.Fact) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	f.UpdatedAt = time.Now().UTC()
	for _, existing := range s.mem.FactRows {
		if existing.UserID == f.UserID && existing.FamilyID == f.FamilyID &&
			existing.Key == f.Key && existing.Scope == f.Scope {
			existing.Value = f.Value
			existing.Tags = f.Tags
			existing.UpdatedAt = f.UpdatedAt
			f.ID = existing.ID
			return nil
		}
	}
	f.ID = s.mem.id()
	clone := *f
	s.mem.FactRows = append(s.mem.FactRows, &clone)
	return nil
}

func (s *FactStore) Delete(_ context.Context, userID, familyID uuid.UUID, key, scope string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for i, f := range s.mem.FactRows {
		if f.UserID == userID && f.FamilyID == familyID && f.Key == key && f.Scope == scope {
			s.mem.FactRows = append(s.mem.FactRows[:i], s.mem.FactRows[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *FactStore) List(_ context.Context, userID, familyID uuid.UUID) ([]*store.Fact, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var facts []*store.Fact
	for _, f := range s.mem.FactRows {
		if f.FamilyID == familyID && (f.UserID == userID || f.Scope == store.ScopeGlobal) {
			facts = append(facts, f)
		}
	}
	sort.Slice(facts, func(i, j int) bool { return facts[i].UpdatedAt.After(facts[j].UpdatedAt) })
	return facts, nil
}

// --- conversation ---

type ConversationStore struct{ mem *Mem }

func (s *ConversationStore) Recent(_ context.Context, userID, familyID uuid.UUID, limit int) ([]*store.ConversationMessage, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var msgs []*store.ConversationMessage
	for _, m := range s.mem.ConversationLog {
		if m.UserID == userID && m.FamilyID == familyID {
			msgs = append(msgs, m)
		}
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Seq < msgs[j].Seq })
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (s *ConversationStore) AppendPair(_ context.Context, userID, familyID uuid.UUID, userText, assistantText string, keep int) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var max int64
	for _, m := range s.mem.ConversationLog {
		if m.UserID == userID && m.FamilyID == familyID && m.Seq > max {
			max = m.Seq
		}
	}
	now := time.Now().UTC()
	s.mem.ConversationLog = append(s.mem.ConversationLog,
		&store.ConversationMessage{UserID: userID, FamilyID: familyID, Seq: max + 1, Role: store.RoleUser, Content: userText, CreatedAt: now},
		&store.ConversationMessage{UserID: userID, FamilyID: familyID, Seq: max + 2, Role: store.RoleAssistant, Content: assistantText, CreatedAt: now},
	)
	cutoff := max + 2 - int64(keep)
	var kept []*store.ConversationMessage
	for _, m := range s.mem.ConversationLog {
		if m.UserID == userID && m.FamilyID == familyID && m.Seq <= cutoff {
			continue
		}
		kept = append(kept, m)
	}
	s.mem.ConversationLog = kept
	return nil
}

// --- profiles ---

type ProfileStore struct{ mem *Mem }

func (s *ProfileStore) find(userID, familyID uuid.UUID) *store.Profile {
	for _, p := range s.mem.ProfileRows {
		if p.UserID == userID && p.FamilyID == familyID {
			return p
		}
	}
	return nil
}

func (s *ProfileStore) Get(_ context.Context, userID, familyID uuid.UUID) (*store.Profile, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if p := s.find(userID, familyID); p != nil {
		return p, nil
	}
	return &store.Profile{UserID: userID, FamilyID: familyID}, nil
}

func (s *ProfileStore) SetSummary(_ context.Context, userID, familyID uuid.UUID, sentences []string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	p := s.find(userID, familyID)
	if p == nil {
		p = &store.Profile{UserID: userID, FamilyID: familyID}
		s.mem.ProfileRows = append(s.mem.ProfileRows, p)
	}
	p.Summary = sentences
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *ProfileStore) SetPersonality(_ context.Context, userID, familyID uuid.UUID, instructions []string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	p := s.find(userID, familyID)
	if p == nil {
		p = &store.Profile{UserID: userID, FamilyID: familyID}
		s.mem.ProfileRows = append(s.mem.ProfileRows, p)
	}
	p.Personality = instructions
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// --- todos ---

type TodoStore struct{ mem *Mem }

func (s *TodoStore) List(_ context.Context, assigneeID, familyID uuid.UUID, includeDone bool) ([]*store.Todo, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var todos []*store.Todo
	for _, t := range s.mem.TodoRows {
		if t.AssigneeID == assigneeID && t.FamilyID == familyID && (includeDone || !t.Done) {
			todos = append(todos, t)
		}
	}
	return todos, nil
}

func (s *TodoStore) Add(_ context.Context, t *store.Todo) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	t.ID = s.mem.id()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.mem.TodoRows = append(s.mem.TodoRows, t)
	return nil
}

func (s *TodoStore) SetDone(_ context.Context, id int64, familyID uuid.UUID, done bool) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, t := range s.mem.TodoRows {
		if t.ID == id && t.FamilyID == familyID {
			t.Done = done
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *TodoStore) Delete(_ context.Context, id int64, familyID uuid.UUID) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for i, t := range s.mem.TodoRows {
		if t.ID == id && t.FamilyID == familyID {
			s.mem.TodoRows = append(s.mem.TodoRows[:i], s.mem.TodoRows[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// --- reminders ---

type ReminderStore struct{ mem *Mem }

func (s *ReminderStore) Get(_ context.Context, id int64, familyID uuid.UUID) (*store.Reminder, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, r := range s.mem.ReminderRows {
		if r.ID == id && r.FamilyID == familyID {
			return r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *ReminderStore) ListByRecipient(_ context.Context, recipientID, familyID uuid.UUID) ([]*store.Reminder, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var rs []*store.Reminder
	for _, r := range s.mem.ReminderRows {
		if r.RecipientID == recipientID && r.FamilyID == familyID {
			rs = append(rs, r)
		}
	}
	return rs, nil
}

func (s *ReminderStore) Create(_ context.Context, r *store.Reminder) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	r.ID = s.mem.id()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	s.mem.ReminderRows = append(s.mem.ReminderRows, r)
	return nil
}

func (s *ReminderStore) Delete(_ context.Context, id int64, familyID uuid.UUID) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for i, r := range s.mem.ReminderRows {
		if r.ID == id && r.FamilyID == familyID {
			s.mem.ReminderRows = append(s.mem.ReminderRows[:i], s.mem.ReminderRows[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *ReminderStore) Due(_ context.Context, now time.Time) ([]*store.Reminder, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	var due []*store.Reminder
	for _, r := range s.mem.ReminderRows {
		switch r.Kind {
		case store.ReminderOneOff:
			if r.SentAt == nil && r.FireAt != nil && !r.FireAt.After(now) {
				due = append(due, r)
			}
		case store.ReminderRecurring:
			if r.NextFireAt != nil && !r.NextFireAt.After(now) {
				due = append(due, r)
			}
		}
	}
	return due, nil
}

func (s *ReminderStore) ClaimOneOff(_ context.Context, id int64, now time.Time) (bool, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, r := range s.mem.ReminderRows {
		if r.ID == id && r.Kind == store.ReminderOneOff {
			if r.SentAt != nil {
				return false, nil
			}
			t := now
			r.SentAt = &t
			return true, nil
		}
	}
	return false, nil
}

func (s *ReminderStore) AdvanceRecurring(_ context.Context, id int64, next, firedAt time.Time) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, r := range s.mem.ReminderRows {
		if r.ID == id && r.Kind == store.ReminderRecurring {
			n, f := next, firedAt
			r.NextFireAt = &n
			r.LastFiredAt = &f
			return nil
		}
	}
	return store.ErrNotFound
}

// --- skills ---

type SkillStore struct{ mem *Mem }

func (s *SkillStore) List(_ context.Context) ([]*store.Skill, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	return append([]*store.Skill(nil), s.mem.SkillRows...), nil
}

func (s *SkillStore) Get(_ context.Context, id string) (*store.Skill, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, sk := range s.mem.SkillRows {
		if sk.ID == id {
			return sk, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *SkillStore) Upsert(_ context.Context, sk *store.Skill) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for i, existing := range s.mem.SkillRows {
		if existing.ID == sk.ID {
			s.mem.SkillRows[i] = sk
			return nil
		}
	}
	s.mem.SkillRows = append(s.mem.SkillRows, sk)
	return nil
}

func (s *SkillStore) Access(_ context.Context) (*store.SkillAccess, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if s.mem.AccessDoc == nil {
		return &store.SkillAccess{}, nil
	}
	return s.mem.AccessDoc, nil
}

func (s *SkillStore) SetAccess(_ context.Context, a *store.SkillAccess) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	s.mem.AccessDoc = a
	return nil
}

// --- append-only logs ---

type ModerationStore struct{ mem *Mem }

func (s *ModerationStore) Add(_ context.Context, f *store.ModerationFlag) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	f.ID = s.mem.id()
	s.mem.ModerationRows = append(s.mem.ModerationRows, f)
	return nil
}

type RateLimitLogStore struct{ mem *Mem }

func (s *RateLimitLogStore) Add(_ context.Context, e *store.RateLimitEvent) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	e.ID = s.mem.id()
	s.mem.RateLimitRows = append(s.mem.RateLimitRows, e)
	return nil
}

type LLMLogStore struct{ mem *Mem }

func (s *LLMLogStore) Add(_ context.Context, e *store.LLMLogEntry) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	e.ID = s.mem.id()
	s.mem.LLMRows = append(s.mem.LLMRows, e)
	return nil
}

// --- group chats, schedule, settings, self-replied ---

type GroupChatStore struct{ mem *Mem }

func (s *GroupChatStore) GetByChatID(_ context.Context, chatID string) (*store.GroupChat, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, g := range s.mem.GroupChatRows {
		if g.ChatID == chatID {
			return g, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *GroupChatStore) GetByName(_ context.Context, familyID uuid.UUID, name string) (*store.GroupChat, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, g := range s.mem.GroupChatRows {
		if g.FamilyID == familyID && strings.EqualFold(g.Name, name) {
			return g, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *GroupChatStore) Upsert(_ context.Context, g *store.GroupChat) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for i, existing := range s.mem.GroupChatRows {
		if existing.ChatID == g.ChatID {
			s.mem.GroupChatRows[i] = g
			return nil
		}
	}
	s.mem.GroupChatRows = append(s.mem.GroupChatRows, g)
	return nil
}

type ScheduleStateStore struct{ mem *Mem }

func (s *ScheduleStateStore) Get(_ context.Context, userID, familyID uuid.UUID, event string) (*store.ScheduleState, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for _, st := range s.mem.ScheduleRows {
		if st.UserID == userID && st.FamilyID == familyID && st.Event == event {
			return st, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *ScheduleStateStore) Set(_ context.Context, st *store.ScheduleState) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	for i, existing := range s.mem.ScheduleRows {
		if existing.UserID == st.UserID && existing.FamilyID == st.FamilyID && existing.Event == st.Event {
			s.mem.ScheduleRows[i] = st
			return nil
		}
	}
	s.mem.ScheduleRows = append(s.mem.ScheduleRows, st)
	return nil
}

type SettingsStore struct{ mem *Mem }

func (s *SettingsStore) Get(_ context.Context, key string) (string, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if v, ok := s.mem.SettingsKV[key]; ok {
		return v, nil
	}
	return "", store.ErrNotFound
}

func (s *SettingsStore) Set(_ context.Context, key, value string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if s.mem.SettingsKV == nil {
		s.mem.SettingsKV = make(map[string]string)
	}
	s.mem.SettingsKV[key] = value
	return nil
}

type SelfRepliedStore struct{ mem *Mem }

func (s *SelfRepliedStore) MarkReplied(_ context.Context, guid string) error {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	if s.mem.RepliedGuids == nil {
		s.mem.RepliedGuids = make(map[string]bool)
	}
	s.mem.RepliedGuids[guid] = true
	return nil
}

func (s *SelfRepliedStore) HasReplied(_ context.Context, guid string) (bool, error) {
	s.mem.mu.Lock()
	defer s.mem.mu.Unlock()
	return s.mem.RepliedGuids[guid], nil
}

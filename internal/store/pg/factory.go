package pg

import (
	"database/sql"

	"github.com/bofamily/bo/internal/store"
)

// NewStores creates all stores backed by a shared Postgres pool.
func NewStores(db *sql.DB) *store.Stores {
	return &store.Stores{
		Users:        NewUserStore(db),
		Families:     NewFamilyStore(db),
		Facts:        NewFactStore(db),
		Conversation: NewConversationStore(db),
		Profiles:     NewProfileStore(db),
		Todos:        NewTodoStore(db),
		Reminders:    NewReminderStore(db),
		Skills:       NewSkillStore(db),
		Moderation:   NewModerationStore(db),
		RateLimitLog: NewRateLimitLogStore(db),
		LLMLog:       NewLLMLogStore(db),
		GroupChats:   NewGroupChatStore(db),
		Schedule:     NewScheduleStateStore(db),
		Settings:     NewSettingsStore(db),
		SelfReplied:  NewSelfRepliedStore(db),
	}
}

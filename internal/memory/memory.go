// Package memory orchestrates the per-tenant conversation memory: facts
// relevant to the current message, the bounded conversation log, the
// running summary, and personality instructions.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

const (
	// MaxRelevantFacts caps the facts included in prompt context.
	MaxRelevantFacts = 12

	// MaxSummarySentences bounds the running narrative.
	MaxSummarySentences = 50

	// MaxPersonalityInstructions bounds the instruction list.
	MaxPersonalityInstructions = 20
)

// ReservedKeys must never be persisted as facts.
var ReservedKeys = map[string]bool{
	"primary_user_id": true,
	"request_id":      true,
	"owner":           true,
	"family_id":       true,
	"user_id":         true,
}

// boostedKeys get a fixed scoring bump so core identity facts surface
// even on low token overlap.
var boostedKeys = map[string]bool{
	"name":     true,
	"email":    true,
	"location": true,
	"city":     true,
	"state":    true,
	"zip":      true,
	"home_zip": true,
	"timezone": true,
}

// Store wraps the persistence layer with the pipeline's memory semantics.
type Store struct {
	facts        store.FactStore
	conversation store.ConversationStore
	profiles     store.ProfileStore

	conversationCap int
}

func New(facts store.FactStore, conversation store.ConversationStore, profiles store.ProfileStore, conversationCap int) *Store {
	if conversationCap < 2 || conversationCap > 100 {
		conversationCap = 20
	}
	return &Store{
		facts:           facts,
		conversation:    conversation,
		profiles:        profiles,
		conversationCap: conversationCap,
	}
}

// RelevantFacts scores the tenant's facts against the message by token
// overlap across key, value, and tags, boosts core identity keys, breaks
// ties by recency, and returns at most MaxRelevantFacts.
func (s *Store) RelevantFacts(ctx context.Context, userID, familyID uuid.UUID, message string) ([]*store.Fact, error) {
	facts, err := s.facts.List(ctx, userID, familyID)
	if err != nil {
		return nil, fmt.Errorf("list facts: %w", err)
	}

	tokens := tokenize(message)
	type scored struct {
		fact  *store.Fact
		score int
	}
	var ranked []scored
	for _, f := range facts {
		score := overlap(tokens, tokenize(f.Key)) +
			overlap(tokens, tokenize(f.Value))
		for _, tag := range f.Tags {
			score += overlap(tokens, tokenize(tag))
		}
		if boostedKeys[f.Key] {
			score += 2
		}
		if score > 0 {
			ranked = append(ranked, scored{fact: f, score: score})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].fact.UpdatedAt.After(ranked[j].fact.UpdatedAt)
	})

	if len(ranked) > MaxRelevantFacts {
		ranked = ranked[:MaxRelevantFacts]
	}
	out := make([]*store.Fact, len(ranked))
	for i, r := range ranked {
		out[i] = r.fact
	}
	return out, nil
}

// AllFacts returns every fact for the tenant, for "what do you know
// about me" style queries.
func (s *Store) AllFacts(ctx context.Context, userID, familyID uuid.UUID) ([]*store.Fact, error) {
	return s.facts.List(ctx, userID, familyID)
}

// SaveFact upserts a fact unless its key is reserved.
func (s *Store) SaveFact(ctx context.Context, f *store.Fact) error {
	if ReservedKeys[f.Key] {
		return fmt.Errorf("memory: key %q is reserved", f.Key)
	}
	if f.Scope != store.ScopeGlobal {
		f.Scope = store.ScopeUser
	}
	return s.facts.Upsert(ctx, f)
}

// Conversation returns the most recent messages, oldest first.
func (s *Store) Conversation(ctx context.Context, userID, familyID uuid.UUID) ([]*store.ConversationMessage, error) {
	return s.conversation.Recent(ctx, userID, familyID, s.conversationCap)
}

// AppendExchange records a user/assistant pair and trims to the cap.
func (s *Store) AppendExchange(ctx context.Context, userID, familyID uuid.UUID, userText, assistantText string) error {
	return s.conversation.AppendPair(ctx, userID, familyID, userText, assistantText, s.conversationCap)
}

// SummaryText returns the running summary as one prompt-ready string.
func (s *Store) SummaryText(ctx context.Context, userID, familyID uuid.UUID) (string, error) {
	p, err := s.profiles.Get(ctx, userID, familyID)
	if err != nil {
		return "", err
	}
	return strings.Join(p.Summary, " "), nil
}

// ReplaceSummary splits the new summary on ". " into sentences and stores
// up to MaxSummarySentences of them.
func (s *Store) ReplaceSummary(ctx context.Context, userID, familyID uuid.UUID, summary string) error {
	sentences := splitSentences(summary)
	if len(sentences) > MaxSummarySentences {
		sentences = sentences[len(sentences)-MaxSummarySentences:]
	}
	return s.profiles.SetSummary(ctx, userID, familyID, sentences)
}

// PersonalityText returns the instruction list as one prompt-ready string.
func (s *Store) PersonalityText(ctx context.Context, userID, familyID uuid.UUID) (string, error) {
	p, err := s.profiles.Get(ctx, userID, familyID)
	if err != nil {
		return "", err
	}
	return strings.Join(p.Personality, ". "), nil
}

// AppendPersonality splits the input on ". " and appends each sentence,
// de-duplicated case-insensitively, dropping the oldest above the cap.
func (s *Store) AppendPersonality(ctx context.Context, userID, familyID uuid.UUID, instruction string) error {
	p, err := s.profiles.Get(ctx, userID, familyID)
	if err != nil {
		return err
	}

	current := append([]string(nil), p.Personality...)
	for _, sentence := range splitSentences(instruction) {
		if sentence == "" {
			continue
		}
		dup := false
		for _, existing := range current {
			if strings.EqualFold(existing, sentence) {
				dup = true
				break
			}
		}
		if !dup {
			current = append(current, sentence)
		}
	}
	if len(current) > MaxPersonalityInstructions {
		current = current[len(current)-MaxPersonalityInstructions:]
	}
	return s.profiles.SetPersonality(ctx, userID, familyID, current)
}

// --- helpers ---

func splitSentences(text string) []string {
	var out []string
	for _, part := range strings.Split(text, ". ") {
		part = strings.TrimSpace(strings.TrimSuffix(part, "."))
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func tokenize(text string) map[string]bool {
	tokens := make(map[string]bool)
	text = strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(text))
	for _, word := range strings.Fields(text) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if len(word) >= 3 {
			tokens[word] = true
		}
	}
	return tokens
}

func overlap(a, b map[string]bool) int {
	n := 0
	for tok := range b {
		if a[tok] {
			n++
		}
	}
	return n
}

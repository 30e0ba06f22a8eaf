package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/store/storetest"
)

func newStore(t *testing.T) (*Store, uuid.UUID, uuid.UUID) {
	t.Helper()
	stores := storetest.New()
	userID := uuid.Must(uuid.NewV7())
	familyID := uuid.Must(uuid.NewV7())
	return New(stores.Facts, stores.Conversation, stores.Profiles, 6), userID, familyID
}

func TestRelevantFactsScoring(t *testing.T) {
	s, userID, familyID := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveFact(ctx, &store.Fact{
		UserID: userID, FamilyID: familyID,
		Key: "favorite_pizza", Value: "pepperoni from Sal's", Tags: []string{"food"},
	}))
	require.NoError(t, s.SaveFact(ctx, &store.Fact{
		UserID: userID, FamilyID: familyID,
		Key: "car_model", Value: "blue Honda Odyssey",
	}))

	facts, err := s.RelevantFacts(ctx, userID, familyID, "what pizza should I order for the food party")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "favorite_pizza", facts[0].Key)
}

func TestRelevantFactsBoostsIdentityKeys(t *testing.T) {
	s, userID, familyID := newStore(t)
	ctx := context.Background()

	// Zero-overlap facts: only the boosted key should surface.
	require.NoError(t, s.SaveFact(ctx, &store.Fact{
		UserID: userID, FamilyID: familyID, Key: "home_zip", Value: "30642",
	}))
	require.NoError(t, s.SaveFact(ctx, &store.Fact{
		UserID: userID, FamilyID: familyID, Key: "shoe_size", Value: "11",
	}))

	facts, err := s.RelevantFacts(ctx, userID, familyID, "anything happening today")
	require.NoError(t, err)
	require.Len(t, facts, 1)
	require.Equal(t, "home_zip", facts[0].Key)
}

func TestRelevantFactsCap(t *testing.T) {
	s, userID, familyID := newStore(t)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, s.SaveFact(ctx, &store.Fact{
			UserID: userID, FamilyID: familyID,
			Key: fmt.Sprintf("weather_note_%d", i), Value: "likes weather updates",
		}))
	}
	facts, err := s.RelevantFacts(ctx, userID, familyID, "weather updates please")
	require.NoError(t, err)
	require.Len(t, facts, MaxRelevantFacts)
}

func TestSaveFactRejectsReservedKey(t *testing.T) {
	s, userID, familyID := newStore(t)
	err := s.SaveFact(context.Background(), &store.Fact{
		UserID: userID, FamilyID: familyID, Key: "primary_user_id", Value: "x",
	})
	require.Error(t, err)
}

func TestSaveFactIdempotent(t *testing.T) {
	s, userID, familyID := newStore(t)
	ctx := context.Background()
	f := &store.Fact{UserID: userID, FamilyID: familyID, Key: "city", Value: "Atlanta"}
	require.NoError(t, s.SaveFact(ctx, f))
	require.NoError(t, s.SaveFact(ctx, &store.Fact{
		UserID: userID, FamilyID: familyID, Key: "city", Value: "Atlanta",
	}))
	all, err := s.AllFacts(ctx, userID, familyID)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "Atlanta", all[0].Value)
}

func TestConversationCap(t *testing.T) {
	s, userID, familyID := newStore(t) // cap 6
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, s.AppendExchange(ctx, userID, familyID,
			fmt.Sprintf("msg %d", i), fmt.Sprintf("reply %d", i)))
	}
	msgs, err := s.Conversation(ctx, userID, familyID)
	require.NoError(t, err)
	require.Len(t, msgs, 6)
	// Oldest first, and only the newest exchanges survive.
	require.Equal(t, "msg 7", msgs[0].Content)
	require.Equal(t, "reply 9", msgs[5].Content)
}

func TestAppendPersonalityDeduplicatesAndSplits(t *testing.T) {
	s, userID, familyID := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendPersonality(ctx, userID, familyID, "Talk more concisely. Use fewer emojis."))
	require.NoError(t, s.AppendPersonality(ctx, userID, familyID, "talk more concisely"))

	text, err := s.PersonalityText(ctx, userID, familyID)
	require.NoError(t, err)
	require.Equal(t, "Talk more concisely. Use fewer emojis", text)
}

func TestReplaceSummaryCapsSentences(t *testing.T) {
	s, userID, familyID := newStore(t)
	ctx := context.Background()

	long := ""
	for i := 0; i < 60; i++ {
		long += fmt.Sprintf("Sentence number %d. ", i)
	}
	require.NoError(t, s.ReplaceSummary(ctx, userID, familyID, long))

	text, err := s.SummaryText(ctx, userID, familyID)
	require.NoError(t, err)
	require.Contains(t, text, "Sentence number 59")
	require.NotContains(t, text, "Sentence number 5 ")
}

package skills

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/bootstrap"
	"github.com/bofamily/bo/internal/store"
	"github.com/bofamily/bo/internal/store/storetest"
)

func seedRegistry(t *testing.T, access *store.SkillAccess) *Registry {
	t.Helper()
	stores := storetest.New()
	ctx := context.Background()

	// IDs and display names deliberately differ: lookups go by id.
	for _, s := range []*store.Skill{
		{ID: "weather", Name: "Weather", Description: "current weather and forecasts", Entrypoint: "bo-skill-weather"},
		{ID: "todo", Name: "Todo List", Description: "manage the todo list", Entrypoint: "bo-skill-todo"},
		{ID: "google", Name: "Web Search", Description: "web search", Entrypoint: "bo-skill-google"},
	} {
		require.NoError(t, stores.Skills.Upsert(ctx, s))
	}
	if access != nil {
		require.NoError(t, stores.Skills.SetAccess(ctx, access))
	}

	r, err := LoadRegistry(ctx, stores.Skills)
	require.NoError(t, err)
	return r
}

func TestAllowedEmptyConfigAllowsAll(t *testing.T) {
	r := seedRegistry(t, nil)
	require.True(t, r.Allowed("5551234567", "weather"))
	require.True(t, r.Allowed("5551234567", "google"))
	require.False(t, r.Allowed("5551234567", "nonexistent"))
}

func TestAllowedByNumberOverridesDefault(t *testing.T) {
	r := seedRegistry(t, &store.SkillAccess{
		Default:  []string{"weather", "todo"},
		ByNumber: map[string][]string{"5559998888": {"weather"}},
	})

	require.True(t, r.Allowed("5551234567", "todo"))
	require.False(t, r.Allowed("5551234567", "google"))

	require.True(t, r.Allowed("5559998888", "weather"))
	require.False(t, r.Allowed("5559998888", "todo"))
}

func TestAllowedIgnoresUnknownIDs(t *testing.T) {
	r := seedRegistry(t, &store.SkillAccess{Default: []string{"weather", "retired_skill"}})
	require.True(t, r.Allowed("5551234567", "weather"))
	require.False(t, r.Allowed("5551234567", "retired_skill"))
}

func TestSyntheticAlwaysAllowed(t *testing.T) {
	r := seedRegistry(t, &store.SkillAccess{Default: []string{"weather"}})
	for _, id := range []string{SkillCreateResponse, SkillFriendMode, SkillSendToContact} {
		require.True(t, r.Allowed("5551234567", id))
	}
}

func TestAvailableExcludes(t *testing.T) {
	r := seedRegistry(t, nil)
	ids := func(list []*store.Skill) []string {
		var out []string
		for _, s := range list {
			out = append(out, s.ID)
		}
		return out
	}

	// Sorted by display name: Todo List, Weather, Web Search.
	require.Equal(t, []string{"todo", "weather", "google"}, ids(r.Available("5551234567")))
	require.Equal(t, []string{"weather", "google"}, ids(r.Available("5551234567", "todo")))
}

func TestRegistryKeysByCatalogID(t *testing.T) {
	stores := storetest.New()
	ctx := context.Background()

	seeds, err := bootstrap.DefaultSkills()
	require.NoError(t, err)
	for _, s := range seeds {
		require.NoError(t, stores.Skills.Upsert(ctx, s))
	}

	r, err := LoadRegistry(ctx, stores.Skills)
	require.NoError(t, err)

	// The shipped catalog uses ids like "weather" with display names
	// like "Weather"; routing, ACLs, and the short-circuit all speak id.
	sk, ok := r.Get("weather")
	require.True(t, ok, "catalog skill must resolve by id")
	require.Equal(t, "Weather", sk.Name)
	require.True(t, r.Allowed("5551234567", "weather"))

	_, ok = r.Get("Weather")
	require.False(t, ok, "display name is not a lookup key")

	catalog := r.CatalogText("5551234567")
	require.Contains(t, catalog, "- weather:")
	require.NotContains(t, catalog, "- Weather:")
}

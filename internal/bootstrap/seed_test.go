package bootstrap

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bofamily/bo/internal/store/storetest"
)

func TestDefaultSkillsParse(t *testing.T) {
	skills, err := DefaultSkills()
	require.NoError(t, err)
	require.NotEmpty(t, skills)

	ids := make(map[string]bool)
	for _, s := range skills {
		require.NotEmpty(t, s.ID)
		require.NotEmpty(t, s.Entrypoint)
		require.False(t, ids[s.ID], "duplicate skill id %s", s.ID)
		ids[s.ID] = true
	}
	require.True(t, ids["weather"])
	require.True(t, ids["todo"])
}

func TestSeedIsIdempotent(t *testing.T) {
	stores := storetest.New()
	ctx := context.Background()
	opts := Options{FamilyName: "Hogue", OwnerFirst: "Jon", OwnerLast: "Hogue", OwnerPhone: "(555) 123-4567"}

	require.NoError(t, Seed(ctx, stores, opts))
	require.NoError(t, Seed(ctx, stores, opts))

	owner, err := stores.Users.GetByPhone(ctx, "5551234567")
	require.NoError(t, err)
	require.True(t, owner.IsAdmin)
	require.True(t, owner.AgentTrigger)

	members, err := stores.Families.Memberships(ctx, owner.ID)
	require.NoError(t, err)
	require.Len(t, members, 1)

	skills, err := stores.Skills.List(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, skills)
}

// Package bootstrap seeds a fresh database: the default skill catalog
// plus an initial family and owner.
package bootstrap

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/titanous/json5"

	"github.com/bofamily/bo/internal/identity"
	"github.com/bofamily/bo/internal/store"
)

//go:embed defaults/skills.json5
var defaultsFS embed.FS

type skillSeed struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Entrypoint  string `json:"entrypoint"`
	InputSchema string `json:"input_schema"`
}

// DefaultSkills parses the embedded skill catalog.
func DefaultSkills() ([]*store.Skill, error) {
	data, err := defaultsFS.ReadFile("defaults/skills.json5")
	if err != nil {
		return nil, fmt.Errorf("read default skills: %w", err)
	}
	var seeds []skillSeed
	if err := json5.Unmarshal(data, &seeds); err != nil {
		return nil, fmt.Errorf("parse default skills: %w", err)
	}
	skills := make([]*store.Skill, 0, len(seeds))
	for _, s := range seeds {
		skills = append(skills, &store.Skill{
			ID:          s.ID,
			Name:        s.Name,
			Description: s.Description,
			Entrypoint:  s.Entrypoint,
			InputSchema: s.InputSchema,
		})
	}
	return skills, nil
}

// Options names the initial family and its owner.
type Options struct {
	FamilyName string
	OwnerFirst string
	OwnerLast  string
	OwnerPhone string
}

// Seed upserts the default skills and, when the owner phone is not yet
// known, creates the family and its owner. Idempotent.
func Seed(ctx context.Context, stores *store.Stores, opts Options) error {
	skills, err := DefaultSkills()
	if err != nil {
		return err
	}
	for _, s := range skills {
		if err := stores.Skills.Upsert(ctx, s); err != nil {
			return fmt.Errorf("seed skill %s: %w", s.ID, err)
		}
	}
	slog.Info("default skills seeded", "count", len(skills))

	if opts.OwnerPhone == "" {
		return nil
	}
	phone := identity.Canonical(opts.OwnerPhone)
	if !identity.IsPhone(phone) {
		return fmt.Errorf("seed owner: %q is not a valid phone", opts.OwnerPhone)
	}

	if _, err := stores.Users.GetByPhone(ctx, phone); err == nil {
		slog.Info("owner already exists, skipping family seed", "phone", phone)
		return nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("seed owner lookup: %w", err)
	}

	family := &store.Family{Name: opts.FamilyName}
	if err := stores.Families.Create(ctx, family); err != nil {
		return fmt.Errorf("seed family: %w", err)
	}
	owner := &store.User{
		FirstName:    opts.OwnerFirst,
		LastName:     opts.OwnerLast,
		Phone:        phone,
		IsAdmin:      true,
		AgentTrigger: true,
		LastFamilyID: family.ID,
	}
	if err := stores.Users.Create(ctx, owner); err != nil {
		return fmt.Errorf("seed owner: %w", err)
	}
	if err := stores.Families.AddMembership(ctx, &store.Membership{
		UserID:   owner.ID,
		FamilyID: family.ID,
		Role:     store.RoleOwner,
	}); err != nil {
		return fmt.Errorf("seed membership: %w", err)
	}
	if err := stores.Users.SetLastFamily(ctx, owner.ID, family.ID); err != nil {
		return fmt.Errorf("seed last family: %w", err)
	}
	slog.Info("family seeded", "family", family.Name, "owner", owner.DisplayName())
	return nil
}

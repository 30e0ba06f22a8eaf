// Package tenant maps inbound (transport, chat, principal) triples to the
// (family, user) tenancy pair every downstream read and write is scoped by.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/identity"
	"github.com/bofamily/bo/internal/store"
)

// ErrNoFamily is returned when the principal belongs to no family.
var ErrNoFamily = errors.New("tenant: no family for principal")

// ErrUnknownPrincipal is returned when the owner token matches no user.
var ErrUnknownPrincipal = errors.New("tenant: unknown principal")

// Tenancy is a resolved (family, user) pair.
type Tenancy struct {
	User   *store.User
	Family uuid.UUID
}

// Resolver resolves tenancy for inbound messages.
type Resolver struct {
	users      store.UserStore
	families   store.FamilyStore
	groupChats store.GroupChatStore
}

func NewResolver(users store.UserStore, families store.FamilyStore, groupChats store.GroupChatStore) *Resolver {
	return &Resolver{users: users, families: families, groupChats: groupChats}
}

// ResolveUser finds the user behind an owner token.
func (r *Resolver) ResolveUser(ctx context.Context, owner string) (*store.User, error) {
	owner = identity.Canonical(owner)
	switch {
	case identity.IsTelegram(owner):
		u, err := r.users.GetByTelegramID(ctx, identity.TelegramID(owner))
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownPrincipal
		}
		return u, err
	case identity.IsPhone(owner):
		u, err := r.users.GetByPhone(ctx, owner)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownPrincipal
		}
		return u, err
	default:
		// The default owner is the system admin (self-chat context).
		u, err := r.users.GetAdmin(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrUnknownPrincipal
		}
		return u, err
	}
}

// Resolve maps (chatID, owner) to tenancy. Group chats win over the
// principal's own pointers; otherwise last-active family, then first
// membership by lowest id.
func (r *Resolver) Resolve(ctx context.Context, chatID, owner string) (*Tenancy, error) {
	user, err := r.ResolveUser(ctx, owner)
	if err != nil {
		return nil, err
	}

	if chatID != "" {
		g, err := r.groupChats.GetByChatID(ctx, chatID)
		if err == nil {
			return &Tenancy{User: user, Family: g.FamilyID}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("group chat lookup: %w", err)
		}
	}

	if user.LastFamilyID != uuid.Nil {
		return &Tenancy{User: user, Family: user.LastFamilyID}, nil
	}

	memberships, err := r.families.Memberships(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("memberships: %w", err)
	}
	if len(memberships) == 0 {
		return nil, ErrNoFamily
	}
	return &Tenancy{User: user, Family: memberships[0].FamilyID}, nil
}

// Commit records the resolved family as the user's last-active family.
// Called after a successful pipeline run; failures are non-fatal.
func (r *Resolver) Commit(ctx context.Context, t *Tenancy) {
	if t.User.LastFamilyID == t.Family {
		return
	}
	if err := r.users.SetLastFamily(ctx, t.User.ID, t.Family); err != nil {
		slog.Warn("failed to update last active family",
			"user", t.User.ID, "family", t.Family, "error", err)
	}
}

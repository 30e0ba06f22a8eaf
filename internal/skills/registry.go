// Package skills holds the skill catalog, per-principal access control,
// and the subprocess executor that runs skill entrypoints.
package skills

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/bofamily/bo/internal/store"
)

// Synthetic skills are always effectively available, registered or not.
// They are handled inside the router rather than spawned.
const (
	SkillCreateResponse = "create_a_response"
	SkillFriendMode     = "friend_mode"
	SkillSendToContact  = "send_to_contact"
)

func IsSynthetic(id string) bool {
	switch id {
	case SkillCreateResponse, SkillFriendMode, SkillSendToContact:
		return true
	}
	return false
}

// Registry is the catalog plus access config, loaded fresh per request.
type Registry struct {
	skills map[string]*store.Skill
	access *store.SkillAccess
}

// LoadRegistry reads the catalog and access config from the store.
func LoadRegistry(ctx context.Context, skillStore store.SkillStore) (*Registry, error) {
	list, err := skillStore.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load skill catalog: %w", err)
	}
	access, err := skillStore.Access(ctx)
	if err != nil {
		return nil, fmt.Errorf("load skill access: %w", err)
	}
	byID := make(map[string]*store.Skill, len(list))
	for _, s := range list {
		byID[s.ID] = s
	}
	return &Registry{skills: byID, access: access}, nil
}

// Get returns the registered skill with the given id.
func (r *Registry) Get(id string) (*store.Skill, bool) {
	s, ok := r.skills[id]
	return s, ok
}

// Allowed reports whether the principal may invoke the skill. Synthetic
// skills are always allowed. The effective allow-list is byNumber[p] if
// present, else the default list; if both are empty, everything is
// allowed. Allow-list ids absent from the registry are ignored, so a
// stale entry never grants anything.
func (r *Registry) Allowed(principal, id string) bool {
	if IsSynthetic(id) {
		return true
	}
	allow := r.effectiveList(principal)
	if allow == nil {
		_, ok := r.skills[id]
		return ok
	}
	for _, a := range allow {
		if a == id {
			_, ok := r.skills[id]
			return ok
		}
	}
	return false
}

// Available returns the registered skills the principal may invoke,
// minus any ids in exclude. Used to build the routing prompt's catalog.
func (r *Registry) Available(principal string, exclude ...string) []*store.Skill {
	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []*store.Skill
	for id, s := range r.skills {
		if excluded[id] {
			continue
		}
		if r.Allowed(principal, id) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// CatalogText renders the available skills for prompt inclusion. Lines
// lead with the id, which is what the routing step must echo back.
func (r *Registry) CatalogText(principal string, exclude ...string) string {
	var b strings.Builder
	for _, s := range r.Available(principal, exclude...) {
		fmt.Fprintf(&b, "- %s: %s\n", s.ID, s.Description)
	}
	fmt.Fprintf(&b, "- %s: reply in Bo's own voice\n", SkillCreateResponse)
	fmt.Fprintf(&b, "- %s: supportive, listening conversation\n", SkillFriendMode)
	fmt.Fprintf(&b, "- %s: forward a message to another family member\n", SkillSendToContact)
	return b.String()
}

// effectiveList returns nil when all skills are allowed.
func (r *Registry) effectiveList(principal string) []string {
	if r.access == nil {
		return nil
	}
	if list, ok := r.access.ByNumber[principal]; ok && len(list) > 0 {
		return list
	}
	if len(r.access.Default) > 0 {
		return r.access.Default
	}
	return nil
}

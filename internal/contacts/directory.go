// Package contacts is a derived view over a family's users: display names
// to canonical phone numbers and back.
package contacts

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/bofamily/bo/internal/store"
)

// Contact is one resolvable family member.
type Contact struct {
	User       *store.User
	Name       string // display name
	Number     string // canonical 10-digit phone, may be empty
	TelegramID string
}

// Directory resolves names and numbers within one family.
type Directory struct {
	contacts []Contact
}

// Load builds the directory for a family.
func Load(ctx context.Context, users store.UserStore, familyID uuid.UUID) (*Directory, error) {
	members, err := users.ListByFamily(ctx, familyID)
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}
	d := &Directory{}
	for _, u := range members {
		d.contacts = append(d.contacts, Contact{
			User:       u,
			Name:       u.DisplayName(),
			Number:     u.Phone,
			TelegramID: u.TelegramID,
		})
	}
	return d, nil
}

// Names lists the display names, for prompt context.
func (d *Directory) Names() []string {
	names := make([]string, len(d.contacts))
	for i, c := range d.contacts {
		names[i] = c.Name
	}
	return names
}

// NameForNumber maps a canonical number back to a display name.
func (d *Directory) NameForNumber(number string) (string, bool) {
	for _, c := range d.contacts {
		if c.Number == number && number != "" {
			return c.Name, true
		}
	}
	return "", false
}

// Resolve finds a contact by name: exact full-name match first
// (case-insensitive), else the first contact whose first name equals the
// input's first word exactly. "Cara" resolves to "Cara Hogue" but never
// to "Carrie".
func (d *Directory) Resolve(name string) (*Contact, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, false
	}

	for i := range d.contacts {
		if strings.EqualFold(d.contacts[i].Name, name) {
			return &d.contacts[i], true
		}
	}

	first := strings.ToLower(firstWord(name))
	for i := range d.contacts {
		if strings.ToLower(firstWord(d.contacts[i].Name)) == first {
			return &d.contacts[i], true
		}
	}
	return nil, false
}

func firstWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

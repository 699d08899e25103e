// Package entity defines the identity contract shared by every persisted record
// and the registry that maps persisted type tags back to Go types.
package entity

import (
	"encoding/base64"
	"strings"

	"github.com/google/uuid"
)

// ID is an opaque, globally unique record identifier.
type ID string

// NewID returns a fresh identifier: a random UUID encoded as 22 URL-safe characters.
func NewID() ID {
	raw := uuid.New()
	return ID(base64.RawURLEncoding.EncodeToString(raw[:]))
}

// IsZero reports whether the id is empty.
func (id ID) IsZero() bool {
	return strings.TrimSpace(string(id)) == ""
}

func (id ID) String() string {
	return string(id)
}

// Entity is implemented by every record the store can persist.
type Entity interface {
	EntityID() ID
	SetEntityID(ID)
}

// Base carries the identity of a record. Embed it by value in every record type.
type Base struct {
	ID ID `doc:"id"`
}

// EntityID implements Entity.
func (b *Base) EntityID() ID {
	return b.ID
}

// SetEntityID implements Entity.
func (b *Base) SetEntityID(id ID) {
	b.ID = id
}

// EnsureID assigns a fresh id when e has none and returns the id in effect.
func EnsureID(e Entity) ID {
	if e.EntityID().IsZero() {
		e.SetEntityID(NewID())
	}
	return e.EntityID()
}

// ABOUTME: Store interface and data types for persona-chat persistence
// ABOUTME: Defines the Turn struct and the Store interface for conversation snapshots

package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Role identifies who authored a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn represents a single message in a persona conversation.
// A model turn's Text is empty only while a response is still streaming;
// the store never persists a blank-text turn.
type Turn struct {
	ID        string
	Role      Role
	Text      string
	CreatedAt time.Time
	IsError   bool
	Image     string // optional data URI attached to a model turn
}

// Blank reports whether the turn has no visible text.
// Blank turns are transient streaming placeholders and are never persisted.
func (t *Turn) Blank() bool {
	return strings.TrimSpace(t.Text) == ""
}

// FilterBlank returns turns with all blank-text entries removed.
// Order is preserved. The input slice is not modified.
func FilterBlank(turns []Turn) []Turn {
	out := make([]Turn, 0, len(turns))
	for _, t := range turns {
		if t.Blank() {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Store defines the interface for conversation persistence.
// Each persona owns one independent conversation keyed by its ID, and
// SaveConversation always overwrites the full snapshot for that key.
type Store interface {
	LoadConversation(ctx context.Context, personaID string) ([]Turn, error)
	SaveConversation(ctx context.Context, personaID string, turns []Turn) error
	ClearConversation(ctx context.Context, personaID string) error

	// Close releases any resources held by the store
	Close() error
}

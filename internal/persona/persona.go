// ABOUTME: Persona roster definitions and loading for persona-chat
// ABOUTME: Merges the embedded built-in roster with an optional user TOML file

package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

// ErrNotFound is returned when no persona exists with the requested ID.
var ErrNotFound = errors.New("persona not found")

//go:embed personas.toml
var builtinRoster []byte

// Persona is a fixed chat persona: a display identity bound to a behavioral
// system instruction. Personas are immutable once loaded; the ID keys the
// persisted conversation and the provider session.
type Persona struct {
	ID                string `toml:"id"`
	Name              string `toml:"name"`
	Role              string `toml:"role"`
	Description       string `toml:"description"`
	SystemInstruction string `toml:"system_instruction"`
	Category          string `toml:"category"`
	Color             string `toml:"color"` // display hint only, no behavioral effect
	Model             string `toml:"model"` // optional provider model override
}

type rosterFile struct {
	Personas []Persona `toml:"personas"`
}

// Roster holds the loaded personas in a stable order.
type Roster struct {
	personas []Persona
	byID     map[string]int
}

// LoadBuiltin parses the embedded roster.
func LoadBuiltin() (*Roster, error) {
	var file rosterFile
	if err := toml.Unmarshal(builtinRoster, &file); err != nil {
		return nil, fmt.Errorf("parsing built-in roster: %w", err)
	}
	r := &Roster{byID: make(map[string]int)}
	for _, p := range file.Personas {
		if err := r.add(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Load returns the built-in roster, optionally merged with a user roster file.
// Personas from the file are added to the roster; a matching ID overrides the
// built-in definition. An empty path loads only the built-in roster.
func Load(path string) (*Roster, error) {
	r, err := LoadBuiltin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return r, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading roster file: %w", err)
	}
	var file rosterFile
	if err := toml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing roster file %s: %w", path, err)
	}
	for _, p := range file.Personas {
		if idx, ok := r.byID[p.ID]; ok {
			r.personas[idx] = p
			continue
		}
		if err := r.add(p); err != nil {
			return nil, fmt.Errorf("roster file %s: %w", path, err)
		}
	}
	return r, nil
}

func (r *Roster) add(p Persona) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("persona %q has no id", p.Name)
	}
	if strings.TrimSpace(p.SystemInstruction) == "" {
		return fmt.Errorf("persona %q has no system_instruction", p.ID)
	}
	if _, exists := r.byID[p.ID]; exists {
		return fmt.Errorf("duplicate persona id %q", p.ID)
	}
	r.byID[p.ID] = len(r.personas)
	r.personas = append(r.personas, p)
	return nil
}

// Get returns the persona with the given ID.
func (r *Roster) Get(id string) (Persona, error) {
	idx, ok := r.byID[id]
	if !ok {
		return Persona{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return r.personas[idx], nil
}

// List returns all personas in roster order.
func (r *Roster) List() []Persona {
	out := make([]Persona, len(r.personas))
	copy(out, r.personas)
	return out
}

// Categories returns the distinct categories in sorted order.
func (r *Roster) Categories() []string {
	seen := make(map[string]bool)
	var cats []string
	for _, p := range r.personas {
		if !seen[p.Category] {
			seen[p.Category] = true
			cats = append(cats, p.Category)
		}
	}
	sort.Strings(cats)
	return cats
}

// ByCategory returns personas grouped under the given category, in roster order.
func (r *Roster) ByCategory(category string) []Persona {
	var out []Persona
	for _, p := range r.personas {
		if p.Category == category {
			out = append(out, p)
		}
	}
	return out
}

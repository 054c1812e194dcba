// ABOUTME: Conversation state machine owning the ordered turn list per persona
// ABOUTME: Enforces single-flight streaming, fragment folding, and terminal-state immutability

package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/persona-chat/internal/store"
)

// ErrorReplyText replaces a model turn's text when its stream fails.
// A partially streamed reply is never shown truncated; the whole turn
// becomes this fixed apology.
const ErrorReplyText = "I'm having trouble connecting right now. Please try again."

// ErrTurnInFlight is returned when a user turn arrives while a model
// response is still pending or streaming.
var ErrTurnInFlight = errors.New("a response is still streaming")

// ErrBlankMessage is returned when a user turn has no visible text.
var ErrBlankMessage = errors.New("message text is blank")

// ErrUnknownTurn is returned when the referenced turn does not exist.
var ErrUnknownTurn = errors.New("unknown turn")

// ErrTurnTerminal is returned when mutating a turn that has already
// completed or failed.
var ErrTurnTerminal = errors.New("turn is terminal")

// Conversation owns the ordered message list for a single persona.
// At most one model turn is in flight (pending or streaming) at a time,
// which guarantees the placeholder always directly follows its user turn
// and turns are never reordered.
type Conversation struct {
	mu        sync.Mutex
	personaID string
	turns     []store.Turn
	inFlight  string // turn ID of the pending/streaming model turn, "" if none
	streaming bool   // false while pending, true once the first fragment arrived
}

// New creates a conversation for a persona, optionally restored from a
// persisted snapshot. Residual blank-text turns from a prior interrupted
// session are dropped.
func New(personaID string, restored []store.Turn) *Conversation {
	return &Conversation{
		personaID: personaID,
		turns:     store.FilterBlank(restored),
	}
}

// PersonaID returns the persona this conversation is scoped to.
func (c *Conversation) PersonaID() string {
	return c.personaID
}

// AppendUserTurn appends a user turn and immediately appends an empty
// model placeholder in the pending state. Returns the IDs of both turns.
// Rejected while a model turn is in flight.
func (c *Conversation) AppendUserTurn(text string) (userID, modelID string, err error) {
	if strings.TrimSpace(text) == "" {
		return "", "", ErrBlankMessage
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inFlight != "" {
		return "", "", ErrTurnInFlight
	}

	now := time.Now()
	userID = uuid.New().String()
	modelID = uuid.New().String()

	c.turns = append(c.turns,
		store.Turn{ID: userID, Role: store.RoleUser, Text: text, CreatedAt: now},
		store.Turn{ID: modelID, Role: store.RoleModel, Text: "", CreatedAt: now},
	)
	c.inFlight = modelID
	c.streaming = false

	return userID, modelID, nil
}

// ApplyFragment appends fragment text to the in-flight model turn.
// Growth is monotonic: fragments are only ever concatenated in arrival
// order. The first fragment moves the turn from pending to streaming,
// even when its text is empty.
func (c *Conversation) ApplyFragment(turnID, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.inFlightIndex(turnID)
	if err != nil {
		return err
	}

	c.streaming = true
	c.turns[idx].Text += text
	return nil
}

// SetImage attaches an image data URI to the in-flight model turn.
// When multiple fragments carry images, the last one wins.
func (c *Conversation) SetImage(turnID, dataURI string) error {
	if dataURI == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.inFlightIndex(turnID)
	if err != nil {
		return err
	}

	c.turns[idx].Image = dataURI
	return nil
}

// Finalize completes the in-flight model turn. The turn becomes terminal
// and immutable. A turn still blank at finalize time is an anomaly; it
// stays in memory but is dropped by the store's unconditional blank filter
// on the next save.
func (c *Conversation) Finalize(turnID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.inFlightIndex(turnID); err != nil {
		return err
	}

	c.inFlight = ""
	c.streaming = false
	return nil
}

// Fail marks the in-flight model turn as failed, replacing whatever text
// had accumulated with displayText and setting the error flag. The turn
// becomes terminal; earlier turns are untouched.
func (c *Conversation) Fail(turnID, displayText string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx, err := c.inFlightIndex(turnID)
	if err != nil {
		return err
	}

	c.turns[idx].Text = displayText
	c.turns[idx].IsError = true
	c.inFlight = ""
	c.streaming = false
	return nil
}

// Reset clears the conversation to empty, discarding any in-flight turn.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.turns = nil
	c.inFlight = ""
	c.streaming = false
}

// InFlight reports whether a model turn is pending or streaming.
func (c *Conversation) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight != ""
}

// Streaming reports whether the in-flight turn has received a fragment yet.
func (c *Conversation) Streaming() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight != "" && c.streaming
}

// Snapshot returns a copy of the current turn list in insertion order.
func (c *Conversation) Snapshot() []store.Turn {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]store.Turn, len(c.turns))
	copy(out, c.turns)
	return out
}

// Stable reports whether no turn is pending or streaming, i.e. the
// conversation is safe to persist.
func (c *Conversation) Stable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight == ""
}

// inFlightIndex resolves turnID to its index, requiring it to be the
// current in-flight turn. Callers must hold c.mu.
func (c *Conversation) inFlightIndex(turnID string) (int, error) {
	if c.inFlight != turnID {
		for i := range c.turns {
			if c.turns[i].ID == turnID {
				return 0, fmt.Errorf("%w: %s", ErrTurnTerminal, turnID)
			}
		}
		return 0, fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
	}
	for i := range c.turns {
		if c.turns[i].ID == turnID {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnknownTurn, turnID)
}

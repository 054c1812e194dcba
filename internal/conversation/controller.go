// ABOUTME: Lifecycle controller tying persona selection, sessions, streaming, and persistence together
// ABOUTME: Owns the current conversation+session pair and replaces it wholesale on reset or switch

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/persona-chat/internal/gemini"
	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
)

// ErrNoPersona is returned when sending or resetting before a persona
// has been selected.
var ErrNoPersona = errors.New("no persona selected")

// Session is what the controller needs from the transport layer: a live
// provider-side binding that streams response events for a user message.
type Session interface {
	Stream(ctx context.Context, text string) (<-chan gemini.Event, error)
}

// SessionFactory creates a session bound to a persona's behavioral
// configuration, seeded with prior turns.
type SessionFactory func(ctx context.Context, p persona.Persona, prior []store.Turn) (Session, error)

// Controller coordinates the chat lifecycle for the active persona.
// Exactly one conversation+session pair is live at a time; persona switch
// and reset replace the pair wholesale instead of mutating it. Streams
// belonging to a replaced pair are abandoned: their late events are
// drained without touching live state or the store.
type Controller struct {
	store    store.Store
	factory  SessionFactory
	notifier *Notifier
	logger   *slog.Logger

	mu         sync.Mutex
	selected   bool
	persona    persona.Persona
	conv       *Conversation
	session    Session
	generation uint64
}

// NewController creates a controller. The notifier may be nil when no
// renderer subscribes to change notifications.
func NewController(st store.Store, factory SessionFactory, notifier *Notifier, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:    st,
		factory:  factory,
		notifier: notifier,
		logger:   logger.With("component", "controller"),
	}
}

// Select binds the controller to a persona: the persisted conversation is
// restored, and a fresh session is seeded with its eligible turns. A store
// read failure degrades to an empty conversation; a session construction
// failure is fatal to the binding and returned to the caller, who may
// retry by selecting the persona again.
func (c *Controller) Select(ctx context.Context, p persona.Persona) error {
	restored, err := c.store.LoadConversation(ctx, p.ID)
	if err != nil {
		c.logger.Warn("failed to load conversation history, starting empty",
			"persona_id", p.ID,
			"error", err,
		)
		restored = nil
	}

	conv := New(p.ID, restored)
	session, err := c.factory(ctx, p, eligibleHistory(conv.Snapshot()))
	if err != nil {
		return fmt.Errorf("creating session for persona %s: %w", p.ID, err)
	}

	c.mu.Lock()
	c.selected = true
	c.persona = p
	c.conv = conv
	c.session = session
	c.generation++
	c.mu.Unlock()

	c.logger.Info("persona selected",
		"persona_id", p.ID,
		"restored_turns", len(conv.Snapshot()),
	)
	c.publish(conv)
	return nil
}

// Persona returns the currently selected persona.
func (c *Controller) Persona() (persona.Persona, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persona, c.selected
}

// Snapshot returns the live conversation's turns, or nil before selection.
func (c *Controller) Snapshot() []store.Turn {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return nil
	}
	return conv.Snapshot()
}

// InFlight reports whether a model response is currently streaming.
func (c *Controller) InFlight() bool {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	return conv != nil && conv.InFlight()
}

// Send appends a user turn, streams the model response into its
// placeholder, and returns a channel of transport events for rendering.
// The returned channel closes after the terminal event. While a response
// is in flight, further sends are rejected with ErrTurnInFlight.
func (c *Controller) Send(ctx context.Context, text string) (<-chan gemini.Event, error) {
	c.mu.Lock()
	if !c.selected {
		c.mu.Unlock()
		return nil, ErrNoPersona
	}
	conv := c.conv
	session := c.session
	gen := c.generation
	c.mu.Unlock()

	_, modelID, err := conv.AppendUserTurn(text)
	if err != nil {
		return nil, err
	}
	c.publish(conv)

	stream, err := session.Stream(ctx, text)
	if err != nil {
		// The user turn stays; only the placeholder fails.
		c.failTurn(conv, modelID)
		return nil, fmt.Errorf("starting response stream: %w", err)
	}

	out := make(chan gemini.Event, 16)
	go c.consume(gen, conv, modelID, stream, out)
	return out, nil
}

// Reset clears the live conversation and its store entry and binds a
// brand-new session with no history. Resetting twice is a no-op the
// second time.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	if !c.selected {
		c.mu.Unlock()
		return ErrNoPersona
	}
	p := c.persona
	c.mu.Unlock()

	// Best effort: a failed delete does not block the in-memory reset.
	if err := c.store.ClearConversation(ctx, p.ID); err != nil {
		c.logger.Error("failed to clear conversation store entry",
			"persona_id", p.ID,
			"error", err,
		)
	}

	session, err := c.factory(ctx, p, nil)
	if err != nil {
		// Without a session the binding is unusable; drop it so the
		// user can retry by selecting the persona again.
		c.mu.Lock()
		c.selected = false
		c.conv = nil
		c.session = nil
		c.generation++
		c.mu.Unlock()
		return fmt.Errorf("creating fresh session for persona %s: %w", p.ID, err)
	}

	conv := New(p.ID, nil)
	c.mu.Lock()
	c.conv = conv
	c.session = session
	c.generation++
	c.mu.Unlock()

	c.logger.Info("conversation reset", "persona_id", p.ID)
	c.publish(conv)
	return nil
}

// consume folds stream events into the conversation and forwards them for
// rendering. If the session is replaced mid-stream, remaining events are
// drained without mutating live state or the store.
func (c *Controller) consume(gen uint64, conv *Conversation, modelID string, in <-chan gemini.Event, out chan<- gemini.Event) {
	defer close(out)

	for ev := range in {
		if !c.live(gen) {
			c.logger.Debug("dropping events from abandoned stream",
				"persona_id", conv.PersonaID(),
				"turn_id", modelID,
			)
			go func() {
				for range in {
				}
			}()
			return
		}

		switch ev.Type {
		case gemini.EventText:
			if err := conv.ApplyFragment(modelID, ev.Text); err != nil {
				c.logger.Warn("dropping fragment", "turn_id", modelID, "error", err)
				continue
			}
			if ev.Image != "" {
				if err := conv.SetImage(modelID, ev.Image); err != nil {
					c.logger.Warn("dropping image fragment", "turn_id", modelID, "error", err)
				}
			}
			c.publish(conv)

		case gemini.EventDone:
			if err := conv.Finalize(modelID); err != nil {
				c.logger.Warn("finalize failed", "turn_id", modelID, "error", err)
			}
			c.persist(conv)
			c.publish(conv)

		case gemini.EventError:
			c.failTurn(conv, modelID)
		}

		select {
		case out <- ev:
		case <-time.After(5 * time.Second):
			c.logger.Warn("event channel full, dropping event",
				"persona_id", conv.PersonaID(),
				"event", ev.Type,
			)
		}
	}
}

// failTurn transitions the placeholder to failed with the fixed apology
// text, persists the stable snapshot, and notifies subscribers.
func (c *Controller) failTurn(conv *Conversation, modelID string) {
	if err := conv.Fail(modelID, ErrorReplyText); err != nil {
		c.logger.Warn("fail transition rejected", "turn_id", modelID, "error", err)
		return
	}
	c.persist(conv)
	c.publish(conv)
}

// live reports whether gen is still the current conversation generation.
func (c *Controller) live(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation == gen
}

// persist saves the conversation snapshot with a separate timeout context.
// Persistence is best effort: a write failure is logged and the in-memory
// conversation continues to function for the current session.
func (c *Controller) persist(conv *Conversation) {
	if !conv.Stable() {
		return
	}

	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.store.SaveConversation(saveCtx, conv.PersonaID(), conv.Snapshot()); err != nil {
		c.logger.Error("failed to save conversation",
			"persona_id", conv.PersonaID(),
			"error", err,
		)
	}
}

func (c *Controller) publish(conv *Conversation) {
	if c.notifier == nil {
		return
	}
	c.notifier.Publish(Change{
		PersonaID: conv.PersonaID(),
		Turns:     conv.Snapshot(),
		InFlight:  conv.InFlight(),
	})
}

// eligibleHistory returns the subsequence of turns forwarded as provider
// context: non-error, non-blank, in order.
func eligibleHistory(turns []store.Turn) []store.Turn {
	var out []store.Turn
	for _, t := range turns {
		if t.IsError || t.Blank() {
			continue
		}
		out = append(out, t)
	}
	return out
}

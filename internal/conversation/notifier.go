// ABOUTME: In-memory fan-out notifier for conversation state changes
// ABOUTME: Publishes snapshot updates to all subscribers for rendering

package conversation

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/2389/persona-chat/internal/store"
)

const (
	// subscriberBufferSize is the channel buffer for each subscriber.
	subscriberBufferSize = 64
)

// Change describes one conversation state transition. A change is emitted
// on every mutation: user turn appended, fragment applied, turn finalized
// or failed, conversation reset or replaced.
type Change struct {
	PersonaID string
	Turns     []store.Turn
	InFlight  bool
}

// Notifier provides in-memory pub/sub for conversation changes so a
// renderer can observe state transitions without polling.
type Notifier struct {
	mu          sync.RWMutex
	subscribers map[string]chan Change
	closed      bool
	logger      *slog.Logger
}

// NewNotifier creates a notifier. Pass nil logger for default.
func NewNotifier(logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		subscribers: make(map[string]chan Change),
		logger:      logger.With("component", "notifier"),
	}
}

// Subscribe registers a subscriber for conversation changes. Returns a
// channel that receives changes and a subscription ID for later
// unsubscription. The subscription is automatically cleaned up when ctx
// is cancelled.
func (n *Notifier) Subscribe(ctx context.Context) (<-chan Change, string) {
	subID := uuid.New().String()
	ch := make(chan Change, subscriberBufferSize)

	n.mu.Lock()
	n.subscribers[subID] = ch
	n.mu.Unlock()

	n.logger.Debug("subscriber added", "sub_id", subID)

	go func() {
		<-ctx.Done()
		n.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(subID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if ch, ok := n.subscribers[subID]; ok {
		delete(n.subscribers, subID)
		close(ch)
		n.logger.Debug("subscriber removed", "sub_id", subID)
	}
}

// Publish delivers a change to all subscribers. Slow subscribers with a
// full buffer are skipped rather than blocking the publisher.
func (n *Notifier) Publish(change Change) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return
	}

	for subID, ch := range n.subscribers {
		select {
		case ch <- change:
		default:
			n.logger.Warn("subscriber buffer full, dropping change",
				"sub_id", subID,
				"persona_id", change.PersonaID,
			)
		}
	}
}

// Close shuts down the notifier and closes all subscriber channels.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true
	for subID, ch := range n.subscribers {
		delete(n.subscribers, subID)
		close(ch)
	}
}

// ABOUTME: Tests for the lifecycle Controller
// ABOUTME: Covers streaming round-trips, failure recovery, reset, persona switch, and abandonment

package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/persona-chat/internal/gemini"
	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
)

func testPersona(id string) persona.Persona {
	return persona.Persona{
		ID:                id,
		Name:              "Testy",
		SystemInstruction: "You are a test persona.",
	}
}

func createTestStore(t *testing.T) *store.SQLiteStore {
	tmpDir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(tmpDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func scriptedFactory(f *gemini.ScriptedFactory) SessionFactory {
	return func(ctx context.Context, p persona.Persona, prior []store.Turn) (Session, error) {
		s, err := f.NewSession(ctx, p, prior)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

func drain(ch <-chan gemini.Event) {
	for range ch {
	}
}

func TestController_Send_StreamsIntoPlaceholder(t *testing.T) {
	testStore := createTestStore(t)
	factory := &gemini.ScriptedFactory{
		Session: &gemini.ScriptedSession{Events: []gemini.Event{
			{Type: gemini.EventText, Text: "He"},
			{Type: gemini.EventText, Text: "llo"},
			{Type: gemini.EventText, Text: "!"},
			{Type: gemini.EventDone},
		}},
	}
	ctrl := NewController(testStore, scriptedFactory(factory), nil, nil)
	ctx := context.Background()

	require.NoError(t, ctrl.Select(ctx, testPersona("pm")))

	out, err := ctrl.Send(ctx, "hi")
	require.NoError(t, err)
	drain(out)

	turns := ctrl.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].Text)
	assert.Equal(t, "Hello!", turns[1].Text)
	assert.False(t, turns[1].IsError)
	assert.False(t, ctrl.InFlight())

	// Both turns persisted after the terminal event
	saved, err := testStore.LoadConversation(ctx, "pm")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.Equal(t, "Hello!", saved[1].Text)
}

func TestController_Send_RejectedWhileInFlight(t *testing.T) {
	testStore := createTestStore(t)
	// Script without a terminal event: the stream stalls
	factory := &gemini.ScriptedFactory{
		Session: &gemini.ScriptedSession{Events: []gemini.Event{
			{Type: gemini.EventText, Text: "thinking"},
		}},
	}
	ctrl := NewController(testStore, scriptedFactory(factory), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, ctrl.Select(ctx, testPersona("pm")))

	out, err := ctrl.Send(ctx, "first")
	require.NoError(t, err)

	// Wait for the fragment so the turn is observably streaming
	ev := <-out
	assert.Equal(t, gemini.EventText, ev.Type)

	_, err = ctrl.Send(ctx, "second")
	assert.ErrorIs(t, err, ErrTurnInFlight)
	assert.Len(t, ctrl.Snapshot(), 2, "rejected send must not change conversation length")

	cancel()
	drain(out)
}

func TestController_Send_MidStreamFailureKeepsHistory(t *testing.T) {
	testStore := createTestStore(t)
	factory := &gemini.ScriptedFactory{
		Session: &gemini.ScriptedSession{Events: []gemini.Event{
			{Type: gemini.EventText, Text: "Par"},
			{Type: gemini.EventError, Err: errors.New("connection reset")},
		}},
	}
	ctrl := NewController(testStore, scriptedFactory(factory), nil, nil)
	ctx := context.Background()

	require.NoError(t, ctrl.Select(ctx, testPersona("pm")))

	out, err := ctrl.Send(ctx, "hi")
	require.NoError(t, err)
	drain(out)

	turns := ctrl.Snapshot()
	require.Len(t, turns, 2)
	assert.Equal(t, "hi", turns[0].Text, "prior user turn unaffected")
	assert.Equal(t, ErrorReplyText, turns[1].Text, "partial text replaced, not truncated")
	assert.True(t, turns[1].IsError)

	// The error turn is not blank, so it persists alongside the user turn
	saved, err := testStore.LoadConversation(ctx, "pm")
	require.NoError(t, err)
	require.Len(t, saved, 2)
	assert.True(t, saved[1].IsError)
	assert.Equal(t, ErrorReplyText, saved[1].Text)

	// Conversation remains usable
	assert.False(t, ctrl.InFlight())
	out, err = ctrl.Send(ctx, "try again")
	require.NoError(t, err)
	drain(out)
}

func TestController_Select_SeedsSessionWithEligibleTurns(t *testing.T) {
	testStore := createTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, testStore.SaveConversation(ctx, "pm", []store.Turn{
		{ID: "u1", Role: store.RoleUser, Text: "hi", CreatedAt: now},
		{ID: "m1", Role: store.RoleModel, Text: "Hello!", CreatedAt: now},
		{ID: "u2", Role: store.RoleUser, Text: "again", CreatedAt: now},
		{ID: "m2", Role: store.RoleModel, Text: ErrorReplyText, CreatedAt: now, IsError: true},
	}))

	factory := &gemini.ScriptedFactory{}
	ctrl := NewController(testStore, scriptedFactory(factory), nil, nil)
	require.NoError(t, ctrl.Select(ctx, testPersona("pm")))

	// The restored conversation keeps the error turn for display
	assert.Len(t, ctrl.Snapshot(), 4)

	// But the session seed excludes it
	created := factory.Created()
	require.Len(t, created, 1)
	require.Len(t, created[0].Prior, 3)
	for _, turn := range created[0].Prior {
		assert.False(t, turn.IsError)
	}
}

// failingStore wraps a Store and fails reads
type failingStore struct {
	store.Store
}

func (f *failingStore) LoadConversation(ctx context.Context, personaID string) ([]store.Turn, error) {
	return nil, errors.New("disk on fire")
}

func TestController_Select_ReadFailureDegradesToEmpty(t *testing.T) {
	testStore := createTestStore(t)
	factory := &gemini.ScriptedFactory{}
	ctrl := NewController(&failingStore{Store: testStore}, scriptedFactory(factory), nil, nil)

	err := ctrl.Select(context.Background(), testPersona("pm"))
	require.NoError(t, err, "read failure must not be surfaced")
	assert.Empty(t, ctrl.Snapshot())
}

func TestController_Select_ProviderInitFailureIsFatalToBinding(t *testing.T) {
	testStore := createTestStore(t)
	factory := &gemini.ScriptedFactory{Err: gemini.ErrProviderInit}
	ctrl := NewController(testStore, scriptedFactory(factory), nil, nil)
	ctx := context.Background()

	err := ctrl.Select(ctx, testPersona("pm"))
	require.Error(t, err)
	assert.ErrorIs(t, err, gemini.ErrProviderInit)

	// No binding was established
	_, err = ctrl.Send(ctx, "hi")
	assert.ErrorIs(t, err, ErrNoPersona)

	// Retrying by re-selecting works once the provider recovers
	factory.Err = nil
	require.NoError(t, ctrl.Select(ctx, testPersona("pm")))
	_, selected := ctrl.Persona()
	assert.True(t, selected)
}

func TestController_Reset_IsIdempotent(t *testing.T) {
	testStore := createTestStore(t)
	factory := &gemini.ScriptedFactory{
		Session: &gemini.ScriptedSession{Events: []gemini.Event{
			{Type: gemini.EventText, Text: "Hello!"},
			{Type: gemini.EventDone},
		}},
	}
	ctrl := NewController(testStore, scriptedFactory(factory), nil, nil)
	ctx := context.Background()

	require.NoError(t, ctrl.Select(ctx, testPersona("pm")))
	out, err := ctrl.Send(ctx, "hi")
	require.NoError(t, err)
	drain(out)

	for i := 0; i < 2; i++ {
		require.NoError(t, ctrl.Reset(ctx))

		assert.Empty(t, ctrl.Snapshot())
		saved, err := testStore.LoadConversation(ctx, "pm")
		require.NoError(t, err)
		assert.Empty(t, saved, "store entry must be absent after reset %d", i+1)
	}

	// Reset re-seeds a fresh session with no history
	created := factory.Created()
	require.Len(t, created, 3) // select + two resets
	assert.Empty(t, created[1].Prior)
	assert.Empty(t, created[2].Prior)
}

// manualSession exposes the event channel so tests control event timing
type manualSession struct {
	ch chan gemini.Event
}

func (m *manualSession) Stream(ctx context.Context, text string) (<-chan gemini.Event, error) {
	return m.ch, nil
}

func TestController_SwitchMidStream_AbandonsOldStream(t *testing.T) {
	testStore := createTestStore(t)
	manual := &manualSession{ch: make(chan gemini.Event)}
	scripted := &gemini.ScriptedFactory{}

	calls := 0
	factory := func(ctx context.Context, p persona.Persona, prior []store.Turn) (Session, error) {
		calls++
		if calls == 1 {
			return manual, nil
		}
		s, err := scripted.NewSession(ctx, p, prior)
		if err != nil {
			return nil, err
		}
		return s, nil
	}

	ctrl := NewController(testStore, factory, nil, nil)
	ctx := context.Background()

	require.NoError(t, ctrl.Select(ctx, testPersona("agent-a")))
	out, err := ctrl.Send(ctx, "hi")
	require.NoError(t, err)

	// Deliver a fragment and wait for it to be folded in
	manual.ch <- gemini.Event{Type: gemini.EventText, Text: "Par"}
	ev := <-out
	assert.Equal(t, "Par", ev.Text)

	// Switch to agent B while A's stream is still open
	require.NoError(t, ctrl.Select(ctx, testPersona("agent-b")))

	// Late terminal event from the abandoned stream
	manual.ch <- gemini.Event{Type: gemini.EventDone}
	close(manual.ch)
	drain(out)

	// A's unfinished turn was never persisted: its entry reflects the
	// last stable snapshot, which was empty
	savedA, err := testStore.LoadConversation(ctx, "agent-a")
	require.NoError(t, err)
	assert.Empty(t, savedA)

	// B is live and independent
	p, _ := ctrl.Persona()
	assert.Equal(t, "agent-b", p.ID)
	assert.Empty(t, ctrl.Snapshot())
	assert.False(t, ctrl.InFlight())
}

func TestController_Notifier_PublishesEveryTransition(t *testing.T) {
	testStore := createTestStore(t)
	factory := &gemini.ScriptedFactory{
		Session: &gemini.ScriptedSession{Events: []gemini.Event{
			{Type: gemini.EventText, Text: "He"},
			{Type: gemini.EventText, Text: "llo"},
			{Type: gemini.EventDone},
		}},
	}
	notifier := NewNotifier(nil)
	defer notifier.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, _ := notifier.Subscribe(ctx)

	ctrl := NewController(testStore, scriptedFactory(factory), notifier, nil)
	require.NoError(t, ctrl.Select(ctx, testPersona("pm")))

	out, err := ctrl.Send(ctx, "hi")
	require.NoError(t, err)
	drain(out)

	// select, append, two fragments, finalize
	var got []Change
	timeout := time.After(2 * time.Second)
	for len(got) < 5 {
		select {
		case ch := <-changes:
			got = append(got, ch)
		case <-timeout:
			t.Fatalf("expected 5 changes, got %d", len(got))
		}
	}

	first := got[0]
	assert.Equal(t, "pm", first.PersonaID)
	assert.Empty(t, first.Turns)

	last := got[len(got)-1]
	assert.False(t, last.InFlight)
	require.Len(t, last.Turns, 2)
	assert.Equal(t, "Hello!", last.Turns[1].Text)
}

func TestNotifier_SubscribeUnsubscribe(t *testing.T) {
	n := NewNotifier(nil)
	defer n.Close()

	ctx, cancel := context.WithCancel(context.Background())
	ch, subID := n.Subscribe(ctx)

	n.Publish(Change{PersonaID: "pm"})
	change := <-ch
	assert.Equal(t, "pm", change.PersonaID)

	n.Unsubscribe(subID)
	_, ok := <-ch
	assert.False(t, ok, "channel closes on unsubscribe")

	cancel()
	// Publishing after unsubscribe must not panic
	n.Publish(Change{PersonaID: "pm"})
}

// ABOUTME: Scripted in-memory transport for testing without the Gemini API
// ABOUTME: Replays a fixed event sequence per Stream call, recording sent text

package gemini

import (
	"context"
	"sync"

	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
)

// ScriptedSession replays a fixed sequence of events for each Stream call.
// It records the messages it was asked to send.
type ScriptedSession struct {
	Events []Event

	mu   sync.Mutex
	sent []string
}

// Stream replays the scripted events and closes the channel.
// A script without a terminal event simulates a stalled stream: the
// channel stays open until ctx is cancelled.
func (s *ScriptedSession) Stream(ctx context.Context, text string) (<-chan Event, error) {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	events := make([]Event, len(s.Events))
	copy(events, s.Events)
	s.mu.Unlock()

	terminal := false
	for _, ev := range events {
		if ev.Type == EventDone || ev.Type == EventError {
			terminal = true
		}
	}

	out := make(chan Event, len(events)+1)
	go func() {
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				close(out)
				return
			}
		}
		if terminal {
			close(out)
			return
		}
		<-ctx.Done()
		close(out)
	}()
	return out, nil
}

// Sent returns the messages sent through this session so far.
func (s *ScriptedSession) Sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	copy(out, s.sent)
	return out
}

// ScriptedFactory hands out scripted sessions and records the persona and
// prior-turn seed of every session it created.
type ScriptedFactory struct {
	Session *ScriptedSession
	Err     error // returned from NewSession when set

	mu      sync.Mutex
	created []SessionSeed
}

// SessionSeed captures how a session was constructed.
type SessionSeed struct {
	Persona persona.Persona
	Prior   []store.Turn
}

// NewSession returns the scripted session, or Err if configured.
func (f *ScriptedFactory) NewSession(ctx context.Context, p persona.Persona, prior []store.Turn) (*ScriptedSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	seed := SessionSeed{Persona: p, Prior: append([]store.Turn(nil), prior...)}
	f.created = append(f.created, seed)
	if f.Session == nil {
		f.Session = &ScriptedSession{Events: []Event{{Type: EventDone}}}
	}
	return f.Session, nil
}

// Created returns the seeds of all sessions created so far.
func (f *ScriptedFactory) Created() []SessionSeed {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SessionSeed, len(f.created))
	copy(out, f.created)
	return out
}

// ABOUTME: Gemini streaming transport for persona-chat using google.golang.org/genai
// ABOUTME: Creates per-persona chat sessions and streams responses as event channels

package gemini

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
)

// ErrProviderInit is returned when the Gemini client or a chat session
// cannot be constructed. It is fatal to the current persona binding and
// must be surfaced to the user, never retried silently.
var ErrProviderInit = errors.New("provider initialization failed")

// DefaultModel is used when neither the persona nor the config names one.
const DefaultModel = "gemini-3-flash-preview"

// samplingTemperature is fixed low so replies strictly adhere to the
// persona instruction instead of drifting creatively. Not user-configurable.
const samplingTemperature float32 = 0.5

// EventType categorizes a streaming event.
type EventType string

const (
	EventText  EventType = "text"  // incremental response fragment
	EventDone  EventType = "done"  // stream completed normally
	EventError EventType = "error" // stream failed; no further events follow
)

// Event is one element of a response stream. A stream is a finite, ordered
// sequence of EventText events terminated by exactly one EventDone or
// EventError; nothing is delivered after the terminal event.
type Event struct {
	Type  EventType
	Text  string
	Image string // optional data URI decoded from inline response data
	Err   error  // set for EventError
}

// Client wraps a Gemini API client. It is constructed once at startup with
// explicit credentials and injected into session creation; there is no
// ambient global client.
type Client struct {
	genai  *genai.Client
	model  string
	logger *slog.Logger
}

// NewClient creates a Gemini client using the given API key.
// An empty model falls back to DefaultModel.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: missing API key", ErrProviderInit)
	}
	if model == "" {
		model = DefaultModel
	}

	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderInit, err)
	}

	return &Client{
		genai:  c,
		model:  model,
		logger: slog.Default().With("component", "gemini"),
	}, nil
}

// Session is a single-use binding between a persona's behavioral
// configuration and a provider-side chat context. Sessions are replaced
// wholesale on reset or persona switch, never mutated in place.
type Session struct {
	chat    *genai.Chat
	persona string
	logger  *slog.Logger
}

// NewSession creates a chat session for the persona, seeded with prior
// turns. Error turns and blank turns are excluded from the provider
// context; only role and text are forwarded.
func (c *Client) NewSession(ctx context.Context, p persona.Persona, prior []store.Turn) (*Session, error) {
	model := c.model
	if p.Model != "" {
		model = p.Model
	}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(p.SystemInstruction, genai.RoleUser),
		Temperature:       genai.Ptr(samplingTemperature),
	}

	chat, err := c.genai.Chats.Create(ctx, model, cfg, historyContents(prior))
	if err != nil {
		return nil, fmt.Errorf("%w: creating chat for persona %s: %v", ErrProviderInit, p.ID, err)
	}

	c.logger.Debug("session created",
		"persona_id", p.ID,
		"model", model,
		"history_turns", len(historyContents(prior)),
	)

	return &Session{
		chat:    chat,
		persona: p.ID,
		logger:  c.logger,
	}, nil
}

// Stream sends a user message and returns a channel of response events.
// The channel is closed after the terminal event. Fragments already
// delivered before a failure remain valid; only the unyielded remainder
// of the response is lost.
func (s *Session) Stream(ctx context.Context, text string) (<-chan Event, error) {
	out := make(chan Event, 16)

	go func() {
		defer close(out)

		for resp, err := range s.chat.SendMessageStream(ctx, genai.Part{Text: text}) {
			if err != nil {
				s.logger.Warn("stream failed",
					"persona_id", s.persona,
					"error", err,
				)
				out <- Event{Type: EventError, Err: err}
				return
			}
			out <- Event{
				Type:  EventText,
				Text:  resp.Text(),
				Image: inlineImage(resp),
			}
		}

		out <- Event{Type: EventDone}
	}()

	return out, nil
}

// historyContents maps eligible prior turns to provider history.
func historyContents(prior []store.Turn) []*genai.Content {
	var contents []*genai.Content
	for _, t := range prior {
		if t.IsError || t.Blank() {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if t.Role == store.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(t.Text, role))
	}
	return contents
}

// inlineImage extracts the first inline image from a response chunk as a
// data URI, or returns "" if the chunk carries none.
func inlineImage(resp *genai.GenerateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil {
			return fmt.Sprintf("data:%s;base64,%s",
				part.InlineData.MIMEType,
				base64.StdEncoding.EncodeToString(part.InlineData.Data))
		}
	}
	return ""
}

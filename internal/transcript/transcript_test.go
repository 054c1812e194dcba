// ABOUTME: Tests for HTML transcript export
// ABOUTME: Covers markdown rendering, escaping, error styling, and images

package transcript

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
)

func TestWrite_RendersConversation(t *testing.T) {
	p := persona.Persona{ID: "pm", Name: "Sarah", Role: "Project Manager"}
	now := time.Date(2026, 5, 1, 10, 30, 0, 0, time.UTC)
	turns := []store.Turn{
		{ID: "u1", Role: store.RoleUser, Text: "status <update>?", CreatedAt: now},
		{ID: "m1", Role: store.RoleModel, Text: "**Blockers:** none", CreatedAt: now.Add(time.Second)},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, p, turns))
	html := buf.String()

	assert.Contains(t, html, "Chat with Sarah")
	assert.Contains(t, html, "Project Manager")

	// User text is escaped, not interpreted
	assert.Contains(t, html, "status &lt;update&gt;?")

	// Model text is rendered as markdown
	assert.Contains(t, html, "<strong>Blockers:</strong>")
}

func TestWrite_ErrorTurnsAreNotMarkdown(t *testing.T) {
	p := persona.Persona{ID: "pm", Name: "Sarah"}
	turns := []store.Turn{
		{ID: "m1", Role: store.RoleModel, Text: "I'm having trouble connecting right now. Please try again.", CreatedAt: time.Now(), IsError: true},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, p, turns))

	assert.Contains(t, buf.String(), `class="turn error"`)
}

func TestWrite_IncludesImages(t *testing.T) {
	p := persona.Persona{ID: "artist", Name: "Muse"}
	turns := []store.Turn{
		{ID: "m1", Role: store.RoleModel, Text: "here", CreatedAt: time.Now(), Image: "data:image/png;base64,aGk="},
	}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, p, turns))

	assert.Contains(t, buf.String(), `src="data:image/png;base64,aGk="`)
}

func TestWrite_EmptyConversation(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, persona.Persona{Name: "Sarah"}, nil))
	assert.True(t, strings.Contains(buf.String(), "<h1>"))
}

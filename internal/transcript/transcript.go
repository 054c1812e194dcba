// ABOUTME: Conversation transcript export to standalone HTML
// ABOUTME: Renders model turns as markdown via goldmark inside a minimal template

package transcript

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/yuin/goldmark"

	"github.com/2389/persona-chat/internal/persona"
	"github.com/2389/persona-chat/internal/store"
)

const pageTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Chat with {{.PersonaName}}</title>
<style>
body { max-width: 48rem; margin: 2rem auto; font-family: sans-serif; color: #1e293b; }
.turn { margin: 1rem 0; padding: 0.75rem 1rem; border-radius: 0.75rem; }
.user { background: #eef2ff; }
.model { background: #f8fafc; border: 1px solid #e2e8f0; }
.error { background: #fef2f2; border: 1px solid #fecaca; }
.meta { font-size: 0.75rem; color: #64748b; margin-bottom: 0.25rem; }
img { max-width: 100%; }
</style>
</head>
<body>
<h1>Chat with {{.PersonaName}}</h1>
<p class="meta">{{.PersonaRole}} &mdash; exported {{.ExportedAt}}</p>
{{range .Turns}}<div class="turn {{.Class}}">
<div class="meta">{{.Author}} &middot; {{.When}}</div>
{{.Body}}
{{if .Image}}<img src="{{.Image}}" alt="generated image">{{end}}
</div>
{{end}}</body>
</html>
`

type pageData struct {
	PersonaName string
	PersonaRole string
	ExportedAt  string
	Turns       []turnData
}

type turnData struct {
	Class  string
	Author string
	When   string
	Body   template.HTML
	Image  template.URL
}

// Write renders the conversation as a standalone HTML page.
// Model turns are treated as markdown; user turns and error turns are
// rendered as plain escaped text.
func Write(w io.Writer, p persona.Persona, turns []store.Turn) error {
	data := pageData{
		PersonaName: p.Name,
		PersonaRole: p.Role,
		ExportedAt:  time.Now().Format("2006-01-02 15:04"),
	}

	for _, t := range turns {
		td := turnData{
			When:  t.CreatedAt.Format("2006-01-02 15:04:05"),
			Image: template.URL(t.Image),
		}
		switch {
		case t.Role == store.RoleUser:
			td.Class = "user"
			td.Author = "You"
			td.Body = escaped(t.Text)
		case t.IsError:
			td.Class = "error"
			td.Author = p.Name
			td.Body = escaped(t.Text)
		default:
			td.Class = "model"
			td.Author = p.Name
			td.Body = rendered(t.Text)
		}
		data.Turns = append(data.Turns, td)
	}

	tmpl := template.Must(template.New("transcript").Parse(pageTemplate))
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("rendering transcript: %w", err)
	}
	return nil
}

// rendered converts markdown to HTML, falling back to escaped text on error
func rendered(markdown string) template.HTML {
	var htmlBuf bytes.Buffer
	if err := goldmark.Convert([]byte(markdown), &htmlBuf); err != nil {
		return escaped(markdown)
	}
	return template.HTML(htmlBuf.String())
}

// escaped wraps plain text in a paragraph with HTML escaping
func escaped(text string) template.HTML {
	return template.HTML("<p>" + template.HTMLEscapeString(text) + "</p>")
}

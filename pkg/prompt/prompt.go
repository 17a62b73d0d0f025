// Package prompt renders the model prompts for both chat modes.
package prompt

import (
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"text/template"

	"github.com/johncui/socrate/pkg/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.tmpl"))

// Conversation builds the root-cause-analysis prompt over the full transcript.
func Conversation(turns []model.Turn) (string, error) {
	transcript, err := marshal(turns)
	if err != nil {
		return "", fmt.Errorf("marshal conversation: %w", err)
	}
	return render("conversation.tmpl", map[string]string{
		"Transcript": transcript,
	})
}

// Socratic builds the five-whys prompt for one problem and its dialogue so far.
func Socratic(problem string, turns []model.SocraticTurn) (string, error) {
	transcript, err := marshal(turns)
	if err != nil {
		return "", fmt.Errorf("marshal dialogue: %w", err)
	}
	return render("socratic.tmpl", map[string]string{
		"Problem":    problem,
		"Transcript": transcript,
	})
}

func render(name string, data any) (string, error) {
	var b strings.Builder
	if err := templates.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return b.String(), nil
}

// marshal keeps user text readable: no \u0026-style escaping of &, < and >.
func marshal(v any) (string, error) {
	var b strings.Builder
	enc := json.NewEncoder(&b)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(b.String(), "\n"), nil
}

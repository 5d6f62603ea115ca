package insight

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mooncourt/arcana/session"
	"github.com/mooncourt/arcana/spread"
)

// ErrNoTemplate is returned when a session's category has no prompt template.
// This is a configuration error, not a transient one: the job fails
// permanently and an operator gets alerted, retrying would not help.
var ErrNoTemplate = errors.New("no prompt template for category")

// Template shapes the prompt for one reading category.
type Template struct {
	Category session.Category

	// Voice is the category-specific framing prepended to the system prompt.
	Voice string
}

// templates is the built-in template registry, keyed by category.
var templates = map[session.Category]Template{
	session.CategoryGeneral: {
		Category: session.CategoryGeneral,
		Voice:    "Give a balanced, grounded reading that speaks to the situation as a whole.",
	},
	session.CategoryLove: {
		Category: session.CategoryLove,
		Voice:    "Focus on relationships, emotional currents, and connection. Be warm but honest.",
	},
	session.CategoryCareer: {
		Category: session.CategoryCareer,
		Voice:    "Focus on work, ambition, and practical next steps. Be concrete and actionable.",
	},
	session.CategorySpirituality: {
		Category: session.CategorySpirituality,
		Voice:    "Focus on inner growth, meaning, and the querent's path. Invite reflection.",
	},
}

// TemplateFor returns the template for a category.
func TemplateFor(category session.Category) (Template, error) {
	t, ok := templates[category]
	if !ok {
		return Template{}, fmt.Errorf("category %q: %w", category, ErrNoTemplate)
	}
	return t, nil
}

// SystemPrompt returns the fixed system message for this template.
func (t Template) SystemPrompt() string {
	return fmt.Sprintf(`You are an experienced tarot reader drafting interpretation notes for another professional reader. %s

Respond with a JSON object in this exact shape:

{
  "overall_message": "the headline interpretation of the reading as a whole",
  "key_themes": ["short theme", "short theme"],
  "guidance": "practical guidance for the querent",
  "card_notes": [
    {"position": "position name", "card": "card name", "note": "what this card means here"}
  ]
}

"overall_message" is required. The other fields are optional but encouraged.
Do not include any text outside the JSON object.`, t.Voice)
}

// Render builds the user prompt deterministically from the session, its
// spread, and the opened cards. It is pure: safe to re-run on retry without
// side effects. Unopened slots are skipped so a partially completed session
// can still be interpreted.
func (t Template) Render(sess *session.ReadingSession, def *spread.Definition) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Spread: %s\n", def.Name)
	fmt.Fprintf(&b, "Question: %s\n\n", sess.Question)
	b.WriteString("Cards drawn, in opening order:\n")

	for _, slot := range sess.Slots {
		if !slot.Opened || slot.Card == nil {
			continue
		}
		pos := def.Positions[slot.Index]
		orientation := "upright"
		if slot.IsReversed {
			orientation = "reversed"
		}
		fmt.Fprintf(&b, "%d. %s - %s (%s): %s\n",
			slot.Index+1, pos.Name, slot.Card.Name, orientation, slot.Card.Meaning(slot.IsReversed))
	}

	return b.String()
}

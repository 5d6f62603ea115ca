// Package insight models the AI interpretation of a completed reading: the
// job that produces it, the prompt templates it is rendered from, response
// validation, and the confidence heuristic.
package insight

import (
	"time"
)

// CardNote is a per-position remark in a structured interpretation.
type CardNote struct {
	Position string `json:"position"`
	Card     string `json:"card"`
	Note     string `json:"note"`
}

// Insight is the validated output of the generation pipeline for one session.
// Immutable once persisted; one-to-one with a succeeded job.
type Insight struct {
	SessionID string `json:"session_id"`

	// OverallMessage is the headline interpretation. When the model response
	// cannot be parsed into structure at all, the raw text lands here and
	// Degraded is set; the insight still counts as succeeded.
	OverallMessage string `json:"overall_message"`

	KeyThemes []string   `json:"key_themes,omitempty"`
	Guidance  string     `json:"guidance,omitempty"`
	CardNotes []CardNote `json:"card_notes,omitempty"`

	// Confidence is the heuristic score in [0,1].
	Confidence float64 `json:"confidence"`

	// Degraded marks an insight built from an unparseable model response.
	Degraded bool `json:"degraded,omitempty"`

	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HumanInterpretation is the reader-authored interpretation for a session.
type HumanInterpretation struct {
	SessionID string    `json:"session_id"`
	ReaderID  string    `json:"reader_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

package insight

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/mooncourt/arcana/llm"
)

// rawInsight is the expected response schema. Only overall_message is
// required; the rest are optional sections.
type rawInsight struct {
	OverallMessage string     `json:"overall_message"`
	KeyThemes      []string   `json:"key_themes"`
	Guidance       string     `json:"guidance"`
	CardNotes      []CardNote `json:"card_notes"`
}

// Validate turns raw model output into an Insight. A response that cannot be
// parsed as the expected schema degrades into a single free-text insight
// instead of failing: a human reader downstream can still use unstructured
// guidance, so reduced structure beats no insight. Missing optional fields
// are logged, not fatal.
func Validate(sessionID, content string, logger *slog.Logger) *Insight {
	if logger == nil {
		logger = slog.Default()
	}

	ins := &Insight{SessionID: sessionID}

	extracted := llm.ExtractJSON(content)
	if extracted == "" {
		logger.Warn("model response contains no JSON, degrading to free text", "session_id", sessionID)
		return degrade(ins, content)
	}

	var raw rawInsight
	if err := json.Unmarshal([]byte(extracted), &raw); err != nil {
		logger.Warn("model response JSON does not unmarshal, degrading to free text",
			"session_id", sessionID, "error", err)
		return degrade(ins, content)
	}
	if strings.TrimSpace(raw.OverallMessage) == "" {
		logger.Warn("model response missing overall_message, degrading to free text", "session_id", sessionID)
		return degrade(ins, content)
	}

	ins.OverallMessage = strings.TrimSpace(raw.OverallMessage)
	ins.KeyThemes = compactStrings(raw.KeyThemes)
	ins.Guidance = strings.TrimSpace(raw.Guidance)
	ins.CardNotes = compactNotes(raw.CardNotes)

	if len(ins.KeyThemes) == 0 {
		logger.Debug("insight missing optional key_themes", "session_id", sessionID)
	}
	if ins.Guidance == "" {
		logger.Debug("insight missing optional guidance", "session_id", sessionID)
	}
	if len(ins.CardNotes) == 0 {
		logger.Debug("insight missing optional card_notes", "session_id", sessionID)
	}

	return ins
}

func degrade(ins *Insight, content string) *Insight {
	ins.OverallMessage = strings.TrimSpace(content)
	ins.Degraded = true
	return ins
}

func compactStrings(in []string) []string {
	out := in[:0]
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func compactNotes(in []CardNote) []CardNote {
	out := in[:0]
	for _, n := range in {
		if strings.TrimSpace(n.Note) != "" {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

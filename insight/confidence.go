package insight

// ConfidenceParams tunes the confidence heuristic. The constants behind the
// defaults are product choices with no deeper rationale, so they live in
// configuration rather than code.
type ConfidenceParams struct {
	// Base is the starting score for a structured insight.
	Base float64 `yaml:"base"`

	// SectionBonus is added once per populated optional section
	// (key themes, guidance, card notes).
	SectionBonus float64 `yaml:"section_bonus"`

	// ReversedPenalty scales the deduction for the reversed-card ratio:
	// more reversed cards means more interpretive ambiguity.
	ReversedPenalty float64 `yaml:"reversed_penalty"`

	// DegradedScore is the fixed score for a free-text-only insight.
	DegradedScore float64 `yaml:"degraded_score"`
}

// DefaultConfidenceParams returns the stock heuristic parameters.
func DefaultConfidenceParams() ConfidenceParams {
	return ConfidenceParams{
		Base:            0.5,
		SectionBonus:    0.1,
		ReversedPenalty: 0.3,
		DegradedScore:   0.25,
	}
}

// Score computes the confidence for an insight given the session's
// reversed-card ratio. The result is always clamped to [0,1], and for a fixed
// structure it decreases monotonically as the reversed ratio grows.
func (p ConfidenceParams) Score(ins *Insight, reversedRatio float64) float64 {
	if ins.Degraded {
		return clamp01(p.DegradedScore - p.ReversedPenalty*reversedRatio)
	}

	score := p.Base
	if len(ins.KeyThemes) > 0 {
		score += p.SectionBonus
	}
	if ins.Guidance != "" {
		score += p.SectionBonus
	}
	if len(ins.CardNotes) > 0 {
		score += p.SectionBonus
	}
	score -= p.ReversedPenalty * reversedRatio

	return clamp01(score)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

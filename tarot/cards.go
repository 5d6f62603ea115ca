// Package tarot provides the card catalog and per-session deck mechanics.
package tarot

// Card is one tarot card with its upright and reversed meanings.
// The catalog is immutable; sessions share it read-only.
type Card struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Upright  string `json:"upright" yaml:"upright"`
	Reversed string `json:"reversed" yaml:"reversed"`
}

// MajorArcana is the default deck: the 22 major arcana in traditional order.
var MajorArcana = []Card{
	{ID: "major-00", Name: "The Fool", Upright: "new beginnings, spontaneity, a leap of faith", Reversed: "recklessness, hesitation, a risk taken blindly"},
	{ID: "major-01", Name: "The Magician", Upright: "willpower, resourcefulness, manifestation", Reversed: "manipulation, untapped talent, illusion"},
	{ID: "major-02", Name: "The High Priestess", Upright: "intuition, inner knowledge, the subconscious", Reversed: "secrets withheld, a silenced inner voice"},
	{ID: "major-03", Name: "The Empress", Upright: "abundance, nurturing, creative growth", Reversed: "dependence, creative block, smothering"},
	{ID: "major-04", Name: "The Emperor", Upright: "structure, authority, stability", Reversed: "rigidity, domination, loss of control"},
	{ID: "major-05", Name: "The Hierophant", Upright: "tradition, guidance, shared values", Reversed: "rebellion, dogma questioned, unconventional paths"},
	{ID: "major-06", Name: "The Lovers", Upright: "union, alignment, a heartfelt choice", Reversed: "disharmony, misaligned values, avoidance of choice"},
	{ID: "major-07", Name: "The Chariot", Upright: "determination, momentum, disciplined victory", Reversed: "scattered force, loss of direction, opposition"},
	{ID: "major-08", Name: "Strength", Upright: "courage, patience, gentle power", Reversed: "self-doubt, raw emotion, inner weakness"},
	{ID: "major-09", Name: "The Hermit", Upright: "introspection, solitude, inner guidance", Reversed: "isolation, withdrawal, lost perspective"},
	{ID: "major-10", Name: "Wheel of Fortune", Upright: "cycles, turning points, fortune in motion", Reversed: "resistance to change, a cycle repeating"},
	{ID: "major-11", Name: "Justice", Upright: "fairness, truth, cause and effect", Reversed: "imbalance, avoidance of accountability"},
	{ID: "major-12", Name: "The Hanged Man", Upright: "surrender, new perspective, pause", Reversed: "stalling, needless sacrifice, indecision"},
	{ID: "major-13", Name: "Death", Upright: "endings, transformation, release", Reversed: "clinging to the past, stagnation, feared change"},
	{ID: "major-14", Name: "Temperance", Upright: "balance, moderation, patient blending", Reversed: "excess, imbalance, competing currents"},
	{ID: "major-15", Name: "The Devil", Upright: "attachment, temptation, material focus", Reversed: "release from bondage, reclaimed power"},
	{ID: "major-16", Name: "The Tower", Upright: "sudden upheaval, revelation, collapse of the false", Reversed: "disaster averted, feared change, slow demolition"},
	{ID: "major-17", Name: "The Star", Upright: "hope, renewal, quiet faith", Reversed: "discouragement, faith tested, dimmed inspiration"},
	{ID: "major-18", Name: "The Moon", Upright: "intuition, uncertainty, the unseen", Reversed: "clarity emerging, fear released, confusion lifting"},
	{ID: "major-19", Name: "The Sun", Upright: "joy, vitality, success in the open", Reversed: "clouded optimism, delayed joy, dimmed confidence"},
	{ID: "major-20", Name: "Judgement", Upright: "awakening, reckoning, a clear call", Reversed: "self-doubt, an ignored call, harsh self-judgement"},
	{ID: "major-21", Name: "The World", Upright: "completion, wholeness, arrival", Reversed: "loose ends, incomplete closure, a delayed finish"},
}

// ByID returns the card with the given id from the default deck, if present.
func ByID(id string) (Card, bool) {
	for _, c := range MajorArcana {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// Meaning returns the card meaning for the given orientation.
func (c Card) Meaning(reversed bool) string {
	if reversed {
		return c.Reversed
	}
	return c.Upright
}
